package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 3001

	// Generation
	RequestTimeout time.Duration // default: 5m

	// Credentials, keyed by credential key ("openai", "claude", ...)
	APIKeys map[string]string

	// Providers
	CustomProviderURL   string
	CustomProviderModel string
	ProvidersFile       string

	// Rendering
	PlantUMLServers     []string
	PlantUMLPublicURL   string
	RenderTimeoutLocal  time.Duration // default: 8s
	RenderTimeoutPublic time.Duration // default: 30s
	RenderCacheTTL      time.Duration // default: 1h

	// Optional backends
	PostgresDSN string
	RedisAddr   string

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate Limiting
	RateLimitPerMinute int64 // generation requests per client, default: 30
}

var apiKeyEnv = map[string][]string{
	"openai":   {"OPENAI_API_KEY"},
	"claude":   {"CLAUDE_API_KEY", "ANTHROPIC_API_KEY"},
	"deepseek": {"DEEPSEEK_API_KEY"},
	"kimi":     {"KIMI_API_KEY"},
	"gemini":   {"GEMINI_API_KEY"},
	"qwen":     {"QWEN_API_KEY"},
	"custom":   {"CUSTOM_API_KEY"},
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "3001"),
		APIKeys:              loadAPIKeys(),
		CustomProviderURL:    strings.TrimSpace(os.Getenv("CUSTOM_PROVIDER_URL")),
		CustomProviderModel:  getEnv("CUSTOM_PROVIDER_MODEL", "custom-model"),
		ProvidersFile:        os.Getenv("PROVIDERS_FILE"),
		PlantUMLServers:      splitList(getEnv("PLANTUML_SERVERS", "http://localhost:8080,https://plantuml-server.kkeisuke.dev,https://www.plantuml.com/plantuml")),
		PlantUMLPublicURL:    strings.TrimRight(getEnv("PLANTUML_PUBLIC_URL", "https://www.plantuml.com/plantuml"), "/"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RenderTimeoutLocal, err = getDuration("RENDER_TIMEOUT_LOCAL", 8*time.Second); err != nil {
		return nil, err
	}
	if cfg.RenderTimeoutPublic, err = getDuration("RENDER_TIMEOUT_PUBLIC", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.RenderCacheTTL, err = getDuration("RENDER_CACHE_TTL", time.Hour); err != nil {
		return nil, err
	}

	// Rate Limiting Default
	rpmStr := getEnv("RATE_LIMIT_PER_MINUTE", "30")
	rpm, err := strconv.ParseInt(rpmStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %w", err)
	}
	cfg.RateLimitPerMinute = rpm

	// Validation
	if len(cfg.PlantUMLServers) == 0 {
		return nil, fmt.Errorf("PLANTUML_SERVERS must list at least one server")
	}
	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	return cfg, nil
}

func loadAPIKeys() map[string]string {
	keys := make(map[string]string)
	for name, vars := range apiKeyEnv {
		for _, v := range vars {
			if key := strings.TrimSpace(os.Getenv(v)); key != "" {
				keys[name] = key
				break
			}
		}
	}
	return keys
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimRight(strings.TrimSpace(part), "/")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
