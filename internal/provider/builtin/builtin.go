// Package builtin assembles the provider registry from the built-in provider
// set, the configured custom endpoint and an optional YAML catalog.
package builtin

import (
	"fmt"

	"github.com/vnmchuo/umlgen/config"
	"github.com/vnmchuo/umlgen/internal/provider"
	"github.com/vnmchuo/umlgen/internal/provider/claude"
	"github.com/vnmchuo/umlgen/internal/provider/gemini"
	"github.com/vnmchuo/umlgen/internal/provider/openai"
	"github.com/vnmchuo/umlgen/internal/provider/qwen"
)

// Specs returns the built-in providers. The custom provider is only included
// when customURL is set.
func Specs(customURL, customModel string) []provider.Spec {
	specs := []provider.Spec{
		openai.New(openai.Options{
			ID:            "chatgpt",
			Name:          "OpenAI ChatGPT",
			Description:   "GPT-4o via the OpenAI chat completions API",
			Model:         "gpt-4o",
			Models:        []string{"gpt-4o", "gpt-4", "gpt-4-turbo", "gpt-3.5-turbo"},
			CredentialKey: "openai",
			Temperature:   openai.Float(0.7),
		}),
		claude.New(claude.Options{
			ID:          "claude",
			Name:        "Anthropic Claude",
			Description: "Claude 3.5 Sonnet via the Anthropic messages API",
			Model:       "claude-3-5-sonnet-20241022",
			Models:      []string{"claude-3-5-sonnet-20241022", "claude-3-sonnet-20240229", "claude-3-haiku-20240307"},
			MaxTokens:   4000,
		}),
		openai.New(openai.Options{
			ID:          "deepseek",
			Name:        "DeepSeek",
			Description: "DeepSeek chat models",
			Endpoint:    "https://api.deepseek.com/v1/chat/completions",
			Model:       "deepseek-chat",
			Models:      []string{"deepseek-chat", "deepseek-coder"},
		}),
		openai.New(openai.Options{
			ID:          "kimi",
			Name:        "Kimi (Moonshot)",
			Description: "Moonshot long-context models",
			Endpoint:    "https://api.moonshot.cn/v1/chat/completions",
			Model:       "moonshot-v1-32k",
			Models:      []string{"moonshot-v1-32k", "moonshot-v1-8k", "moonshot-v1-128k"},
			Temperature: openai.Float(0.3),
		}),
		gemini.New(gemini.Options{
			ID:          "gemini",
			Name:        "Google Gemini",
			Description: "Gemini 1.5 Pro via generateContent",
			Model:       "gemini-1.5-pro",
			Models:      []string{"gemini-1.5-pro", "gemini-1.5-flash", "gemini-pro"},
			Temperature: 0.7,
			MaxTokens:   4000,
		}),
		qwen.New(qwen.Options{
			ID:          "qwen",
			Name:        "Qwen (Alibaba Cloud)",
			Description: "Qwen models via DashScope",
			Model:       "qwen-plus",
			Models:      []string{"qwen-plus", "qwen-turbo", "qwen-max"},
			Temperature: 0.7,
			MaxTokens:   4000,
		}),
	}

	if customURL != "" {
		specs = append(specs, openai.New(openai.Options{
			ID:          "custom",
			Name:        "Custom",
			Description: "OpenAI-compatible endpoint configured by the operator",
			Endpoint:    customURL,
			Model:       customModel,
			Temperature: openai.Float(0.7),
		}))
	}
	return specs
}

// FromCatalog turns catalog entries into specs.
func FromCatalog(entries []provider.CatalogEntry) []provider.Spec {
	specs := make([]provider.Spec, 0, len(entries))
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = e.ID
		}
		switch e.Kind {
		case "anthropic":
			specs = append(specs, claude.New(claude.Options{
				ID:            e.ID,
				Name:          name,
				Description:   e.Description,
				Endpoint:      e.Endpoint,
				Model:         e.Model,
				Models:        e.Models,
				CredentialKey: e.CredentialKey,
				MaxTokens:     e.MaxTokens,
			}))
		default:
			specs = append(specs, openai.New(openai.Options{
				ID:            e.ID,
				Name:          name,
				Description:   e.Description,
				Endpoint:      e.Endpoint,
				Model:         e.Model,
				Models:        e.Models,
				CredentialKey: e.CredentialKey,
				Temperature:   e.Temperature,
				MaxTokens:     e.MaxTokens,
				NoStreaming:   !e.StreamEnabled(),
			}))
		}
	}
	return specs
}

// NewRegistry builds the read-only registry for the process.
func NewRegistry(cfg *config.Config) (*provider.Registry, error) {
	specs := Specs(cfg.CustomProviderURL, cfg.CustomProviderModel)
	if cfg.ProvidersFile != "" {
		entries, err := provider.LoadCatalog(cfg.ProvidersFile)
		if err != nil {
			return nil, err
		}
		specs = append(specs, FromCatalog(entries)...)
	}

	reg, err := provider.NewRegistry(specs...)
	if err != nil {
		return nil, fmt.Errorf("build provider registry: %w", err)
	}
	return reg, nil
}
