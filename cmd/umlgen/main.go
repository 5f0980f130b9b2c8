package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/umlgen/config"
	"github.com/vnmchuo/umlgen/internal/api"
	"github.com/vnmchuo/umlgen/internal/credential"
	"github.com/vnmchuo/umlgen/internal/llm"
	"github.com/vnmchuo/umlgen/internal/provider/builtin"
	"github.com/vnmchuo/umlgen/internal/render"
	"github.com/vnmchuo/umlgen/internal/seeder"
	"github.com/vnmchuo/umlgen/internal/service"
	"github.com/vnmchuo/umlgen/internal/telemetry"
	"github.com/vnmchuo/umlgen/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("umlgen", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	ctx := context.Background()

	// 3. Providers
	registry, err := builtin.NewRegistry(cfg)
	if err != nil {
		log.Fatalf("failed to build providers: %v", err)
	}
	log.Printf("Providers: %v", registry.IDs())

	// 4. Credentials: environment first, then PostgreSQL if configured
	creds := credential.Chain{credential.MapStore(cfg.APIKeys)}
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("failed to connect postgres: %v", err)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			log.Fatalf("failed to ping postgres: %v", err)
		}
		log.Println("PostgreSQL connected")

		if os.Getenv("RUN_SEED") == "true" {
			if err := seeder.SeedCredentials(ctx, pool, cfg.APIKeys); err != nil {
				log.Printf("[Seeder] skipped: %v", err)
			}
		}
		creds = append(creds, credential.NewPostgresStore(pool))
	}

	// 5. Redis: render cache and rate limiting
	var renderOpts []render.Option
	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to ping redis: %v", err)
		}
		log.Println("Redis connected")

		renderOpts = append(renderOpts, render.WithCache(render.NewRedisCache(rdb), cfg.RenderCacheTTL))
		if cfg.RateLimitPerMinute > 0 {
			limiter = ratelimit.NewLimiter(rdb, cfg.RateLimitPerMinute)
		}
	} else {
		log.Println("REDIS_ADDR not set: render cache and rate limiting disabled")
	}

	// 6. Renderer
	renderOpts = append(renderOpts, render.WithPublicURL(cfg.PlantUMLPublicURL))
	renderer := render.New(
		render.Endpoints(cfg.PlantUMLServers, cfg.RenderTimeoutLocal, cfg.RenderTimeoutPublic),
		renderOpts...,
	)

	// 7. Service and HTTP handlers
	tracer := otel.GetTracerProvider().Tracer("umlgen")
	client := llm.New(llm.WithTimeout(cfg.RequestTimeout))
	svc := service.New(registry, creds, client, renderer, tracer)
	handler := api.NewHandler(svc, limiter)

	// 8. Graceful shutdown
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     handler.Routes(),
		ReadTimeout: 30 * time.Second,
		// Streams may run for the whole generation budget.
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("umlgen starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
