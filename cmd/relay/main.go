package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dunamismax/vintagebooth/internal/api"
	"github.com/dunamismax/vintagebooth/internal/config"
	"github.com/dunamismax/vintagebooth/internal/filter"
	"github.com/dunamismax/vintagebooth/internal/provider"
	"github.com/dunamismax/vintagebooth/internal/queue"
	"github.com/dunamismax/vintagebooth/internal/ratelimit"
	"github.com/dunamismax/vintagebooth/internal/relay"
	"github.com/dunamismax/vintagebooth/internal/storage"
	"github.com/dunamismax/vintagebooth/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[relay] ", log.LstdFlags|log.Lmsgprefix)

	if err := filter.Startup(); err != nil {
		logger.Fatalf("filter runtime failed: %v", err)
	}
	defer filter.Shutdown()

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), cfg.Tracing, "relay", logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	p, err := provider.New(cfg.Provider, &http.Client{Timeout: cfg.Relay.ProviderTimeout}, logger)
	if err != nil {
		logger.Fatalf("provider setup failed: %v", err)
	}

	opts := relay.OptionsFromConfig(cfg.Relay, cfg.Provider)
	if cfg.Relay.Staging != config.StagingOff {
		objects, err := storage.NewClient(cfg.Storage)
		if err != nil {
			logger.Fatalf("storage setup failed: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := objects.EnsureBucket(ctx); err != nil {
			logger.Printf("bucket %s unavailable, staging providers will fail: %v", objects.Bucket(), err)
		}
		cancel()
		opts.Artifacts = storage.NewStager(objects, cfg.Relay.ArtifactURLTTL)
	}

	if cfg.Queue.Enabled {
		queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.Printf("queue client close error: %v", err)
			}
		}()
		opts.Cleanup = queueClient
	}

	r := relay.New(logger, p, opts)

	apiOpts := api.Options{
		StaticDir:              cfg.Relay.StaticDir,
		AllowedOrigins:         cfg.Relay.AllowedOrigins,
		MaxBodyBytes:           cfg.Relay.MaxBodyBytes,
		RateLimitSubjectHeader: cfg.RateLimit.SubjectHeader,
		Collectors:             r.Collectors(),
	}
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Printf("redis client close error: %v", err)
			}
		}()
		limiter, err := ratelimit.New(redisClient, ratelimit.Config{
			Capacity: cfg.RateLimit.Capacity,
			Window:   cfg.RateLimit.Window,
			CostUnit: cfg.RateLimit.CostUnitBytes,
		})
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		apiOpts.RateLimiter = limiter
	}

	app := api.NewServer(logger, r, apiOpts)

	httpServer := &http.Server{
		Addr:         cfg.Relay.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Relay.ProviderTimeout*time.Duration(max(1, cfg.Relay.MaxAttempts)) + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s provider=%s staging=%s", cfg.Relay.Addr, p.Name(), cfg.Relay.Staging)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}
