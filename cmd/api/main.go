package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okarlsson/imagepress/internal/api"
	"github.com/okarlsson/imagepress/internal/config"
	"github.com/okarlsson/imagepress/internal/jobstate"
	"github.com/okarlsson/imagepress/internal/queue"
	"github.com/okarlsson/imagepress/internal/ratelimit"
	"github.com/okarlsson/imagepress/internal/storage"
	"github.com/okarlsson/imagepress/internal/store"
	"github.com/okarlsson/imagepress/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imagepress-api",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatalf("storage client setup failed: %v", err)
	}

	bucketCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	if err := storageClient.EnsureBucket(bucketCtx); err != nil {
		cancel()
		logger.Fatalf("bucket bootstrap failed: %v", err)
	}
	cancel()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	defer redisClient.Close()

	tracker, err := jobstate.NewRedisTracker(redisClient, "imagepress:job", cfg.Queue.ResultTTL)
	if err != nil {
		logger.Fatalf("job tracker setup failed: %v", err)
	}

	var uploads store.UploadStore = store.NewMemoryUploadStore()
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresUploadStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("upload store setup failed: %v", err)
		}
		defer pg.Close()
		uploads = pg
		logger.Printf("upload store backed by postgres")
	}

	var limiter api.RateLimiter
	if cfg.API.RateLimit > 0 {
		limiter, err = ratelimit.NewRedisFixedWindow(redisClient, cfg.API.RateLimit, cfg.API.RateLimitWindow, "imagepress:ratelimit")
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
	}

	app := api.NewServer(logger, queueClient, tracker, storageClient, uploads, limiter, cfg.API.UploadMaxBytes)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s bucket=%s queue=%s", cfg.API.Addr, cfg.Storage.Bucket, cfg.Queue.Name)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}
