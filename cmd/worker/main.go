package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okarlsson/imagepress/internal/config"
	"github.com/okarlsson/imagepress/internal/jobstate"
	"github.com/okarlsson/imagepress/internal/pipeline"
	"github.com/okarlsson/imagepress/internal/storage"
	"github.com/okarlsson/imagepress/internal/telemetry"
	"github.com/okarlsson/imagepress/internal/webhook"
	"github.com/okarlsson/imagepress/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imagepress-worker",
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

	processor, err := pipeline.NewProcessor(storageClient, tracker)
	if err != nil {
		logger.Fatalf("processor setup failed: %v", err)
	}

	notifier := webhook.NewClient(webhook.Config{
		Endpoint:      cfg.Webhook.Endpoint,
		SigningSecret: cfg.Webhook.Secret,
	})

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, processor, tracker, notifier)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", srv.MetricsHandler())
		mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := http.ListenAndServe(cfg.Worker.MetricsAddr, mux); err != nil {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d queue=%s redis=%s bucket=%s",
		cfg.Worker.Concurrency,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		cfg.Storage.Bucket,
	)
	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}
