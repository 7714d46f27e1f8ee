package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"crattend/internal/config"
	"crattend/internal/ledger"
	"crattend/internal/metrics"
	"crattend/internal/queue"
	"crattend/internal/store"
)

// Worker consumes submission messages and writes per-student attendance rows.
func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Client.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis at %s not reachable, consumer will keep retrying", cfg.RedisAddr)
	}

	q := queue.New(cfg.QueueBackend, redisClient.Client, cfg.QueueKey)
	svc := ledger.NewService(ledger.NewRepository(db.Client), q, nil, metrics.New(prometheus.DefaultRegisterer))

	log.Println("worker started, waiting for messages...")
	if err := svc.Consume(ctx, q); err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker stopped")
}
