package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crattend/internal/config"
	"crattend/internal/handler"
	"crattend/internal/httpmiddleware"
	"crattend/internal/ledger"
	"crattend/internal/metrics"
	"crattend/internal/queue"
	"crattend/internal/store"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.Server) error {
	ctx := context.Background()
	m := metrics.New(prometheus.DefaultRegisterer)

	checks := map[string]handler.HealthCheck{}

	var repo ledger.Store
	if cfg.DatabaseURL == "memory" {
		log.Println("using in-memory ledger (DATABASE_URL=memory)")
		repo = ledger.NewMemoryStore()
	} else {
		db, err := store.NewDB(cfg.DatabaseURL)
		if err != nil {
			if db == nil {
				return fmt.Errorf("open db: %w", err)
			}
			log.Printf("warning: db not reachable: %v", err)
		} else if err := db.Migrate(ctx); err != nil {
			return err
		}
		defer db.Close()
		repo = ledger.NewRepository(db.Client)
		checks["db"] = func(ctx context.Context) bool {
			return db.Client.PingContext(ctx) == nil
		}
	}

	var cache ledger.RosterCache
	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer redisClient.Client.Close()
		q = queue.New(cfg.QueueBackend, redisClient.Client, cfg.QueueKey)
		if cfg.RosterCacheTTL > 0 {
			cache = store.NewRosterCache(redisClient.Client, cfg.RosterCacheTTL)
		}
		checks["redis"] = redisClient.Healthy
	}

	svc := ledger.NewService(repo, q, cache, m)

	// Nothing else can drain an in-process queue, so consume it here.
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	if cfg.QueueBackend == "memory" {
		go func() {
			if err := svc.Consume(workerCtx, q); err != nil {
				log.Printf("in-process worker stopped: %v", err)
			}
		}()
		log.Println("in-process worker consuming memory queue")
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, m.RateLimited).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handler.New(svc, checks).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}
