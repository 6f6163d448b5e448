package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/duskcourt/loupgarou-engine/internal/cache"
	"github.com/duskcourt/loupgarou-engine/internal/clock"
	"github.com/duskcourt/loupgarou-engine/internal/config"
	"github.com/duskcourt/loupgarou-engine/internal/gamerun"
	"github.com/duskcourt/loupgarou-engine/internal/observability"
	"github.com/duskcourt/loupgarou-engine/internal/queue"
	"github.com/duskcourt/loupgarou-engine/internal/store"
)

// main boots the game engine core: no HTTP game API, no chat/voice
// front-end, no authentication — a presentation adapter talks to the
// Registry in-process or over whatever transport it brings. What's
// wired here is the engine's own ambient stack (store, cache, durable
// timers, metrics) plus crash recovery.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("warning: .env file not found")
	}

	cfg := config.Load()

	logger, err := observability.SetupLogger()
	if err != nil {
		log.Fatalf("cannot init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := observability.SetupTracerProvider(ctx, "loupgarou-engine", cfg.TraceStdout, logger)
	if err != nil {
		logger.Fatal("cannot init tracer", zap.Error(err))
	}
	defer tp.Shutdown(ctx)

	db, err := store.ConnectMySQL(cfg.DBDSN)
	var st *store.Store
	if err != nil {
		logger.Warn("cannot connect db, falling back to in-memory store", zap.Error(err))
		st = store.NewMemoryStore()
	} else {
		defer db.Close()
		st = store.New(db)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	rcache := cache.New(cfg.RedisAddr, "", 0, 30*time.Second)
	if err := rcache.Ping(ctx); err != nil {
		logger.Warn("cannot reach redis, snapshot reads fall back to the registry", zap.Error(err))
	}
	defer rcache.Close()

	var taskQueue *queue.Queue
	if cfg.RabbitMQURL != "" {
		taskQueue, err = queue.New(queue.Config{
			URL:       cfg.RabbitMQURL,
			QueueName: "loupgarou_timers",
			Prefetch:  10,
			Logger:    observability.ZapToSlog(logger),
		})
		if err != nil {
			logger.Warn("cannot connect to rabbitmq, durable timer redelivery disabled", zap.Error(err))
			taskQueue = nil
		} else {
			defer taskQueue.Close()
		}
	}

	clk := clock.New(nil, taskQueue, logger)

	reg := gamerun.New(ctx, gamerun.Params{
		Store:   st,
		Cache:   rcache,
		Clock:   clk,
		Logger:  logger,
		Metrics: metrics,
		Config:  cfg,
	})
	clk.SetDispatcher(reg)
	defer reg.Shutdown()

	if taskQueue != nil {
		taskQueue.RegisterHandler(queue.TaskTypeTimerFire, clk.HandleDurableFire)
		if err := taskQueue.Start(ctx); err != nil {
			logger.Error("failed to start task queue", zap.Error(err))
		}
	}

	if err := reg.Recover(ctx); err != nil {
		logger.Error("recovery failed", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.PrometheusAddr, Handler: mux}
	go func() {
		logger.Info("metrics endpoint listening", zap.String("addr", cfg.PrometheusAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}
