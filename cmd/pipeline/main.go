// cmd/pipeline/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"notification-pipeline/internal/cache"
	"notification-pipeline/internal/common/config"
	"notification-pipeline/internal/common/database"
	"notification-pipeline/internal/common/logger"
	"notification-pipeline/internal/common/observability"
	"notification-pipeline/internal/delivery"
	"notification-pipeline/internal/push"
	"notification-pipeline/internal/queue"
	"notification-pipeline/internal/store"
	"notification-pipeline/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger yet: configuration decides its shape.
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := logger.NewZapAdapter(zapLogger)

	log.Info("starting notification pipeline", map[string]interface{}{
		"app":         cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": cfg.App.Environment,
	})

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	var pg *database.PostgresClient
	err = retryWithBackoff(ctx, 5, 2*time.Second, func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	})
	if err != nil {
		zapLogger.Fatal("postgres unavailable", zap.Error(err))
	}
	defer pg.Close()

	var rdb *database.RedisClient
	err = retryWithBackoff(ctx, 5, 2*time.Second, func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	})
	if err != nil {
		zapLogger.Fatal("redis unavailable", zap.Error(err))
	}
	defer rdb.Close()

	// --- Services ---

	pgStore := store.NewPostgresStore(pg.DB)

	cacheService := cache.NewService(
		rdb.Client, pgStore, pgStore,
		cfg.Cache.PreferenceTTL(), cfg.Cache.TokenTTL(),
		log,
	)

	queueService := queue.NewService(
		rdb.Client, cfg.Queue.Key, cfg.Queue.DequeueTimeoutDuration(),
		log,
	)

	gateway := push.NewClient(
		cfg.Push.GatewayURL, cfg.Push.AccessToken,
		config.GetDuration(cfg.Push.Timeout),
	)

	deliveryService := delivery.NewService(
		cacheService, pgStore, pgStore, gateway,
		delivery.RetryPolicy{
			MaxAttempts:    cfg.Push.MaxAttempts,
			InitialBackoff: config.GetDuration(cfg.Push.InitialBackoff),
			MaxBackoff:     config.GetDuration(cfg.Push.MaxBackoff),
		},
		cfg.Push.Priority, cfg.Push.Sound,
		log,
	)

	supervisor := worker.NewSupervisor(
		queueService, pgStore, deliveryService, obs,
		cfg.Workers.Listeners, config.GetDuration(cfg.Workers.ShutdownTimeout),
		log,
	)

	// --- Metrics endpoint ---

	metricsServer := &http.Server{
		Addr:    cfg.Metrics.Address,
		Handler: metricsMux(),
	}
	go func() {
		log.Info("metrics listener started", map[string]interface{}{
			"address": cfg.Metrics.Address,
		})
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics listener failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	// --- Run ---

	if err := supervisor.Start(ctx); err != nil {
		zapLogger.Fatal("supervisor start failed", zap.Error(err))
	}

	<-ctx.Done()
	log.Info("shutdown signal received", nil)

	if err := supervisor.Stop(); err != nil {
		log.Error("supervisor stop failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics listener shutdown failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("notification pipeline stopped", nil)
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// retryWithBackoff retries fn with a fixed delay, giving infrastructure a
// chance to come up before the process gives up.
func retryWithBackoff(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
