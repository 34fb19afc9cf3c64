package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/tilvera/stockcore/internal/adapter/cache"
	"github.com/tilvera/stockcore/internal/adapter/handler"
	"github.com/tilvera/stockcore/internal/adapter/storage"
	"github.com/tilvera/stockcore/internal/config"
	"github.com/tilvera/stockcore/internal/core/service"
	"github.com/tilvera/stockcore/internal/observe"
	"github.com/tilvera/stockcore/internal/port"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger := observe.NewLogger("info")
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := observe.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL holds orders always, and stock too when it is the chosen backend.
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open mysql")
	}
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime.Std())
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ping mysql")
	}
	logger.Info().Msg("connected to mysql")

	var stockRepo port.StockRepository
	var rdb *redis.Client
	if cfg.StockBackend == config.BackendRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		logger.Info().Msg("connected to redis")
		stockRepo = storage.NewRedisStock(rdb)
	} else {
		stockRepo = storage.NewMySQLStock(db)
	}
	logger.Info().Str("stock_backend", cfg.StockBackend).Msg("stock repository ready")

	registry := prometheus.NewRegistry()
	metrics := observe.NewMetrics(registry)

	summaryCache := cache.NewMemory(cfg.SummaryTTL.Std())
	reconciler := service.NewLogReconciler(logger)
	retry := service.RetrySettings{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval.Std(),
		MaxInterval:     cfg.Retry.MaxInterval.Std(),
	}
	ledger := service.NewLedger(stockRepo, summaryCache, reconciler, logger, metrics, retry, cfg.ReserveBatchLimit)
	coordinator := service.NewCoordinator(ledger, storage.NewMySQLOrders(db), reconciler, logger, metrics)

	mux := http.NewServeMux()
	handler.NewHTTPHandler(coordinator, ledger).Register(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      http.TimeoutHandler(mux, cfg.RequestTimeout.Std(), "request timed out"),
		ReadTimeout:  cfg.RequestTimeout.Std(),
		WriteTimeout: 2 * cfg.RequestTimeout.Std(),
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}

	if rdb != nil {
		rdb.Close()
	}
	db.Close()
	logger.Info().Msg("connections closed")
}
