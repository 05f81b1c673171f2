package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/roomdesk/api/internal/config"
	"github.com/roomdesk/api/internal/database"
	"github.com/roomdesk/api/internal/logging"
	"github.com/roomdesk/api/internal/metrics"
	"github.com/roomdesk/api/internal/notify"
	"github.com/roomdesk/api/internal/router"
	"github.com/roomdesk/api/internal/service"
	"github.com/roomdesk/api/internal/ws"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const redisStreamMaxLen = 100_000

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional outside local development
	_ = godotenv.Load()

	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Metrics
	provider, err := metrics.Setup()
	if err != nil {
		return err
	}
	defer provider.Shutdown(context.Background()) //nolint:errcheck
	rec, err := metrics.NewRecorder(otel.Meter("github.com/roomdesk/api"))
	if err != nil {
		return fmt.Errorf("create metrics recorder: %w", err)
	}

	// Database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	logger.Info("connected to database")

	if cfg.AutoMigrate {
		if err := database.Migrate(pool); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	// Event sinks
	hub := ws.NewHub(logger.Named("ws"))
	sinks := []notify.Sink{{Name: "websocket", Publisher: hub}}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("roomdesk-api"))
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer nc.Drain() //nolint:errcheck
		sinks = append(sinks, notify.Sink{Name: "nats", Publisher: notify.NewNATSPublisher(nc, cfg.NATSSubjectPrefix)})
		logger.Info("nats sink enabled", zap.String("url", cfg.NATSURL))
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		sinks = append(sinks, notify.Sink{Name: "redis", Publisher: notify.NewRedisStreamPublisher(rdb, cfg.RedisStream, redisStreamMaxLen)})
		logger.Info("redis stream sink enabled", zap.String("addr", cfg.RedisAddr), zap.String("stream", cfg.RedisStream))
	}
	if len(cfg.KafkaBrokers) > 0 {
		kw := notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kw.Close()
		sinks = append(sinks, notify.Sink{Name: "kafka", Publisher: notify.NewKafkaPublisher(kw)})
		logger.Info("kafka sink enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	dispatcher := notify.NewDispatcher(logger.Named("notify"), rec, cfg.EventBuffer, sinks...)

	// Background workers stop after the HTTP server has drained.
	workers, cancelWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); hub.Run(workers) }()
	go func() { defer wg.Done(); dispatcher.Run(workers) }()

	// Service + HTTP
	newOrderStore := func(db database.DBTX) service.OrderStore {
		return database.New(db)
	}
	orders := service.NewOrderService(pool, newOrderStore, dispatcher, logger.Named("orders"), rec, loc)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.New(cfg, logger.Named("http"), orders, hub, loc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			cancelWorkers()
			wg.Wait()
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}

	// the dispatcher flushes queued events before Run returns
	cancelWorkers()
	wg.Wait()
	logger.Info("server stopped")
	return nil
}
