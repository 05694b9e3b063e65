// cmd/historian is an asynchronous historian service that pops session records
// from a Redis queue and persists them to a PostgreSQL database.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/lampstand/internal/cache"
	"github.com/jason-s-yu/lampstand/internal/config"
	"github.com/jason-s-yu/lampstand/internal/database"
	"github.com/jason-s-yu/lampstand/internal/historian"
	"github.com/jason-s-yu/lampstand/internal/telemetry"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.LoadHistorian()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := config.NewLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "lampstand-historian", cfg.Telemetry)
	if err != nil {
		logger.WithError(err).Fatal("telemetry")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	rdb, err := cache.ConnectRedis(ctx, cache.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.WithError(err).Fatal("redis")
	}
	defer rdb.Close()

	pool, err := database.ConnectDB(ctx, cfg.Postgres.ConnString())
	if err != nil {
		logger.WithError(err).Fatal("postgres")
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.WithError(err).Fatal("schema")
	}

	svc := historian.New(cache.NewQueue(rdb, cfg.QueueName), database.NewArchive(pool), historian.Options{
		Logger:        logger,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval(),
		Inactivity:    cfg.InactivityTimeout,
	})
	logger.WithField("queue", cfg.QueueName).Info("historian service running")
	if err := svc.Run(ctx); err != nil {
		logger.WithError(err).Error("historian exited")
	}
}
