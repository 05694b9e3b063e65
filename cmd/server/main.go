// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jason-s-yu/lampstand/internal/auth"
	"github.com/jason-s-yu/lampstand/internal/broadcast"
	"github.com/jason-s-yu/lampstand/internal/cache"
	"github.com/jason-s-yu/lampstand/internal/config"
	"github.com/jason-s-yu/lampstand/internal/game"
	"github.com/jason-s-yu/lampstand/internal/handlers"
	"github.com/jason-s-yu/lampstand/internal/judge"
	"github.com/jason-s-yu/lampstand/internal/store"
	"github.com/jason-s-yu/lampstand/internal/telemetry"
	_ "github.com/joho/godotenv/autoload"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := config.NewLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

func run(ctx context.Context, cfg config.Server, logger *logrus.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, "lampstand-server", cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	if cfg.JWTPublicKeyPath != "" {
		err = auth.InitFromPath(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.TokenExpire)
	} else {
		logger.Warn("no JWT key configured, generating an ephemeral key pair")
		err = auth.Init(cfg.TokenExpire)
	}
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	var (
		st       store.Store
		recorder game.Recorder
	)
	if cfg.MemoryStore {
		logger.Warn("using in-memory session store; sessions are lost on restart")
		st = store.NewMemoryStore()
	} else {
		rdb, err := cache.ConnectRedis(ctx, cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()
		st = store.NewRedisStore(rdb, cfg.SessionTTL)
		recorder = cache.NewQueue(rdb, cfg.HistorianQueue)
		logger.WithField("addr", cfg.Redis.Addr).Info("connected to redis")
	}

	engine := game.NewEngine(st, newJudge(cfg.Judge), game.Options{
		Logger:            logger,
		Recorder:          recorder,
		JudgeTimeout:      cfg.Judge.Timeout,
		MaxCommitRetries:  cfg.CommitRetries,
		StartingInventory: cfg.StartingInventory,
	})
	sync := broadcast.New(st, logger)
	sessions := handlers.NewSessionServer(engine, sync, logger, cfg.AllowedOrigins)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           sessions.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		// closing observers first lets websocket handlers return
		sync.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newJudge(cfg config.Judge) judge.Judge {
	if strings.EqualFold(cfg.Backend, config.JudgeBackendOpenAI) {
		var opts []option.RequestOption
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.OpenAIBaseURL))
		}
		return judge.NewOpenAIJudge(cfg.OpenAIKey, cfg.OpenAIModel, opts...)
	}
	return judge.NewHTTPJudge(cfg.URL, nil)
}
