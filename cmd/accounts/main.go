package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-accounts/internal/app"
	"github.com/odyssey-erp/odyssey-accounts/internal/auth"
	"github.com/odyssey-erp/odyssey-accounts/internal/observability"
	"github.com/odyssey-erp/odyssey-accounts/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-accounts/internal/platform/db"
	"github.com/odyssey-erp/odyssey-accounts/internal/users"
	"github.com/odyssey-erp/odyssey-accounts/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("accounts service stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	store, ready, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	authCfg := cfg.AuthConfig()
	hasher, err := auth.NewPasswordHasher(authCfg.HashCost)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenManager(authCfg)
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	var notifier auth.LockoutNotifier
	if cfg.NotifyLockouts {
		queue := jobs.NewClient(redisOpts)
		defer func() {
			if err := queue.Close(); err != nil {
				logger.Warn("queue client close", slog.Any("error", err))
			}
		}()
		notifier = jobs.NewLockoutNotifier(queue)
	}

	service := auth.NewService(auth.ServiceParams{
		Store:    store,
		Hasher:   hasher,
		Tokens:   tokens,
		Lockout:  auth.NewLockout(store, authCfg),
		Notifier: notifier,
		Events:   metrics,
		Logger:   logger,
	})
	authHandler := auth.NewHandler(logger, service, tokens, app.AuthRateLimiter(cfg))

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:      logger,
		Config:      cfg,
		AuthHandler: authHandler,
		JobHandler:  jobs.NewHandler(inspector, logger),
		Metrics:     metrics,
		Ready:       ready,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("store", cfg.StoreBackend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore connects the configured account store and returns its readiness
// probe and release function.
func openStore(ctx context.Context, cfg *app.Config, logger *slog.Logger) (users.Store, app.ReadyCheck, func(), error) {
	switch cfg.StoreBackend {
	case app.StoreRedis:
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, nil, err
		}
		ready := func(ctx context.Context) error { return client.Ping(ctx).Err() }
		release := func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
		return users.NewRedisStore(client), ready, release, nil
	default:
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.PGMigrate {
			if err := db.Migrate(ctx, pool, logger); err != nil {
				pool.Close()
				return nil, nil, nil, err
			}
		}
		return users.NewPGStore(pool), pool.Ping, pool.Close, nil
	}
}
