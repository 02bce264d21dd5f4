package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/Proton-105/flowbot/internal/bot"
	"github.com/Proton-105/flowbot/internal/catalog"
	errors "github.com/Proton-105/flowbot/internal/errors"
	"github.com/Proton-105/flowbot/internal/health"
	"github.com/Proton-105/flowbot/internal/i18n"
	"github.com/Proton-105/flowbot/internal/lifecycle"
	"github.com/Proton-105/flowbot/internal/manager"
	"github.com/Proton-105/flowbot/internal/ops"
	"github.com/Proton-105/flowbot/pkg/config"
	"github.com/Proton-105/flowbot/pkg/logger"
	"github.com/Proton-105/flowbot/pkg/redis"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot manager and the ops endpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.New(*cfg)
	slog.SetDefault(log)

	log.Info("starting flowbot",
		slog.String("env", cfg.AppEnv),
		slog.String("bots_dir", cfg.Bots.Dir),
		slog.String("storage", cfg.Storage.Driver),
	)

	flushSentry, err := logger.InitSentry(cfg.Sentry, cfg.AppEnv)
	if err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}

	shutdown := lifecycle.NewShutdown(log)
	shutdown.Register("sentry", flushSentry)

	rdb, err := connectRedis(ctx, cfg, log)
	if err != nil {
		return err
	}
	if rdb != nil {
		shutdown.Register("redis", func(context.Context) error { return rdb.Close() })
	}

	messages, err := i18n.Load(cfg.Flow.DefaultLocale)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	errHandler := errors.NewHandler(log, cfg.Sentry.Enabled)
	deps := bot.Deps{
		Config:     *cfg,
		Redis:      rdb,
		Messages:   messages,
		ErrHandler: errHandler,
		Log:        log,
	}

	bots := catalog.New(cfg.Bots.Dir, log)
	mgr := manager.New(bots, manager.InstanceFactory(deps),
		manager.WithGrace(cfg.Manager.StopGrace),
		manager.WithLogger(log),
		manager.WithErrorHandler(errHandler),
	)
	shutdown.Register("manager", mgr.StopAll)

	for _, id := range cfg.Bots.Autostart {
		if err := mgr.Start(ctx, id); err != nil {
			log.Error("autostart failed", slog.String("bot_id", id), slog.Any("error", err))
		}
	}

	var wg conc.WaitGroup
	if cfg.Bots.Watch {
		watcher := catalog.NewWatcher(bots, mgr, log)
		wg.Go(func() {
			if err := watcher.Run(ctx); err != nil {
				log.Error("catalog watcher stopped", slog.Any("error", err))
			}
		})
	}

	if cfg.Server.Enabled {
		checker := health.NewChecker(log)
		checker.AddCheck("bots", health.NewBotsChecker(mgr))
		if rdb != nil {
			checker.AddCheck("redis", health.NewRedisChecker(rdb))
		}

		server := ops.NewServer(cfg.Server, ops.NewHandler(mgr, checker, log), log)
		wg.Go(func() {
			if err := server.ListenAndServe(ctx); err != nil {
				log.Error("ops server stopped", slog.Any("error", err))
			}
		})
	}

	<-ctx.Done()
	log.Info("shutting down flowbot")

	timeout := cfg.Manager.StopGrace + cfg.Server.ShutdownTimeout
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err = shutdown.Execute(shutdownCtx)
	wg.Wait()

	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("flowbot stopped")
	return nil
}

// connectRedis is required for the redis session backend and best effort
// otherwise, where it only backs the distributed rate limiter.
func connectRedis(ctx context.Context, cfg *config.Config, log *slog.Logger) (*goredis.Client, error) {
	required := cfg.Session.Backend == "redis"
	if !required && !cfg.RateLimit.Enabled {
		return nil, nil
	}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err == nil {
		return rdb, nil
	}
	if required {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	log.Warn("redis unavailable, rate limits stay in memory", slog.Any("error", err))
	return nil, nil
}
