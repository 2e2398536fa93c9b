// Package app provides the top-level application lifecycle for the betting
// platform. It wires together stores, caches, the archive, notifications,
// the market engine, and the HTTP server, and runs them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/betmatch/betmatch/internal/config"
	"github.com/betmatch/betmatch/internal/domain"
	"github.com/betmatch/betmatch/internal/server"
	"github.com/betmatch/betmatch/internal/server/handler"
	"github.com/betmatch/betmatch/internal/server/ws"
	"github.com/betmatch/betmatch/internal/service"
)

// shutdownGrace is how long in-flight requests get to finish on shutdown.
const shutdownGrace = 10 * time.Second

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the HTTP
// server, WebSocket hub, and archive loop, and blocks until the context is
// cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.Int("port", a.cfg.Server.Port),
		slog.Bool("custodial", a.cfg.Engine.Custodial),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, ctx := errgroup.WithContext(ctx)

	// WebSocket hub: one sink for browser clients, the notifier for
	// operator channels.
	hub := ws.NewHub(a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	events := domain.MultiSink{hub, deps.Notifier}

	userSvc := service.NewUserService(deps.UserStore, a.logger)
	marketSvc := service.NewMarketService(
		service.Config{
			Custodial:      a.cfg.Engine.Custodial,
			TreasuryWallet: a.cfg.Engine.TreasuryWallet,
		},
		deps.MarketStore,
		deps.UserStore,
		deps.TxnStore,
		deps.Admins,
		deps.MarketCache,
		events,
		a.logger,
	)

	// The treasury must exist before the first fee row references it.
	if a.cfg.Engine.TreasuryWallet != "" {
		if _, err := deps.UserStore.Upsert(ctx, a.cfg.Engine.TreasuryWallet); err != nil {
			return fmt.Errorf("app: ensure treasury user: %w", err)
		}
	}

	srv := server.NewServer(
		server.Config{
			Port:            a.cfg.Server.Port,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			RateLimit:       a.cfg.Server.RateLimit,
			RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
		},
		server.Handlers{
			Health:  handler.NewHealthHandler(a.logger),
			Markets: handler.NewMarketHandler(marketSvc, a.logger),
			Users:   handler.NewUserHandler(marketSvc, a.logger),
			Admin:   handler.NewAdminHandler(marketSvc, a.logger),
		},
		userSvc,
		deps.RateLimiter,
		hub,
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})

	// Shut the server down when the group context ends, whatever the cause.
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			err := deps.Archiver.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
