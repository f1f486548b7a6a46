package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riverqueue/river"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fantasymarket/internal/crypto"
	"github.com/alanyoungcy/fantasymarket/internal/server"
	"github.com/alanyoungcy/fantasymarket/internal/server/handler"
	"github.com/alanyoungcy/fantasymarket/internal/server/ws"
)

const shutdownTimeout = 10 * time.Second

// ServerMode serves the HTTP API. Bridge jobs are inserted but not worked.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: server mode")

	svcs, cleanup, err := a.buildServices(ctx, deps, false, true)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svcs)
	return g.Wait()
}

// WorkerMode works bridge jobs only.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: worker mode",
		slog.Int("max_workers", a.cfg.Queue.MaxWorkers),
	)

	svcs, cleanup, err := a.buildServices(ctx, deps, true, false)
	if err != nil {
		return fmt.Errorf("worker mode: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, svcs.River)
	return g.Wait()
}

// FullMode serves the HTTP API and works bridge jobs in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: full mode")

	svcs, cleanup, err := a.buildServices(ctx, deps, true, true)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, svcs.River)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}
	return g.Wait()
}

func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, client *river.Client[pgx.Tx]) {
	g.Go(func() error {
		if err := client.Start(ctx); err != nil {
			return fmt.Errorf("river: start: %w", err)
		}
		a.logger.InfoContext(ctx, "app: river workers started")
		<-ctx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("app: river workers stopping")
		if err := client.Stop(stopCtx); err != nil {
			return fmt.Errorf("river: stop: %w", err)
		}
		return nil
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *Services) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	var reports handler.SettlementReports
	if deps.Reports != nil {
		reports = deps.Reports
	}

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimitCount,
			RateWindow:  a.cfg.Server.RateLimitWindow.Duration,
		},
		server.Handlers{
			Health:  handler.NewHealthHandler(a.cfg.Mode, deps.Health, a.logger),
			League:  handler.NewLeagueHandler(svcs.Picks, svcs.Scores, svcs.Settlement, reports, a.logger),
			Bridge:  handler.NewBridgeHandler(svcs.Bridge, svcs.Readiness, crypto.NewWebhookVerifier(a.cfg.Bridge.WebhookSecret, a.cfg.Bridge.WebhookSigningKey), deps.Metrics, a.logger),
			Metrics: promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}),
		},
		server.Deps{
			Hub:     hub,
			Limiter: deps.RateLimiter,
			Metrics: deps.Metrics,
		},
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
