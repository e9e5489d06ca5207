package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polytrend/internal/domain"
	"github.com/alanyoungcy/polytrend/internal/pipeline"
	"github.com/alanyoungcy/polytrend/internal/server"
	"github.com/alanyoungcy/polytrend/internal/server/handler"
	"github.com/alanyoungcy/polytrend/internal/server/ws"
	"github.com/alanyoungcy/polytrend/internal/service"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// FullMode runs the cron scheduler and the HTTP API together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	sched := a.buildScheduler(deps)
	if a.cfg.Scheduler.Enabled {
		g.Go(func() error {
			return sched.Run(ctx)
		})
	} else {
		a.logger.InfoContext(ctx, "scheduler disabled; runs only via POST /api/cron/run")
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, sched)
	}

	return g.Wait()
}

// WorkerMode runs the cron scheduler without the HTTP API.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	if !a.cfg.Scheduler.Enabled {
		return errors.New("app: worker mode requires scheduler.enabled")
	}
	a.logger.InfoContext(ctx, "starting worker mode",
		slog.String("cron", a.cfg.Scheduler.Cron),
	)
	return a.buildScheduler(deps).Run(ctx)
}

// ServerMode serves the HTTP API. Runs happen only through the trigger
// endpoint; a separate worker is expected to own the schedule.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, a.buildScheduler(deps))
	return g.Wait()
}

// OnceMode performs a single run and returns. A FAILED run is an error so
// the process exits non-zero.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting once mode")

	res, err := a.buildScheduler(deps).RunNow(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrRunInProgress) {
			a.logger.WarnContext(ctx, "another run is in progress; nothing to do")
			return nil
		}
		return fmt.Errorf("app: run %s failed in %s: %w", res.RunID, res.FailedIn, err)
	}

	a.logger.InfoContext(ctx, "run finished",
		slog.String("run_id", res.RunID),
		slog.Int("markets", len(res.TopK)),
		slog.Int("events", res.EventsWritten),
		slog.Duration("elapsed", res.Duration()),
	)
	return nil
}

// buildScheduler assembles the orchestrator and wraps it in a Scheduler.
func (a *App) buildScheduler(deps *Dependencies) *pipeline.Scheduler {
	sweeper := pipeline.NewSweeper(
		pipeline.RetentionConfig{
			SnapshotHorizon:    a.cfg.Retention.SnapshotHorizon.Duration,
			StaleMarketHorizon: a.cfg.Retention.StaleMarketHorizon.Duration,
			EventHorizon:       a.cfg.Retention.EventHorizon.Duration,
		},
		deps.MarketStore,
		deps.SnapshotStore,
		deps.EventStore,
		deps.Archiver,
		a.logger.With(slog.String("component", "sweeper")),
	)

	orch := pipeline.NewOrchestrator(
		pipeline.OrchestratorConfig{
			K:       a.cfg.Ranking.K,
			LockKey: pipeline.DefaultLockKey,
			LockTTL: a.cfg.Scheduler.LockTTL.Duration,
		},
		pipeline.Deps{
			Fetcher:   deps.Gamma,
			Markets:   deps.MarketStore,
			Snapshots: deps.SnapshotStore,
			Events:    deps.EventStore,
			Locks:     deps.LockManager,
			Sweeper:   sweeper,
			Cache:     deps.TopKCache,
			Bus:       deps.SignalBus,
			Notifier:  deps.Notifier,
			Metrics:   deps.Metrics,
			Audit:     deps.AuditStore,
			Logger:    a.logger,
		},
	)

	return pipeline.NewScheduler(pipeline.SchedulerConfig{
		Cron:       a.cfg.Scheduler.Cron,
		RunTimeout: a.cfg.Scheduler.RunTimeout.Duration,
		RunOnStart: a.cfg.Scheduler.RunOnStart,
	}, orch, a.logger)
}

// startHTTPServer registers the API, the websocket hub and the metrics
// endpoint, and adds the server and its shutdown watcher to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, runner handler.Runner) {
	svc := service.NewTopKService(
		deps.MarketStore,
		deps.SnapshotStore,
		deps.EventStore,
		deps.AuditStore,
		deps.TopKCache,
		a.logger,
	)

	hub := ws.NewHub(deps.SignalBus, ws.Config{
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	}, a.logger)
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})

	opts := server.Options{
		Hub:     hub,
		Limiter: deps.RateLimiter,
	}
	// leave the interface nil rather than holding a nil *Metrics
	if deps.Metrics != nil {
		opts.Metrics = deps.Metrics
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.HealthChecks, a.logger),
		TopK:    handler.NewTopKHandler(svc, service.ClampHistoryHours, a.logger),
		Trigger: handler.NewTriggerHandler(runner, a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	srv := server.NewServer(
		server.Config{
			Port:             a.cfg.Server.Port,
			CORSOrigins:      a.cfg.Server.CORSOrigins,
			TriggerSecret:    a.cfg.Server.TriggerSecret,
			TriggerRateLimit: a.cfg.Server.TriggerRateLimit,
			MetricsPath:      a.cfg.Metrics.Path,
		},
		handlers,
		opts,
		a.logger,
	)

	if a.cfg.Server.TriggerSecret == "" {
		a.logger.WarnContext(ctx, "server.trigger_secret is empty; POST /api/cron/run rejects every request")
	}

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
