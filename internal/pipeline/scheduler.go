package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

// Runner executes a single pipeline run.
type Runner interface {
	RunOnce(ctx context.Context) (domain.RunResult, error)
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Cron is a standard five-field expression, e.g. "0 */4 * * *".
	Cron       string
	RunTimeout time.Duration
	RunOnStart bool
}

// Scheduler fires runs on a cron schedule and serves on-demand runs. Each run
// is bounded by RunTimeout.
type Scheduler struct {
	cfg    SchedulerConfig
	runner Runner
	logger *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(cfg SchedulerConfig, runner Runner, logger *slog.Logger) *Scheduler {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 300 * time.Second
	}
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		logger: logger.With(slog.String("component", "scheduler")),
	}
}

// ValidateCron reports whether spec is a valid five-field cron expression.
func ValidateCron(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// RunNow performs one run bounded by the configured timeout and returns its
// result. It returns domain.ErrRunInProgress when a run is already going.
func (s *Scheduler) RunNow(ctx context.Context) (domain.RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()
	return s.runner.RunOnce(ctx)
}

// Run blocks until ctx is cancelled, firing runs on the cron schedule. A tick
// that arrives while the previous run is still going is skipped. In-flight
// runs are awaited before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	cronLog := cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug))
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	if _, err := c.AddFunc(s.cfg.Cron, func() { s.runScheduled(ctx, "cron") }); err != nil {
		return fmt.Errorf("pipeline: schedule %q: %w", s.cfg.Cron, err)
	}

	s.logger.InfoContext(ctx, "scheduler started",
		slog.String("cron", s.cfg.Cron),
		slog.Duration("run_timeout", s.cfg.RunTimeout),
	)

	if s.cfg.RunOnStart {
		s.runScheduled(ctx, "startup")
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) runScheduled(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.RunNow(ctx)
	switch {
	case errors.Is(err, domain.ErrRunInProgress):
		s.logger.InfoContext(ctx, "run skipped, another run holds the lock", slog.String("trigger", trigger))
	case err != nil:
		s.logger.ErrorContext(ctx, "scheduled run failed",
			slog.String("trigger", trigger),
			slog.String("run_id", res.RunID),
			slog.String("error", err.Error()),
		)
	default:
		s.logger.InfoContext(ctx, "scheduled run finished",
			slog.String("trigger", trigger),
			slog.String("run_id", res.RunID),
			slog.Int("markets", len(res.TopK)),
			slog.Int("events", len(res.Events)),
		)
	}
}
