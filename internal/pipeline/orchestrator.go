// Package pipeline runs the ranking pipeline: fetch, validate, rank, record
// history, diff, replace the current generation and sweep old data.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polytrend/internal/domain"
	"github.com/alanyoungcy/polytrend/internal/observability"
	"github.com/alanyoungcy/polytrend/internal/platform/polymarket"
	"github.com/alanyoungcy/polytrend/internal/ranking"
	"github.com/alanyoungcy/polytrend/internal/trend"
)

// DefaultLockKey guards runs across processes.
const DefaultLockKey = "polytrend:run"

// sideEffectTimeout bounds post-run work when the run context is gone.
const sideEffectTimeout = 5 * time.Second

// eventWriteTimeout bounds event persistence after the generation commits.
const eventWriteTimeout = 30 * time.Second

// Fetcher retrieves the raw upstream listings.
type Fetcher interface {
	FetchActiveListings(ctx context.Context) ([]polymarket.RawMarketRecord, error)
}

// RunNotifier is told about every finished run.
type RunNotifier interface {
	NotifyRun(ctx context.Context, res domain.RunResult)
}

// OrchestratorConfig holds the run parameters.
type OrchestratorConfig struct {
	K       int
	LockKey string
	LockTTL time.Duration
}

// Deps are the collaborators of an Orchestrator. Cache, Bus, Notifier,
// Metrics, Audit and Sweeper are optional.
type Deps struct {
	Fetcher   Fetcher
	Markets   domain.MarketStore
	Snapshots domain.SnapshotStore
	Events    domain.EventStore
	Locks     domain.LockManager
	Sweeper   *Sweeper

	Cache    domain.TopKCache
	Bus      domain.SignalBus
	Notifier RunNotifier
	Metrics  *observability.Metrics
	Audit    domain.AuditStore

	Logger *slog.Logger
	// Clock defaults to time.Now in UTC.
	Clock func() time.Time
}

// Orchestrator drives one run through
// FETCHING → VALIDATING → RANKING → SNAPSHOTTING → DIFFING → UPDATING → SWEEPING → DONE,
// ending in FAILED from any fatal step.
type Orchestrator struct {
	cfg         OrchestratorConfig
	deps        Deps
	snapshotter *Snapshotter
	logger      *slog.Logger
	clock       func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig, deps Deps) *Orchestrator {
	if cfg.LockKey == "" {
		cfg.LockKey = DefaultLockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "orchestrator"))
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{
		cfg:         cfg,
		deps:        deps,
		snapshotter: NewSnapshotter(deps.Snapshots, logger),
		logger:      logger,
		clock:       clock,
	}
}

// RunOnce executes a single run. It returns domain.ErrRunInProgress without
// touching any state when another run holds the lock. For every run that
// starts, the returned RunResult is populated even when err is non-nil.
func (o *Orchestrator) RunOnce(ctx context.Context) (domain.RunResult, error) {
	unlock, err := o.deps.Locks.Acquire(ctx, o.cfg.LockKey, o.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.RunResult{}, domain.ErrRunInProgress
		}
		return domain.RunResult{}, fmt.Errorf("pipeline: acquire run lock: %w", err)
	}
	defer unlock()

	res := domain.RunResult{
		RunID:     uuid.NewString(),
		StartedAt: o.clock(),
		Rejected:  map[string]int{},
	}
	log := o.logger.With(slog.String("run_id", res.RunID))
	log.InfoContext(ctx, "run started", slog.Int("k", o.cfg.K))

	runErr := o.execute(ctx, &res, log)
	res.FinishedAt = o.clock()
	if runErr != nil {
		res.FailedIn = res.State
		res.State = domain.RunFailed
		res.Error = runErr.Error()
		log.ErrorContext(ctx, "run failed",
			slog.String("failed_in", string(res.FailedIn)),
			slog.Duration("duration", res.Duration()),
			slog.String("error", runErr.Error()),
		)
	} else {
		res.State = domain.RunDone
		log.InfoContext(ctx, "run complete",
			slog.Int("fetched", res.Fetched),
			slog.Int("accepted", res.Accepted),
			slog.Int("top_k", len(res.TopK)),
			slog.Int("snapshots", res.SnapshotsWritten),
			slog.Int("events", len(res.Events)),
			slog.Duration("duration", res.Duration()),
		)
	}

	o.afterRun(ctx, res, log)
	return res, runErr
}

func (o *Orchestrator) execute(ctx context.Context, res *domain.RunResult, log *slog.Logger) error {
	enter := func(state domain.RunState) {
		res.State = state
		log.InfoContext(ctx, "run state", slog.String("state", string(state)))
	}
	now := res.StartedAt

	enter(domain.RunFetching)
	raw, err := o.deps.Fetcher.FetchActiveListings(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: fetch: %w", err)
	}
	res.Fetched = len(raw)

	enter(domain.RunValidating)
	results := ranking.Normalize(raw)
	for _, r := range results {
		if !r.OK() {
			log.DebugContext(ctx, "record rejected",
				slog.String("market_id", r.SourceID),
				slog.String("reason", string(r.Reject)),
				slog.String("detail", r.Detail),
			)
		}
	}
	accepted, rejected := ranking.Accepted(results)
	res.Accepted = len(accepted)
	for reason, n := range rejected {
		res.Rejected[string(reason)] = n
	}

	enter(domain.RunRanking)
	top, err := ranking.SelectTopK(accepted, o.cfg.K)
	if err != nil {
		return fmt.Errorf("pipeline: rank: %w", err)
	}
	if len(top) == 0 {
		return fmt.Errorf("pipeline: rank: %w: no valid markets in %d listings", domain.ErrUpstreamUnavailable, res.Fetched)
	}
	res.TopK = top

	enter(domain.RunSnapshotting)
	prev, err := o.deps.Markets.CurrentTopK(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: read current top-k: %w: %w", domain.ErrPersistence, err)
	}
	written, err := o.snapshotter.Snapshot(ctx, prev, now)
	res.SnapshotsWritten = written
	if err != nil {
		return err
	}

	enter(domain.RunDiffing)
	res.Events = trend.Detect(prev, top, now)

	enter(domain.RunUpdating)
	if err := o.deps.Markets.ReplaceTopK(ctx, top, now); err != nil {
		return fmt.Errorf("pipeline: update: %w", err)
	}
	res.EventsWritten = o.persistEvents(ctx, res.Events, log)

	enter(domain.RunSweeping)
	if o.deps.Sweeper != nil {
		sweep, err := o.deps.Sweeper.Sweep(ctx, now)
		res.Sweep = sweep
		if err != nil {
			res.SweepError = err.Error()
			log.WarnContext(ctx, "sweep incomplete", slog.String("error", err.Error()))
		}
	}
	return nil
}

// persistEvents writes events one by one; a failing row is logged and skipped.
// The committed generation already reflects these events, so the writes are
// not tied to the run context's cancellation.
func (o *Orchestrator) persistEvents(ctx context.Context, events []domain.TrendingEvent, log *slog.Logger) int {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventWriteTimeout)
	defer cancel()

	written := 0
	for _, ev := range events {
		if err := o.deps.Events.Insert(ctx, ev); err != nil {
			log.WarnContext(ctx, "event write failed",
				slog.String("market_id", ev.MarketID),
				slog.String("kind", string(ev.Kind)),
				slog.String("error", err.Error()),
			)
			continue
		}
		written++
	}
	return written
}

// afterRun performs best-effort side effects. None of them can change the
// outcome of the run.
func (o *Orchestrator) afterRun(ctx context.Context, res domain.RunResult, log *slog.Logger) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
		defer cancel()
	}

	if o.deps.Metrics != nil {
		o.deps.Metrics.ObserveRun(res)
	}

	if o.deps.Audit != nil {
		event := domain.AuditRunCompleted
		if res.State == domain.RunFailed {
			event = domain.AuditRunFailed
		}
		if err := o.deps.Audit.Log(ctx, event, auditDetail(res)); err != nil {
			log.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	if res.State == domain.RunDone {
		o.refreshCache(ctx, res, log)
		o.broadcast(ctx, res, log)
	}

	if o.deps.Notifier != nil {
		o.deps.Notifier.NotifyRun(ctx, res)
	}
}

func (o *Orchestrator) refreshCache(ctx context.Context, res domain.RunResult, log *slog.Logger) {
	if o.deps.Cache == nil {
		return
	}
	current := make([]domain.Market, len(res.TopK))
	for i, m := range res.TopK {
		current[i] = domain.FromCanonical(m, res.StartedAt)
	}
	if err := o.deps.Cache.Set(ctx, current); err != nil {
		log.WarnContext(ctx, "top-k cache refresh failed", slog.String("error", err.Error()))
		// a stale cache is worse than none
		_ = o.deps.Cache.Invalidate(ctx)
	}
}

func (o *Orchestrator) broadcast(ctx context.Context, res domain.RunResult, log *slog.Logger) {
	if o.deps.Bus == nil {
		return
	}
	events := res.Events
	if events == nil {
		events = []domain.TrendingEvent{}
	}
	payload, err := json.Marshal(domain.TrendBroadcast{
		Type:      domain.BroadcastTypeTrend,
		RunID:     res.RunID,
		Timestamp: res.FinishedAt,
		Events:    events,
		TopK:      domain.Ranked(res.TopK),
	})
	if err != nil {
		log.WarnContext(ctx, "marshal trend broadcast", slog.String("error", err.Error()))
		return
	}
	if err := o.deps.Bus.Publish(ctx, domain.TrendChannel, payload); err != nil {
		log.WarnContext(ctx, "trend publish failed", slog.String("error", err.Error()))
	}
	if err := o.deps.Bus.StreamAppend(ctx, domain.TrendStream, payload); err != nil {
		log.WarnContext(ctx, "trend stream append failed", slog.String("error", err.Error()))
	}
}

func auditDetail(res domain.RunResult) map[string]any {
	detail := map[string]any{
		"runId":            res.RunID,
		"state":            string(res.State),
		"startedAt":        res.StartedAt.Format(time.RFC3339Nano),
		"finishedAt":       res.FinishedAt.Format(time.RFC3339Nano),
		"durationMs":       res.Duration().Milliseconds(),
		"fetched":          res.Fetched,
		"accepted":         res.Accepted,
		"rejected":         res.Rejected,
		"marketsUpdated":   len(res.TopK),
		"snapshotsWritten": res.SnapshotsWritten,
		"eventsWritten":    res.EventsWritten,
		"sweep":            res.Sweep,
	}
	if res.FailedIn != "" {
		detail["failedIn"] = string(res.FailedIn)
	}
	if res.Error != "" {
		detail["error"] = res.Error
	}
	if res.SweepError != "" {
		detail["sweepError"] = res.SweepError
	}
	return detail
}
