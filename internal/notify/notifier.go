// Package notify delivers run summaries to chat channels. Messages go to
// every registered sender and can be filtered by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

// Event types accepted in the notify.events filter.
const (
	EventRunFailed    = "run_failed"
	EventTrendChange  = "trend_change"
	EventRunCompleted = "run_completed"
)

// DefaultEvents is used when no filter is configured.
var DefaultEvents = []string{EventRunFailed, EventTrendChange}

// maxListed caps the entries listed per section of a message.
const maxListed = 10

// Sender is the interface that each notification channel must implement.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches notifications to one or more Senders.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to senders. Only events listed
// in events are forwarded; an empty list selects DefaultEvents.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if len(events) == 0 {
		events = DefaultEvents
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// NotifyRun reports a finished run. A failed run raises run_failed; a
// successful run raises trend_change when membership changed and
// run_completed otherwise. Delivery errors are logged, never returned.
func (n *Notifier) NotifyRun(ctx context.Context, res domain.RunResult) {
	event, title, body := describeRun(res)
	if err := n.Notify(ctx, event, title, body); err != nil {
		n.logger.WarnContext(ctx, "run notification failed",
			slog.String("run_id", res.RunID),
			slog.String("error", err.Error()),
		)
	}
}

// Notify sends to all senders if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func describeRun(res domain.RunResult) (event, title, body string) {
	if res.State == domain.RunFailed {
		return EventRunFailed,
			"polytrend run failed",
			fmt.Sprintf("Run %s failed in %s: %s", res.RunID, res.FailedIn, res.Error)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Run %s ranked %d of %d fetched markets.\n", res.RunID, len(res.TopK), res.Fetched)

	var entered, exited []domain.TrendingEvent
	for _, ev := range res.Events {
		if ev.Kind == domain.EventEntered {
			entered = append(entered, ev)
		} else {
			exited = append(exited, ev)
		}
	}
	writeSection(&b, "Entered", entered, func(ev domain.TrendingEvent) string {
		return fmt.Sprintf("#%d %s ($%s 24h)", deref(ev.NewRank), ev.Title, formatVolume(ev.Volume24h))
	})
	writeSection(&b, "Exited", exited, func(ev domain.TrendingEvent) string {
		return fmt.Sprintf("was #%d %s", deref(ev.OldRank), ev.Title)
	})
	if res.SweepError != "" {
		fmt.Fprintf(&b, "Retention sweep incomplete: %s\n", res.SweepError)
	}

	if len(res.Events) == 0 {
		return EventRunCompleted, "polytrend run completed", strings.TrimRight(b.String(), "\n")
	}
	return EventTrendChange,
		fmt.Sprintf("polytrend: %d entered, %d exited", len(entered), len(exited)),
		strings.TrimRight(b.String(), "\n")
}

func writeSection(b *strings.Builder, heading string, events []domain.TrendingEvent, line func(domain.TrendingEvent) string) {
	if len(events) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", heading)
	for i, ev := range events {
		if i == maxListed {
			fmt.Fprintf(b, "  ...and %d more\n", len(events)-maxListed)
			break
		}
		fmt.Fprintf(b, "  %s\n", line(ev))
	}
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// formatVolume renders v compactly, e.g. 1.2M or 830.5K.
func formatVolume(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%.1fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}
