package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/aaravM123/goalkeeper/internal/goal"
	"github.com/aaravM123/goalkeeper/internal/orchestrator"
	"github.com/aaravM123/goalkeeper/pkg/cerr"
	"github.com/aaravM123/goalkeeper/pkg/panicerr"
)

// Scheduler drives the daily cadence from outside the state machine. The
// engine tolerates any extra or repeated invocations, so the interval is a
// deployment choice, not a correctness requirement.
type Scheduler struct {
	orch     *orchestrator.Orchestrator
	interval time.Duration
}

func New(orch *orchestrator.Orchestrator, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{orch: orch, interval: interval}
}

// Start ticks once immediately, then on every interval until ctx is
// cancelled. It blocks.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("scheduler started", "interval", s.interval)

	tick := panicerr.SafeContext(s.tick)
	if err := tick(ctx); err != nil {
		slog.Error("tick failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			if err := tick(ctx); err != nil {
				slog.Error("tick failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	state, err := s.orch.Tick(ctx)
	if err != nil {
		// Nothing planned yet is not a scheduler failure; the next RunOnce
		// will seed the state.
		if cerr.IsCode(err, cerr.FailedPrecondition) && state == nil {
			slog.Debug("tick skipped", "reason", err)
			return nil
		}
		return err
	}
	if state.Status == goal.StatusCompleted {
		slog.Info("goal completed", "goal", state.Goal.Text, "days", state.CurrentDay)
	}
	return nil
}
