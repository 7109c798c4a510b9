package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aaravM123/goalkeeper/internal/eventbus"
	"github.com/aaravM123/goalkeeper/internal/goal"
	"github.com/aaravM123/goalkeeper/internal/planner"
	"github.com/aaravM123/goalkeeper/internal/progress"
	"github.com/aaravM123/goalkeeper/pkg/cerr"
)

// RecordLock serializes the load-modify-save cycle across processes sharing
// the state record, such as the server and a CLI tick against one data
// directory.
type RecordLock interface {
	Acquire() error
	Release() error
}

// Orchestrator owns the load-modify-save cycle around the single AgentState
// record. The mutex serializes that whole cycle within a process and the
// record lock does the same across processes, so concurrent ticks can never
// both observe the same day as unadvanced; the engine's own idempotence guard
// is the second line of defense, not a substitute for these locks.
type Orchestrator struct {
	mu      sync.Mutex
	repo    goal.StateRepository
	planner *planner.Planner
	engine  *progress.Engine
	bus     *eventbus.Bus
	lock    RecordLock
	now     func() time.Time
}

func New(repo goal.StateRepository, p *planner.Planner, e *progress.Engine, bus *eventbus.Bus, lock RecordLock) *Orchestrator {
	return &Orchestrator{
		repo:    repo,
		planner: p,
		engine:  e,
		bus:     bus,
		lock:    lock,
		now:     time.Now,
	}
}

// acquireRecord takes the cross-process lock, mapping contention to Aborted
// so callers can distinguish "retry later" from a real failure.
func (o *Orchestrator) acquireRecord() error {
	if err := o.lock.Acquire(); err != nil {
		return cerr.NewError(cerr.Aborted, "state record is locked by another process", err)
	}
	return nil
}

func (o *Orchestrator) releaseRecord(ctx context.Context) {
	if err := o.lock.Release(); err != nil {
		slog.WarnContext(ctx, "failed to release state record lock", "error", err)
	}
}

// WithClock overrides the orchestrator's clock. Tests only.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// RunOnce plans a new goal and persists the initial Active state. It refuses
// to replace a goal that is still in progress.
func (o *Orchestrator) RunOnce(ctx context.Context, goalText string) (*goal.AgentState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	goalText = strings.TrimSpace(goalText)
	if goalText == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "goal text is empty", nil)
	}

	if err := o.acquireRecord(); err != nil {
		return nil, err
	}
	defer o.releaseRecord(ctx)

	existing, err := o.repo.Load(ctx)
	if err != nil && !cerr.IsCode(err, cerr.NotFound) {
		return nil, err
	}
	if existing != nil && !existing.Status.Terminal() {
		return nil, cerr.NewError(cerr.FailedPrecondition, "a goal is already in progress", nil)
	}

	g := goal.Goal{Text: goalText, CreatedAt: o.now()}
	plan, err := o.planner.Plan(ctx, g)
	if err != nil {
		return nil, err
	}

	state := goal.NewAgentState(g, *plan, o.now())
	if err := o.repo.Save(ctx, state); err != nil {
		return nil, err
	}

	o.bus.PublishNew(eventbus.EventTypePlanCreated, state.Status, state.CurrentDay, goalText)
	slog.InfoContext(ctx, "goal planned",
		"goal", goalText,
		"estimated_days", plan.EstimatedDays,
		"subtasks", len(plan.Subtasks),
	)
	return state, nil
}

// Tick advances the plan by at most one day per calendar day. The new state
// is persisted before Tick returns success, which is what makes the engine's restart guard effective:
// a trigger repeated after a successful save sees its own day in the log and
// does nothing. A gateway failure is also persisted (the failure counter must
// survive restarts) and then reported to the caller.
func (o *Orchestrator) Tick(ctx context.Context) (*goal.AgentState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.acquireRecord(); err != nil {
		return nil, err
	}
	defer o.releaseRecord(ctx)

	state, err := o.repo.Load(ctx)
	if err != nil {
		if cerr.IsCode(err, cerr.NotFound) {
			return nil, cerr.NewError(cerr.FailedPrecondition, "no goal has been planned yet", err)
		}
		return nil, err
	}

	// One advancement per calendar day: a trigger repeated on a day that
	// already produced a log entry does nothing. Failed days write no
	// entry, so a same-day retry after a failure still runs.
	if state.Status == goal.StatusActive {
		if last := state.LastEntry(); last != nil && sameDay(last.Timestamp, o.now()) {
			slog.DebugContext(ctx, "tick skipped, already advanced today", "day", state.CurrentDay)
			return state, nil
		}
	}

	next, advErr := o.engine.AdvanceDay(ctx, state)
	if next == state {
		// No-op tick: terminal state or already-advanced day. Nothing to persist.
		return state, advErr
	}
	if next == nil {
		return nil, advErr
	}

	if err := o.repo.Save(ctx, next); err != nil {
		return nil, err
	}
	o.publishTransition(state, next)

	if advErr != nil {
		slog.WarnContext(ctx, "tick failed",
			"day", next.CurrentDay,
			"consecutive_failures", next.ConsecutiveFailures,
			"status", next.Status,
			"error", advErr,
		)
		return next, advErr
	}
	slog.InfoContext(ctx, "day advanced",
		"day", next.CurrentDay,
		"done", next.Plan.DoneCount(),
		"total", len(next.Plan.Subtasks),
		"status", next.Status,
	)
	return next, nil
}

// State returns the persisted record without modifying it.
func (o *Orchestrator) State(ctx context.Context) (*goal.AgentState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.repo.Load(ctx)
}

// Status reports the agent status for readiness checks. A missing record maps
// to Planning: the agent exists but no plan does yet.
func (o *Orchestrator) Status(ctx context.Context) (goal.Status, error) {
	state, err := o.State(ctx)
	if err != nil {
		if cerr.IsCode(err, cerr.NotFound) {
			return goal.StatusPlanning, nil
		}
		return "", err
	}
	return state.Status, nil
}

func (o *Orchestrator) publishTransition(prev, next *goal.AgentState) {
	switch {
	case next.Status == goal.StatusCompleted && prev.Status != goal.StatusCompleted:
		o.bus.PublishNew(eventbus.EventTypeGoalCompleted, next.Status, next.CurrentDay, next.Goal.Text)
	case next.Status == goal.StatusStalled && prev.Status != goal.StatusStalled:
		o.bus.PublishNew(eventbus.EventTypeGoalStalled, next.Status, next.CurrentDay, next.Goal.Text)
	case next.CurrentDay > prev.CurrentDay:
		summary := ""
		if entry := next.LastEntry(); entry != nil {
			summary = entry.Summary
		}
		o.bus.PublishNew(eventbus.EventTypeDayCompleted, next.Status, next.CurrentDay-1, summary)
	}
}
