package progress

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aaravM123/goalkeeper/internal/gateway"
	"github.com/aaravM123/goalkeeper/internal/goal"
	"github.com/aaravM123/goalkeeper/pkg/cerr"
)

// logTail is how many recent log entries are included in the review prompt.
const logTail = 3

// Engine advances a plan by one day. It never mutates its input: all change
// is expressed as a new AgentState value, so a failed advancement cannot be
// observed as partial mutation.
type Engine struct {
	gw             gateway.Gateway
	stallThreshold int
	now            func() time.Time
}

func New(gw gateway.Gateway, stallThreshold int) *Engine {
	if stallThreshold <= 0 {
		stallThreshold = 3
	}
	return &Engine{
		gw:             gw,
		stallThreshold: stallThreshold,
		now:            time.Now,
	}
}

// WithClock overrides the engine's clock. Tests only.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// AdvanceDay executes one day of work against the current subtask.
//
// Terminal and not-yet-planned states pass through unchanged, as does a state
// whose log already records the current day: a repeated trigger for the same
// day must never double-advance. On gateway failure the returned state equals
// the input except for the consecutive-failure counter, which trips the state
// to Stalled at the configured threshold.
func (e *Engine) AdvanceDay(ctx context.Context, state *goal.AgentState) (*goal.AgentState, error) {
	if state == nil {
		return nil, cerr.NewError(cerr.FailedPrecondition, "no agent state to advance", nil)
	}
	if err := state.Validate(); err != nil {
		return nil, cerr.NewError(cerr.FailedPrecondition, "agent state is invalid", err)
	}
	if state.Status != goal.StatusActive {
		return state, nil
	}
	if state.HasEntryForDay(state.CurrentDay) {
		return state, nil
	}

	summary, err := e.executeDay(ctx, state)
	if err != nil {
		// A failed day only moves the failure counter (and the status
		// at the stall threshold). UpdatedAt stays put so that a
		// failure leaves the record otherwise untouched.
		next := state.Clone()
		next.ConsecutiveFailures++
		if next.ConsecutiveFailures >= e.stallThreshold {
			next.Status = goal.StatusStalled
		}
		return next, err
	}

	next := state.Clone()
	idx := next.CurrentSubtaskIndex
	if err := transition(&next.Plan.Subtasks[idx], goal.SubtaskStatusInProgress); err != nil {
		return nil, err
	}
	if err := transition(&next.Plan.Subtasks[idx], goal.SubtaskStatusDone); err != nil {
		return nil, err
	}

	now := e.now()
	next.Log = append(next.Log, goal.DailyEntry{
		Day:       next.CurrentDay,
		SubtaskID: next.Plan.Subtasks[idx].ID,
		Summary:   summary,
		Timestamp: now,
	})
	next.CurrentDay++
	next.ConsecutiveFailures = 0
	next.UpdatedAt = now

	if pending := next.Plan.NextPending(idx + 1); pending >= 0 {
		next.CurrentSubtaskIndex = pending
	} else {
		next.Status = goal.StatusCompleted
	}
	return next, nil
}

// executeDay asks the model to perform and review the current subtask,
// returning the summary for the daily log.
func (e *Engine) executeDay(ctx context.Context, state *goal.AgentState) (string, error) {
	subtask := state.Plan.Subtasks[state.CurrentSubtaskIndex]
	return e.gw.Complete(ctx, buildReviewPrompt(state, subtask))
}

func buildReviewPrompt(state *goal.AgentState, subtask goal.Subtask) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", state.Goal.Text)
	fmt.Fprintf(&b, "Day %d of an estimated %d.\n\n", state.CurrentDay+1, state.Plan.EstimatedDays)

	if n := len(state.Log); n > 0 {
		b.WriteString("Recently completed:\n")
		start := n - logTail
		if start < 0 {
			start = 0
		}
		for _, entry := range state.Log[start:] {
			fmt.Fprintf(&b, "- day %d: %s\n", entry.Day, entry.Summary)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Today's subtask: %s\n\n", subtask.Description)
	b.WriteString("Carry out this subtask and respond with a short summary of what was accomplished.")
	return b.String()
}

func transition(s *goal.Subtask, next goal.SubtaskStatus) error {
	if !s.Status.CanTransitionTo(next) {
		return cerr.NewError(cerr.FailedPrecondition, "illegal subtask transition",
			fmt.Errorf("subtask %d: %s -> %s", s.ID, s.Status, next))
	}
	s.Status = next
	return nil
}
