package progress

import (
	"context"
	"testing"
	"time"

	"github.com/aaravM123/goalkeeper/internal/goal"
	"github.com/aaravM123/goalkeeper/pkg/cerr"
)

type fakeGateway struct {
	response string
	err      error
	calls    int
}

func (f *fakeGateway) Complete(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func fixedClock() func() time.Time {
	return func() time.Time {
		return time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	}
}

func newActiveState(subtasks int) *goal.AgentState {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	sts := make([]goal.Subtask, subtasks)
	for i := range sts {
		sts[i] = goal.Subtask{ID: i, Description: "step", Status: goal.SubtaskStatusPending}
	}
	return goal.NewAgentState(
		goal.Goal{Text: "run a half marathon", CreatedAt: now},
		goal.Plan{EstimatedDays: subtasks, Subtasks: sts},
		now,
	)
}

func TestAdvanceDaySuccess(t *testing.T) {
	gw := &fakeGateway{response: "ran 5km at an easy pace"}
	e := New(gw, 3).WithClock(fixedClock())
	state := newActiveState(3)

	next, err := e.AdvanceDay(context.Background(), state)
	if err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	if next.CurrentDay != 1 {
		t.Errorf("current day = %d, want 1", next.CurrentDay)
	}
	if next.CurrentSubtaskIndex != 1 {
		t.Errorf("subtask index = %d, want 1", next.CurrentSubtaskIndex)
	}
	if next.Plan.Subtasks[0].Status != goal.SubtaskStatusDone {
		t.Errorf("subtask 0 status = %s, want DONE", next.Plan.Subtasks[0].Status)
	}
	if len(next.Log) != 1 {
		t.Fatalf("log length = %d, want 1", len(next.Log))
	}
	if next.Log[0].Day != 0 || next.Log[0].Summary != "ran 5km at an easy pace" {
		t.Errorf("unexpected log entry: %+v", next.Log[0])
	}

	// Input was not mutated.
	if state.CurrentDay != 0 || len(state.Log) != 0 {
		t.Error("input state was mutated")
	}
	if state.Plan.Subtasks[0].Status != goal.SubtaskStatusPending {
		t.Error("input subtask was mutated")
	}
}

func TestAdvanceDayCompletesOnLastSubtask(t *testing.T) {
	gw := &fakeGateway{response: "done"}
	e := New(gw, 3).WithClock(fixedClock())

	state := newActiveState(1)
	next, err := e.AdvanceDay(context.Background(), state)
	if err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if next.Status != goal.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", next.Status)
	}
	if next.Plan.DoneCount() != 1 {
		t.Errorf("done count = %d, want 1", next.Plan.DoneCount())
	}
}

func TestAdvanceDayRunsToCompletion(t *testing.T) {
	gw := &fakeGateway{response: "made progress"}
	e := New(gw, 3).WithClock(fixedClock())

	state := newActiveState(5)
	for day := 0; day < 5; day++ {
		next, err := e.AdvanceDay(context.Background(), state)
		if err != nil {
			t.Fatalf("day %d failed: %v", day, err)
		}
		state = next
	}

	if state.Status != goal.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", state.Status)
	}
	if state.CurrentDay != 5 || len(state.Log) != 5 {
		t.Errorf("day=%d log=%d, want 5/5", state.CurrentDay, len(state.Log))
	}
	for i, entry := range state.Log {
		if entry.Day != i {
			t.Errorf("log[%d].Day = %d", i, entry.Day)
		}
	}
}

func TestAdvanceDayIsIdempotentPerDay(t *testing.T) {
	gw := &fakeGateway{response: "ok"}
	e := New(gw, 3).WithClock(fixedClock())

	state := newActiveState(2)
	// Simulate a crash after logging day 0 but before the trigger was
	// acknowledged: the record already holds today's entry.
	state.Log = append(state.Log, goal.DailyEntry{Day: 0, SubtaskID: 0, Summary: "already done", Timestamp: fixedClock()()})
	state.Plan.Subtasks[0].Status = goal.SubtaskStatusDone
	state.CurrentDay = 0
	state.CurrentSubtaskIndex = 1

	next, err := e.AdvanceDay(context.Background(), state)
	if err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if next != state {
		t.Error("expected the same state back for an already-recorded day")
	}
	if gw.calls != 0 {
		t.Errorf("gateway called %d times for a recorded day, want 0", gw.calls)
	}
}

func TestAdvanceDayTerminalStatesPassThrough(t *testing.T) {
	for _, status := range []goal.Status{goal.StatusCompleted, goal.StatusStalled, goal.StatusPlanning} {
		gw := &fakeGateway{response: "ok"}
		e := New(gw, 3).WithClock(fixedClock())

		state := newActiveState(2)
		state.Status = status
		if status == goal.StatusCompleted || status == goal.StatusStalled {
			// Keep the record structurally valid for a finished goal.
			state.Plan.Subtasks[0].Status = goal.SubtaskStatusDone
			state.Plan.Subtasks[1].Status = goal.SubtaskStatusDone
		}

		next, err := e.AdvanceDay(context.Background(), state)
		if err != nil {
			t.Fatalf("%s: advance failed: %v", status, err)
		}
		if next != state {
			t.Errorf("%s: expected unchanged state", status)
		}
		if gw.calls != 0 {
			t.Errorf("%s: gateway called %d times", status, gw.calls)
		}
	}
}

func TestAdvanceDayFailureLeavesProgressUntouched(t *testing.T) {
	gw := &fakeGateway{err: cerr.NewError(cerr.Unavailable, "completion retries exhausted", nil)}
	e := New(gw, 3).WithClock(fixedClock())

	state := newActiveState(3)
	next, err := e.AdvanceDay(context.Background(), state)
	if err == nil {
		t.Fatal("expected error")
	}

	if next.ConsecutiveFailures != 1 {
		t.Errorf("consecutive failures = %d, want 1", next.ConsecutiveFailures)
	}
	if next.Status != goal.StatusActive {
		t.Errorf("status = %s, want ACTIVE below threshold", next.Status)
	}
	if next.CurrentDay != 0 || len(next.Log) != 0 {
		t.Error("failed day must not advance progress")
	}
	if next.Plan.Subtasks[0].Status != goal.SubtaskStatusPending {
		t.Errorf("subtask status = %s, want PENDING after failure", next.Plan.Subtasks[0].Status)
	}
	if !next.UpdatedAt.Equal(state.UpdatedAt) {
		t.Errorf("UpdatedAt moved from %v to %v on failure", state.UpdatedAt, next.UpdatedAt)
	}
}

func TestAdvanceDayStallsAtThreshold(t *testing.T) {
	gw := &fakeGateway{err: cerr.NewError(cerr.Unavailable, "completion retries exhausted", nil)}
	e := New(gw, 3).WithClock(fixedClock())

	state := newActiveState(3)
	for i := 0; i < 3; i++ {
		next, err := e.AdvanceDay(context.Background(), state)
		if err == nil {
			t.Fatalf("attempt %d: expected error", i)
		}
		state = next
	}

	if state.Status != goal.StatusStalled {
		t.Errorf("status = %s, want STALLED after 3 failures", state.Status)
	}
	if state.ConsecutiveFailures != 3 {
		t.Errorf("consecutive failures = %d, want 3", state.ConsecutiveFailures)
	}
}

func TestAdvanceDaySuccessResetsFailureCounter(t *testing.T) {
	gw := &fakeGateway{err: cerr.NewError(cerr.Unavailable, "completion retries exhausted", nil)}
	e := New(gw, 3).WithClock(fixedClock())

	state := newActiveState(3)
	next, err := e.AdvanceDay(context.Background(), state)
	if err == nil {
		t.Fatal("expected error")
	}

	gw.err = nil
	gw.response = "recovered"
	next, err = e.AdvanceDay(context.Background(), next)
	if err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if next.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures = %d, want 0 after success", next.ConsecutiveFailures)
	}
	if next.CurrentDay != 1 {
		t.Errorf("current day = %d, want 1", next.CurrentDay)
	}
}

func TestAdvanceDayRejectsNilAndInvalidStates(t *testing.T) {
	e := New(&fakeGateway{response: "ok"}, 3)

	if _, err := e.AdvanceDay(context.Background(), nil); !cerr.IsCode(err, cerr.FailedPrecondition) {
		t.Errorf("nil state: expected FailedPrecondition, got %v", err)
	}

	state := newActiveState(2)
	state.Goal.Text = ""
	if _, err := e.AdvanceDay(context.Background(), state); !cerr.IsCode(err, cerr.FailedPrecondition) {
		t.Errorf("invalid state: expected FailedPrecondition, got %v", err)
	}
}

func TestAdvanceDayUsesInjectedClock(t *testing.T) {
	want := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	gw := &fakeGateway{response: "ok"}
	e := New(gw, 3).WithClock(fixedClock())

	next, err := e.AdvanceDay(context.Background(), newActiveState(2))
	if err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if !next.Log[0].Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", next.Log[0].Timestamp, want)
	}
	if !next.UpdatedAt.Equal(want) {
		t.Errorf("updated at = %v, want %v", next.UpdatedAt, want)
	}
}
