package goal

import (
	"testing"
	"time"
)

func TestSubtaskStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to SubtaskStatus
		allowed  bool
	}{
		{SubtaskStatusPending, SubtaskStatusInProgress, true},
		{SubtaskStatusPending, SubtaskStatusSkipped, true},
		{SubtaskStatusPending, SubtaskStatusDone, false},
		{SubtaskStatusInProgress, SubtaskStatusDone, true},
		{SubtaskStatusInProgress, SubtaskStatusSkipped, true},
		{SubtaskStatusInProgress, SubtaskStatusPending, false},
		{SubtaskStatusDone, SubtaskStatusPending, false},
		{SubtaskStatusDone, SubtaskStatusInProgress, false},
		{SubtaskStatusSkipped, SubtaskStatusPending, false},
		{SubtaskStatusSkipped, SubtaskStatusDone, false},
	}

	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.allowed {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.allowed)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusPlanning.Terminal() || StatusActive.Terminal() {
		t.Error("Planning and Active must not be terminal")
	}
	if !StatusCompleted.Terminal() || !StatusStalled.Terminal() {
		t.Error("Completed and Stalled must be terminal")
	}
}

func TestPlanNextPending(t *testing.T) {
	p := Plan{Subtasks: []Subtask{
		{ID: 0, Status: SubtaskStatusDone},
		{ID: 1, Status: SubtaskStatusSkipped},
		{ID: 2, Status: SubtaskStatusPending},
		{ID: 3, Status: SubtaskStatusPending},
	}}

	if got := p.NextPending(0); got != 2 {
		t.Errorf("NextPending(0) = %d, want 2", got)
	}
	if got := p.NextPending(3); got != 3 {
		t.Errorf("NextPending(3) = %d, want 3", got)
	}
	if got := p.NextPending(4); got != -1 {
		t.Errorf("NextPending(4) = %d, want -1", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	state := newTestState()
	state.Log = append(state.Log, DailyEntry{Day: 0, Summary: "first"})

	c := state.Clone()
	c.Plan.Subtasks[0].Status = SubtaskStatusDone
	c.Log[0].Summary = "changed"
	c.CurrentDay = 99

	if state.Plan.Subtasks[0].Status != SubtaskStatusPending {
		t.Error("clone mutation leaked into original subtasks")
	}
	if state.Log[0].Summary != "first" {
		t.Error("clone mutation leaked into original log")
	}
	if state.CurrentDay != 0 {
		t.Error("clone mutation leaked into original scalar field")
	}
}

func TestHasEntryForDay(t *testing.T) {
	state := newTestState()
	state.Log = []DailyEntry{{Day: 0}, {Day: 1}}

	if !state.HasEntryForDay(1) {
		t.Error("expected entry for day 1")
	}
	if state.HasEntryForDay(2) {
		t.Error("unexpected entry for day 2")
	}
}

func TestValidate(t *testing.T) {
	valid := newTestState()
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid state failed validation: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*AgentState)
	}{
		{"missing id", func(s *AgentState) { s.ID = "" }},
		{"missing goal text", func(s *AgentState) { s.Goal.Text = "" }},
		{"invalid status", func(s *AgentState) { s.Status = "DANCING" }},
		{"no subtasks", func(s *AgentState) { s.Plan.Subtasks = nil }},
		{"zero day estimate", func(s *AgentState) { s.Plan.EstimatedDays = 0 }},
		{"negative day", func(s *AgentState) { s.CurrentDay = -1 }},
		{"day ahead of log", func(s *AgentState) { s.CurrentDay = 5 }},
		{"index out of range", func(s *AgentState) { s.CurrentSubtaskIndex = 10 }},
		{"active on finished subtask", func(s *AgentState) { s.Plan.Subtasks[0].Status = SubtaskStatusDone }},
		{"non-sequential ids", func(s *AgentState) { s.Plan.Subtasks[1].ID = 7 }},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := newTestState()
			c.mutate(s)
			if err := s.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func newTestState() *AgentState {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return NewAgentState(
		Goal{Text: "learn to juggle", CreatedAt: now},
		Plan{
			EstimatedDays: 2,
			Subtasks: []Subtask{
				{ID: 0, Description: "practice with two balls", Status: SubtaskStatusPending},
				{ID: 1, Description: "add a third ball", Status: SubtaskStatusPending},
			},
		},
		now,
	)
}
