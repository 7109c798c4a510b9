package goal

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// SchemaVersion is written into every persisted AgentState. Loading a record
// with a greater version fails explicitly instead of guessing at its shape.
const SchemaVersion = 1

type SubtaskStatus string

const (
	SubtaskStatusPending    SubtaskStatus = "PENDING"
	SubtaskStatusInProgress SubtaskStatus = "IN_PROGRESS"
	SubtaskStatusDone       SubtaskStatus = "DONE"
	SubtaskStatusSkipped    SubtaskStatus = "SKIPPED"
)

// subtaskTransitions encodes the forward-only lifecycle. A status never
// regresses; Done and Skipped are final.
var subtaskTransitions = map[SubtaskStatus]map[SubtaskStatus]struct{}{
	SubtaskStatusPending: {
		SubtaskStatusInProgress: {},
		SubtaskStatusSkipped:    {},
	},
	SubtaskStatusInProgress: {
		SubtaskStatusDone:    {},
		SubtaskStatusSkipped: {},
	},
	SubtaskStatusDone:    {},
	SubtaskStatusSkipped: {},
}

func (s SubtaskStatus) CanTransitionTo(next SubtaskStatus) bool {
	allowed, ok := subtaskTransitions[s]
	if !ok {
		return false
	}
	_, ok = allowed[next]
	return ok
}

type Status string

const (
	StatusPlanning  Status = "PLANNING"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusStalled   Status = "STALLED"
)

// Terminal reports whether no transition leaves this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusStalled
}

// Goal is the immutable user-supplied objective.
type Goal struct {
	Text      string    `yaml:"text"`
	CreatedAt time.Time `yaml:"created_at"`
}

// Subtask is one discrete unit of work within a Plan.
type Subtask struct {
	ID          int           `yaml:"id"`
	Description string        `yaml:"description"`
	Status      SubtaskStatus `yaml:"status"`
}

// Plan is the day-estimate and subtask decomposition derived from a Goal.
type Plan struct {
	EstimatedDays int       `yaml:"estimated_days"`
	Subtasks      []Subtask `yaml:"subtasks"`
}

// NextPending returns the index of the first Pending or InProgress subtask at
// or after from, or -1 if none remain.
func (p *Plan) NextPending(from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(p.Subtasks); i++ {
		switch p.Subtasks[i].Status {
		case SubtaskStatusPending, SubtaskStatusInProgress:
			return i
		}
	}
	return -1
}

// DoneCount returns the number of subtasks marked Done.
func (p *Plan) DoneCount() int {
	n := 0
	for i := range p.Subtasks {
		if p.Subtasks[i].Status == SubtaskStatusDone {
			n++
		}
	}
	return n
}

// DailyEntry records one day's completed work. The log is append-only; an
// entry is never mutated or deleted once written.
type DailyEntry struct {
	Day       int       `yaml:"day"`
	SubtaskID int       `yaml:"subtask_id"`
	Summary   string    `yaml:"summary"`
	Timestamp time.Time `yaml:"timestamp"`
}

// AgentState is the single durable record capturing goal, plan, and progress.
type AgentState struct {
	ID                  string       `yaml:"id"`
	SchemaVersion       int          `yaml:"schema_version"`
	Goal                Goal         `yaml:"goal"`
	Plan                Plan         `yaml:"plan"`
	CurrentDay          int          `yaml:"current_day"`
	CurrentSubtaskIndex int          `yaml:"current_subtask_index"`
	Log                 []DailyEntry `yaml:"log"`
	Status              Status       `yaml:"status"`
	ConsecutiveFailures int          `yaml:"consecutive_failures"`
	CreatedAt           time.Time    `yaml:"created_at"`
	UpdatedAt           time.Time    `yaml:"updated_at"`
}

// NewAgentState builds the initial Active state for a freshly planned goal.
func NewAgentState(g Goal, p Plan, now time.Time) *AgentState {
	return &AgentState{
		ID:                  ulid.Make().String(),
		SchemaVersion:       SchemaVersion,
		Goal:                g,
		Plan:                p,
		CurrentDay:          0,
		CurrentSubtaskIndex: 0,
		Status:              StatusActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// Clone returns a deep copy. The progress engine mutates only clones, so a
// failed advancement can never partially corrupt the caller's state.
func (s *AgentState) Clone() *AgentState {
	if s == nil {
		return nil
	}
	c := *s
	c.Plan.Subtasks = make([]Subtask, len(s.Plan.Subtasks))
	copy(c.Plan.Subtasks, s.Plan.Subtasks)
	c.Log = make([]DailyEntry, len(s.Log))
	copy(c.Log, s.Log)
	return &c
}

// HasEntryForDay reports whether the log already contains an entry for day.
func (s *AgentState) HasEntryForDay(day int) bool {
	for i := range s.Log {
		if s.Log[i].Day == day {
			return true
		}
	}
	return false
}

// LastEntry returns the most recent log entry, or nil if the log is empty.
func (s *AgentState) LastEntry() *DailyEntry {
	if len(s.Log) == 0 {
		return nil
	}
	return &s.Log[len(s.Log)-1]
}

// Validate checks the structural invariants of a state record. A persisted
// record that fails validation is corrupt and must not be advanced.
func (s *AgentState) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("missing id")
	}
	if s.Goal.Text == "" {
		return fmt.Errorf("missing goal text")
	}
	switch s.Status {
	case StatusPlanning, StatusActive, StatusCompleted, StatusStalled:
	default:
		return fmt.Errorf("invalid status %q", s.Status)
	}
	if s.Status != StatusPlanning {
		if s.Plan.EstimatedDays <= 0 {
			return fmt.Errorf("estimated days must be positive, got %d", s.Plan.EstimatedDays)
		}
		if len(s.Plan.Subtasks) == 0 {
			return fmt.Errorf("plan has no subtasks")
		}
	}
	if s.CurrentDay < 0 {
		return fmt.Errorf("current day %d is negative", s.CurrentDay)
	}
	if s.CurrentDay > len(s.Log)+1 {
		return fmt.Errorf("current day %d exceeds log length %d + 1", s.CurrentDay, len(s.Log))
	}
	if s.Status == StatusActive {
		idx := s.CurrentSubtaskIndex
		if idx < 0 || idx >= len(s.Plan.Subtasks) {
			return fmt.Errorf("subtask index %d out of range", idx)
		}
		switch st := s.Plan.Subtasks[idx].Status; st {
		case SubtaskStatusPending, SubtaskStatusInProgress:
		default:
			return fmt.Errorf("current subtask %d has status %q", idx, st)
		}
	}
	for i := range s.Plan.Subtasks {
		if s.Plan.Subtasks[i].ID != i {
			return fmt.Errorf("subtask ids are not sequential at index %d", i)
		}
	}
	return nil
}
