package goal

import "context"

// StateRepository persists the single AgentState record. Implementations only
// serialize and deserialize the record; they never interpret it.
type StateRepository interface {
	// Load returns the persisted state, or a NotFound error on first run.
	Load(ctx context.Context) (*AgentState, error)
	// Save replaces the persisted state atomically: a crash mid-save leaves
	// either the previous or the new complete record.
	Save(ctx context.Context, state *AgentState) error
}
