package repositoryimpl

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/aaravM123/goalkeeper/internal/goal"
	"github.com/aaravM123/goalkeeper/pkg/cerr"
	"github.com/aaravM123/goalkeeper/pkg/storage"
)

// statePath is the single well-known storage key for the agent record.
const statePath = "agent/state.yaml"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func (r *YAMLRepository) Load(ctx context.Context) (*goal.AgentState, error) {
	data, err := r.storage.Read(ctx, statePath)
	if err != nil {
		return nil, cerr.WrapStorageReadError("agent state", err)
	}
	var s goal.AgentState
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, cerr.NewError(cerr.DataLoss, "agent state is corrupt", fmt.Errorf("failed to unmarshal agent state: %w", err))
	}
	if s.SchemaVersion > goal.SchemaVersion {
		return nil, cerr.NewError(cerr.FailedPrecondition, "agent state was written by a newer version",
			fmt.Errorf("record schema version %d, engine supports up to %d", s.SchemaVersion, goal.SchemaVersion))
	}
	if err := s.Validate(); err != nil {
		return nil, cerr.NewError(cerr.DataLoss, "agent state is corrupt", err)
	}
	return &s, nil
}

func (r *YAMLRepository) Save(ctx context.Context, state *goal.AgentState) error {
	if err := state.Validate(); err != nil {
		return cerr.NewError(cerr.InvalidArgument, "refusing to persist invalid agent state", err)
	}
	data, err := yaml.Marshal(state)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal agent state: %w", err))
	}
	if err := r.storage.Write(ctx, statePath, data); err != nil {
		return cerr.WrapStorageWriteError("agent state", err)
	}
	return nil
}
