package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/BaSui01/mailflow/workflow"
)

// Common errors
var (
	ErrAlreadyExists = errors.New("already exists")
	ErrStoreClosed   = errors.New("store is closed")
	ErrInvalidInput  = errors.New("invalid input")
)

// Backend names a storage implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendDatabase Backend = "database"
	BackendRedis    Backend = "redis"
	BackendMongo    Backend = "mongo"
)

// DefaultListLimit caps ListExecutions when the caller passes limit <= 0.
const DefaultListLimit = 50

// Store is the full persistence surface used by the engine and the CLI.
type Store interface {
	workflow.Store
	workflow.ExecutionLister

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

func notFound(id string) error {
	return fmt.Errorf("workflow %s: %w", id, workflow.ErrWorkflowNotFound)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// sortNewestFirst orders snapshots by start time, newest first, breaking ties by id.
func sortNewestFirst(snaps []*workflow.ExecutionSnapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		if snaps[i].StartTime.Equal(snaps[j].StartTime) {
			return snaps[i].ExecutionID > snaps[j].ExecutionID
		}
		return snaps[i].StartTime.After(snaps[j].StartTime)
	})
}

func encodeDefinition(def workflow.Definition) (string, error) {
	data, err := json.Marshal(def)
	if err != nil {
		return "", fmt.Errorf("failed to marshal definition: %w", err)
	}
	return string(data), nil
}

func decodeDefinition(data string) (workflow.Definition, error) {
	var def workflow.Definition
	if err := json.Unmarshal([]byte(data), &def); err != nil {
		return def, fmt.Errorf("failed to unmarshal definition: %w", err)
	}
	return def, nil
}

func encodeSnapshot(snap *workflow.ExecutionSnapshot) (string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to marshal execution record: %w", err)
	}
	return string(data), nil
}

func decodeSnapshot(data string) (*workflow.ExecutionSnapshot, error) {
	var snap workflow.ExecutionSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution record: %w", err)
	}
	return &snap, nil
}

func validateWorkflowInput(wf *workflow.Workflow) error {
	if wf == nil || wf.ID == "" {
		return fmt.Errorf("workflow id is required: %w", ErrInvalidInput)
	}
	return nil
}

func validateSnapshotInput(snap *workflow.ExecutionSnapshot) error {
	if snap == nil || snap.ExecutionID == "" || snap.WorkflowID == "" {
		return fmt.Errorf("execution and workflow ids are required: %w", ErrInvalidInput)
	}
	return nil
}
