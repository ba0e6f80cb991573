package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/mailflow/workflow"
)

// MemoryStore is an in-memory Store for development and tests.
// Workflows are cloned on the way in and out; execution records are kept
// JSON-encoded so callers never share maps with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	workflows  map[string]*workflow.Workflow
	executions map[string][]string
	closed     bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:  make(map[string]*workflow.Workflow),
		executions: make(map[string][]string),
	}
}

// GetWorkflow returns a copy of the stored workflow.
func (s *MemoryStore) GetWorkflow(_ context.Context, id string) (*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	wf, ok := s.workflows[id]
	if !ok {
		return nil, notFound(id)
	}
	return wf.Clone(), nil
}

// InsertWorkflow stores a copy of wf. Ids must be unique.
func (s *MemoryStore) InsertWorkflow(_ context.Context, wf *workflow.Workflow) error {
	if err := validateWorkflowInput(wf); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.workflows[wf.ID]; ok {
		return fmt.Errorf("workflow %s: %w", wf.ID, ErrAlreadyExists)
	}
	s.workflows[wf.ID] = wf.Clone()
	return nil
}

// UpdateWorkflowStatus changes the status and bumps UpdatedAt.
func (s *MemoryStore) UpdateWorkflowStatus(_ context.Context, id string, status workflow.WorkflowStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	wf, ok := s.workflows[id]
	if !ok {
		return notFound(id)
	}
	wf.Status = status
	wf.UpdatedAt = time.Now().UTC()
	return nil
}

// InsertExecutionRecord appends a run snapshot.
func (s *MemoryStore) InsertExecutionRecord(_ context.Context, snap *workflow.ExecutionSnapshot) error {
	if err := validateSnapshotInput(snap); err != nil {
		return err
	}
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.executions[snap.WorkflowID] = append(s.executions[snap.WorkflowID], data)
	return nil
}

// ListExecutions returns up to limit runs of a workflow, newest first.
func (s *MemoryStore) ListExecutions(_ context.Context, workflowID string, limit int) ([]*workflow.ExecutionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	records := s.executions[workflowID]
	snaps := make([]*workflow.ExecutionSnapshot, 0, len(records))
	for _, data := range records {
		snap, err := decodeSnapshot(data)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	sortNewestFirst(snaps)
	if n := normalizeLimit(limit); len(snaps) > n {
		snaps = snaps[:n]
	}
	return snaps, nil
}

// Ping reports whether the store is open.
func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
