package persistence

import (
	"context"
	"time"

	"github.com/BaSui01/mailflow/workflow"
)

// OperationRecorder receives store operation timings.
type OperationRecorder interface {
	RecordStoreOperation(backend, operation string, duration time.Duration, err error)
}

type instrumentedStore struct {
	inner    Store
	backend  string
	recorder OperationRecorder
}

// Instrument reports every operation of s to recorder under the backend label.
func Instrument(s Store, backend Backend, recorder OperationRecorder) Store {
	if recorder == nil {
		return s
	}
	return &instrumentedStore{inner: s, backend: string(backend), recorder: recorder}
}

// observe reads *err when the deferred call runs, after the named result is set.
func (s *instrumentedStore) observe(op string, start time.Time, err *error) {
	s.recorder.RecordStoreOperation(s.backend, op, time.Since(start), *err)
}

func (s *instrumentedStore) GetWorkflow(ctx context.Context, id string) (wf *workflow.Workflow, err error) {
	defer s.observe("get_workflow", time.Now(), &err)
	return s.inner.GetWorkflow(ctx, id)
}

func (s *instrumentedStore) InsertWorkflow(ctx context.Context, wf *workflow.Workflow) (err error) {
	defer s.observe("insert_workflow", time.Now(), &err)
	return s.inner.InsertWorkflow(ctx, wf)
}

func (s *instrumentedStore) UpdateWorkflowStatus(ctx context.Context, id string, status workflow.WorkflowStatus) (err error) {
	defer s.observe("update_workflow_status", time.Now(), &err)
	return s.inner.UpdateWorkflowStatus(ctx, id, status)
}

func (s *instrumentedStore) InsertExecutionRecord(ctx context.Context, snap *workflow.ExecutionSnapshot) (err error) {
	defer s.observe("insert_execution", time.Now(), &err)
	return s.inner.InsertExecutionRecord(ctx, snap)
}

func (s *instrumentedStore) ListExecutions(ctx context.Context, workflowID string, limit int) (snaps []*workflow.ExecutionSnapshot, err error) {
	defer s.observe("list_executions", time.Now(), &err)
	return s.inner.ListExecutions(ctx, workflowID, limit)
}

func (s *instrumentedStore) Ping(ctx context.Context) error { return s.inner.Ping(ctx) }

func (s *instrumentedStore) Close() error { return s.inner.Close() }
