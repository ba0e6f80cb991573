package workflow

import (
	"context"
	"errors"
	"time"
)

// ErrWorkflowNotFound is wrapped by stores when a workflow id is unknown.
var ErrWorkflowNotFound = errors.New("workflow not found")

// Store persists workflows and execution records.
type Store interface {
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	InsertWorkflow(ctx context.Context, wf *Workflow) error
	InsertExecutionRecord(ctx context.Context, snap *ExecutionSnapshot) error
	UpdateWorkflowStatus(ctx context.Context, id string, status WorkflowStatus) error
}

// ExecutionLister is implemented by stores that can list past runs.
type ExecutionLister interface {
	ListExecutions(ctx context.Context, workflowID string, limit int) ([]*ExecutionSnapshot, error)
}

// MetricsRecorder receives engine metrics.
type MetricsRecorder interface {
	RecordNodeExecution(nodeType, status string, duration time.Duration)
	RecordWorkflowExecution(strategy, status string, duration time.Duration)
	RecordRecovery(strategy, action string, success bool)
	SetActiveExecutions(n int)
}

type nopMetrics struct{}

func (nopMetrics) RecordNodeExecution(string, string, time.Duration)     {}
func (nopMetrics) RecordWorkflowExecution(string, string, time.Duration) {}
func (nopMetrics) RecordRecovery(string, string, bool)                   {}
func (nopMetrics) SetActiveExecutions(int)                               {}
