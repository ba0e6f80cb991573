package persistence

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/mailflow/workflow"
)

// storeFactory returns a fresh, empty store. The factory registers its own cleanup.
type storeFactory func(t *testing.T) Store

func sampleWorkflow(id string) *workflow.Workflow {
	retries := 2
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &workflow.Workflow{
		ID:      id,
		OwnerID: "owner-1",
		Status:  workflow.WorkflowStatusDraft,
		Definition: workflow.Definition{
			Name:        "triage " + id,
			Description: "label and route inbound mail",
			Nodes: []*workflow.Node{
				{ID: "trigger", Name: "Inbound", Type: workflow.NodeTypeTrigger},
				{
					ID:         "classify",
					Name:       "Classify",
					Type:       workflow.NodeTypeClassifier,
					Parameters: map[string]any{"model": "support-v2", "labels": "billing,bug"},
					Condition:  "input.priority == 'high'",
				},
			},
			Connections: []workflow.Connection{
				{From: "trigger", To: "classify", Type: workflow.ConnectionTypeDefault},
			},
			ErrorHandling: workflow.ErrorHandlingConfig{
				RecoveryStrategy: workflow.RecoveryRetry,
				MaxRetries:       &retries,
				RetryDelay:       250 * time.Millisecond,
			},
			Strategy: workflow.StrategySequential,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func sampleSnapshot(workflowID, executionID string, start time.Time) *workflow.ExecutionSnapshot {
	return &workflow.ExecutionSnapshot{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		OwnerID:     "owner-1",
		Status:      workflow.ExecutionStatusCompleted,
		Input:       map[string]any{"subject": "invoice overdue"},
		Path:        []workflow.PathEntry{{NodeID: "trigger"}, {NodeID: "classify"}},
		Results:     map[string]any{"classify": "billing"},
		StartTime:   start.UTC(),
		EndTime:     start.Add(40 * time.Millisecond).UTC(),
	}
}

func runStoreSuite(t *testing.T, newStore storeFactory) {
	t.Run("insert and get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		wf := sampleWorkflow("wf-1")
		require.NoError(t, s.InsertWorkflow(ctx, wf))

		got, err := s.GetWorkflow(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, wf.ID, got.ID)
		assert.Equal(t, wf.OwnerID, got.OwnerID)
		assert.Equal(t, workflow.WorkflowStatusDraft, got.Status)
		assert.Equal(t, wf.Name, got.Name)
		assert.Equal(t, wf.Description, got.Description)
		assert.Equal(t, workflow.StrategySequential, got.Strategy)
		require.Len(t, got.Nodes, 2)
		assert.Equal(t, "classify", got.Nodes[1].ID)
		assert.Equal(t, workflow.NodeTypeClassifier, got.Nodes[1].Type)
		assert.Equal(t, "support-v2", got.Nodes[1].StringParam("model"))
		assert.Equal(t, "input.priority == 'high'", got.Nodes[1].Condition)
		require.Len(t, got.Connections, 1)
		assert.Equal(t, "trigger", got.Connections[0].From)
		assert.Equal(t, "classify", got.Connections[0].To)
		assert.Equal(t, 2, got.ErrorHandling.Retries())
		assert.Equal(t, 250*time.Millisecond, got.ErrorHandling.RetryDelay)
		assert.WithinDuration(t, wf.CreatedAt, got.CreatedAt, time.Second)
	})

	t.Run("get returns a copy", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.InsertWorkflow(ctx, sampleWorkflow("wf-1")))

		got, err := s.GetWorkflow(ctx, "wf-1")
		require.NoError(t, err)
		got.Nodes[1].Parameters["model"] = "changed"

		again, err := s.GetWorkflow(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, "support-v2", again.Nodes[1].StringParam("model"))
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetWorkflow(context.Background(), "nope")
		require.Error(t, err)
		assert.True(t, errors.Is(err, workflow.ErrWorkflowNotFound))
	})

	t.Run("duplicate insert", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.InsertWorkflow(ctx, sampleWorkflow("wf-1")))
		err := s.InsertWorkflow(ctx, sampleWorkflow("wf-1"))
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("invalid input", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		assert.ErrorIs(t, s.InsertWorkflow(ctx, &workflow.Workflow{}), ErrInvalidInput)
		assert.ErrorIs(t, s.InsertExecutionRecord(ctx, &workflow.ExecutionSnapshot{ExecutionID: "x"}), ErrInvalidInput)
	})

	t.Run("update status", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.InsertWorkflow(ctx, sampleWorkflow("wf-1")))

		require.NoError(t, s.UpdateWorkflowStatus(ctx, "wf-1", workflow.WorkflowStatusDeployed))
		got, err := s.GetWorkflow(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, workflow.WorkflowStatusDeployed, got.Status)

		// same status again is not an error
		require.NoError(t, s.UpdateWorkflowStatus(ctx, "wf-1", workflow.WorkflowStatusDeployed))
	})

	t.Run("update status of missing workflow", func(t *testing.T) {
		s := newStore(t)
		err := s.UpdateWorkflowStatus(context.Background(), "nope", workflow.WorkflowStatusDisabled)
		assert.ErrorIs(t, err, workflow.ErrWorkflowNotFound)
	})

	t.Run("list executions newest first", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.InsertWorkflow(ctx, sampleWorkflow("wf-1")))
		require.NoError(t, s.InsertWorkflow(ctx, sampleWorkflow("wf-2")))

		base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		for i := 0; i < 4; i++ {
			snap := sampleSnapshot("wf-1", fmt.Sprintf("exec-%d", i), base.Add(time.Duration(i)*time.Minute))
			require.NoError(t, s.InsertExecutionRecord(ctx, snap))
		}
		require.NoError(t, s.InsertExecutionRecord(ctx, sampleSnapshot("wf-2", "other", base)))

		all, err := s.ListExecutions(ctx, "wf-1", 0)
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, "exec-3", all[0].ExecutionID)
		assert.Equal(t, "exec-0", all[3].ExecutionID)
		assert.Equal(t, workflow.ExecutionStatusCompleted, all[0].Status)
		assert.Equal(t, "billing", all[0].Results["classify"])
		assert.Equal(t, "invoice overdue", all[0].Input["subject"])
		require.Len(t, all[0].Path, 2)
		assert.Equal(t, "classify", all[0].Path[1].NodeID)

		limited, err := s.ListExecutions(ctx, "wf-1", 2)
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, "exec-3", limited[0].ExecutionID)
		assert.Equal(t, "exec-2", limited[1].ExecutionID)

		none, err := s.ListExecutions(ctx, "wf-unknown", 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ping and close", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Ping(context.Background()))
		require.NoError(t, s.Close())
		assert.Error(t, s.Ping(context.Background()))
	})
}
