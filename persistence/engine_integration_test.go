package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/workflow"
)

func triageDefinition() workflow.Definition {
	return workflow.Definition{
		Name: "triage",
		Nodes: []*workflow.Node{
			{ID: "in", Type: workflow.NodeTypeTrigger},
			{ID: "route", Type: workflow.NodeTypeCondition, Parameters: map[string]any{
				"expression": `priority == "high"`,
				"on_true":    []string{"urgent"},
				"on_false":   []string{"normal"},
			}},
			{ID: "urgent", Type: workflow.NodeTypeNoop},
			{ID: "normal", Type: workflow.NodeTypeDelay, Parameters: map[string]any{"duration": 1}},
		},
		Connections: []workflow.Connection{
			{From: "in", To: "route"},
			{From: "route", To: "urgent"},
			{From: "route", To: "normal"},
		},
	}
}

func TestEngineRoundTripThroughStores(t *testing.T) {
	backends := map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			return newSQLiteStore(t)
		},
		"redis": func(t *testing.T) Store {
			_, s := newMiniredisStore(t)
			return s
		},
	}

	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			engine, err := workflow.NewEngine(store, workflow.WithLogger(zap.NewNop()))
			require.NoError(t, err)
			ctx := context.Background()

			wf, err := engine.CreateWorkflow(ctx, "owner-1", triageDefinition())
			require.NoError(t, err)

			deployed, err := engine.DeployWorkflow(ctx, wf.ID)
			require.NoError(t, err)
			assert.Equal(t, workflow.WorkflowStatusDeployed, deployed.Status)

			stored, err := store.GetWorkflow(ctx, wf.ID)
			require.NoError(t, err)
			assert.Equal(t, workflow.WorkflowStatusDeployed, stored.Status)

			res, err := engine.ExecuteWorkflow(ctx, wf.ID, map[string]any{"priority": "low"}, workflow.RunOptions{})
			require.NoError(t, err)
			assert.True(t, res.Success)
			var path []string
			for _, p := range res.Path {
				path = append(path, p.NodeID)
			}
			assert.Equal(t, []string{"in", "route", "normal"}, path)

			_, err = engine.ExecuteWorkflow(ctx, wf.ID, map[string]any{"priority": "high"}, workflow.RunOptions{})
			require.NoError(t, err)

			runs, err := store.ListExecutions(ctx, wf.ID, 10)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			for _, run := range runs {
				assert.Equal(t, wf.ID, run.WorkflowID)
				assert.Equal(t, "owner-1", run.OwnerID)
				assert.Equal(t, workflow.ExecutionStatusCompleted, run.Status)
			}
		})
	}
}
