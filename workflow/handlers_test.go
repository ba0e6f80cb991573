package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/types"
)

func TestHandlerRegistry(t *testing.T) {
	t.Parallel()
	r := NewHandlerRegistry()
	assert.Equal(t, []NodeType{NodeTypeCondition, NodeTypeDelay, NodeTypeNoop, NodeTypeTrigger}, r.Types())

	assert.Error(t, r.Register("", NodeHandlerFunc(passThroughHandler)))
	assert.Error(t, r.Register(NodeTypeWebhook, nil))
	assert.Panics(t, func() { r.MustRegister("", nil) })

	require.NoError(t, r.Register(NodeTypeWebhook, NodeHandlerFunc(passThroughHandler)))
	_, ok := r.Lookup(NodeTypeWebhook)
	assert.True(t, ok)
	_, ok = r.Lookup(NodeTypeClassifier)
	assert.False(t, ok)
}

func TestConditionHandler(t *testing.T) {
	t.Parallel()
	ec := NewExecutionContext("e", "wf", map[string]any{"score": 7})

	tests := []struct {
		name     string
		params   map[string]any
		wantNext []string
		wantErr  bool
	}{
		{"true without routing follows all", map[string]any{"expression": "score > 5"}, nil, false},
		{"false without routing stops", map[string]any{"expression": "score > 9"}, []string{}, false},
		{"true routes", map[string]any{"expression": "score > 5", "on_true": "hot"}, []string{"hot"}, false},
		{"false routes", map[string]any{"expression": "score > 9", "on_false": []any{"cold", 3}}, []string{"cold"}, false},
		{"missing expression", map[string]any{}, nil, true},
		{"missing field", map[string]any{"expression": "nope == 1"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := conditionHandler(context.Background(), &Node{ID: "c", Parameters: tt.params}, ec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantNext, out.Next)
		})
	}
}

func TestDelayHandler(t *testing.T) {
	t.Parallel()
	ec := NewExecutionContext("e", "wf", nil)

	out, err := delayHandler(context.Background(), &Node{ID: "d", Parameters: map[string]any{"duration": "1ms"}}, ec)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"waited": "1ms"}, out.Data)

	_, err = delayHandler(context.Background(), &Node{ID: "d", Parameters: map[string]any{"duration": true}}, ec)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = delayHandler(ctx, &Node{ID: "d", Parameters: map[string]any{"duration": 10_000}}, ec)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	for in, want := range map[any]time.Duration{
		nil:              0,
		"2s":             2 * time.Second,
		250:              250 * time.Millisecond,
		int64(5):         5 * time.Millisecond,
		1.5:              1500 * time.Microsecond,
		time.Millisecond: time.Millisecond,
	} {
		got, err := parseDuration(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDispatcher_RecoversHandlerPanic(t *testing.T) {
	t.Parallel()
	registry := NewHandlerRegistry()
	registry.MustRegister(stepType, NodeHandlerFunc(func(context.Context, *Node, *ExecutionContext) (NodeOutput, error) {
		panic("kaboom")
	}))
	d := NewDispatcher(registry, DispatcherOptions{}, zap.NewNop())

	ec := NewExecutionContext("e", "wf", nil)
	res, err := d.ExecuteNode(context.Background(), stepNode("A"), ec)
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.True(t, types.IsCode(err, types.ErrNodeExecution))
	assert.Contains(t, err.Error(), "kaboom")
	assert.Len(t, ec.Errors(), 1)
}

func TestDispatcher_WrapsHandlerError(t *testing.T) {
	t.Parallel()
	cause := errors.New("smtp down")
	registry := NewHandlerRegistry()
	registry.MustRegister(NodeTypeNotification, NodeHandlerFunc(func(context.Context, *Node, *ExecutionContext) (NodeOutput, error) {
		return NodeOutput{}, cause
	}))
	d := NewDispatcher(registry, DispatcherOptions{}, nil)

	ec := NewExecutionContext("e", "wf", nil)
	_, err := d.ExecuteNode(context.Background(), &Node{ID: "notify", Type: NodeTypeNotification}, ec)
	assert.ErrorIs(t, err, cause)
	te, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "notify", te.NodeID)
	assert.Equal(t, "wf", te.WorkflowID)
	assert.True(t, te.Retryable)
}
