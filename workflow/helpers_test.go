package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const stepType NodeType = "step"

// memStore is a minimal Store for engine tests.
type memStore struct {
	mu         sync.Mutex
	workflows  map[string]*Workflow
	executions []*ExecutionSnapshot
	insertErr  error
}

func newMemStore() *memStore {
	return &memStore{workflows: make(map[string]*Workflow)}
}

func (s *memStore) GetWorkflow(_ context.Context, id string) (*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrWorkflowNotFound)
	}
	return wf.Clone(), nil
}

func (s *memStore) InsertWorkflow(_ context.Context, wf *Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = wf.Clone()
	return nil
}

func (s *memStore) InsertExecutionRecord(_ context.Context, snap *ExecutionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.executions = append(s.executions, snap)
	return nil
}

func (s *memStore) UpdateWorkflowStatus(_ context.Context, id string, status WorkflowStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return ErrWorkflowNotFound
	}
	wf.Status = status
	return nil
}

func (s *memStore) lastExecution() *ExecutionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.executions) == 0 {
		return nil
	}
	return s.executions[len(s.executions)-1]
}

// scriptedHandler fails a node for its first N calls (-1 means always).
type scriptedHandler struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
	order    []string
}

func newScriptedHandler() *scriptedHandler {
	return &scriptedHandler{failures: make(map[string]int), calls: make(map[string]int)}
}

func (h *scriptedHandler) fail(nodeID string, times int) *scriptedHandler {
	h.failures[nodeID] = times
	return h
}

func (h *scriptedHandler) Handle(_ context.Context, node *Node, _ *ExecutionContext) (NodeOutput, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[node.ID]++
	h.order = append(h.order, node.ID)
	if n, ok := h.failures[node.ID]; ok && (n < 0 || h.calls[node.ID] <= n) {
		return NodeOutput{}, errors.New("boom: " + node.ID)
	}
	return NodeOutput{Data: map[string]any{"node": node.ID}}, nil
}

func (h *scriptedHandler) callCount(nodeID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[nodeID]
}

// fakeMetrics counts recorder calls.
type fakeMetrics struct {
	mu         sync.Mutex
	nodes      map[string]int
	workflows  map[string]int
	recoveries []string
	active     []int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{nodes: make(map[string]int), workflows: make(map[string]int)}
}

func (m *fakeMetrics) RecordNodeExecution(nodeType, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[nodeType+"/"+status]++
}

func (m *fakeMetrics) RecordWorkflowExecution(strategy, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[strategy+"/"+status]++
}

func (m *fakeMetrics) RecordRecovery(strategy, action string, _ bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoveries = append(m.recoveries, strategy+"/"+action)
}

func (m *fakeMetrics) SetActiveExecutions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = append(m.active, n)
}

// delayRecorder replaces the retry wait.
type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *delayRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func stepNode(id string) *Node {
	return &Node{ID: id, Name: id, Type: stepType}
}

// chainDefinition builds nodes of stepType and the given edges ("A>B").
func chainDefinition(name string, ids []string, edges ...string) Definition {
	def := Definition{Name: name}
	for _, id := range ids {
		def.Nodes = append(def.Nodes, stepNode(id))
	}
	for _, e := range edges {
		var from, to string
		for i := 0; i < len(e); i++ {
			if e[i] == '>' {
				from, to = e[:i], e[i+1:]
				break
			}
		}
		def.Connections = append(def.Connections, Connection{From: from, To: to})
	}
	return def
}

func newTestEngine(t *testing.T, store Store, handler NodeHandler, opts ...Option) *Engine {
	t.Helper()
	registry := NewHandlerRegistry()
	if handler != nil {
		registry.MustRegister(stepType, handler)
	}
	base := []Option{WithRegistry(registry), WithLogger(zap.NewNop())}
	e, err := NewEngine(store, append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func pathIDs(path []PathEntry) []string {
	ids := make([]string, len(path))
	for i, p := range path {
		ids[i] = p.NodeID
	}
	return ids
}
