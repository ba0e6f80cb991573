package workflow

import (
	"sync"
	"time"

	"github.com/BaSui01/mailflow/types"
)

// ExecutionStatus is the terminal state of a run.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusRecovered ExecutionStatus = "recovered"
)

// NodeStatus is the per-run state of a node.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusSucceeded NodeStatus = "succeeded"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// PathEntry records one dispatch of a node.
type PathEntry struct {
	NodeID    string        `json:"node_id"`
	NodeType  NodeType      `json:"node_type"`
	Attempt   int           `json:"attempt"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// NodeError is a node failure recorded in the context's error list.
type NodeError struct {
	NodeID   string          `json:"node_id"`
	NodeType NodeType        `json:"node_type"`
	Attempt  int             `json:"attempt"`
	Code     types.ErrorCode `json:"code"`
	Message  string          `json:"message"`
	Time     time.Time       `json:"time"`
	Err      error           `json:"-"`
}

// ExecutionMetrics are the counters of a run.
type ExecutionMetrics struct {
	NodesExecuted  int           `json:"nodes_executed"`
	NodesSucceeded int           `json:"nodes_succeeded"`
	NodesFailed    int           `json:"nodes_failed"`
	NodesSkipped   int           `json:"nodes_skipped"`
	Attempts       int           `json:"attempts"`
	TotalDuration  time.Duration `json:"total_duration"`
}

// ExecutionContext is the mutable state of a single run. It is safe for
// concurrent use by parallel branches.
type ExecutionContext struct {
	ID         string
	WorkflowID string
	OwnerID    string
	StartTime  time.Time
	Input      map[string]any

	mu       sync.RWMutex
	attempt  int
	endTime  time.Time
	path     []PathEntry
	results  map[string]any
	errors   []NodeError
	skipped  []string
	statuses map[string]NodeStatus
	metrics  ExecutionMetrics
}

// NewExecutionContext creates the context for a new run.
func NewExecutionContext(executionID, workflowID string, input map[string]any) *ExecutionContext {
	if input == nil {
		input = make(map[string]any)
	}
	return &ExecutionContext{
		ID:         executionID,
		WorkflowID: workflowID,
		StartTime:  time.Now(),
		Input:      input,
		results:    make(map[string]any),
		statuses:   make(map[string]NodeStatus),
	}
}

// BeginAttempt starts a new orchestration pass and returns its 1-based number.
func (c *ExecutionContext) BeginAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt++
	c.metrics.Attempts = c.attempt
	return c.attempt
}

// Attempt returns the current orchestration pass number.
func (c *ExecutionContext) Attempt() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempt
}

// MarkRunning flags a node as in flight.
func (c *ExecutionContext) MarkRunning(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[nodeID] = NodeStatusRunning
}

// RecordNode appends a path entry and updates results, errors and counters.
func (c *ExecutionContext) RecordNode(entry PathEntry, output any, nodeErr *NodeError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry.Attempt == 0 {
		entry.Attempt = c.attempt
	}
	entry.Duration = entry.EndTime.Sub(entry.StartTime)
	c.metrics.NodesExecuted++

	if nodeErr != nil {
		entry.Success = false
		entry.Error = nodeErr.Message
		if nodeErr.Attempt == 0 {
			nodeErr.Attempt = entry.Attempt
		}
		c.errors = append(c.errors, *nodeErr)
		c.statuses[entry.NodeID] = NodeStatusFailed
		c.metrics.NodesFailed++
	} else {
		entry.Success = true
		c.results[entry.NodeID] = output
		c.statuses[entry.NodeID] = NodeStatusSucceeded
		c.metrics.NodesSucceeded++
	}
	c.path = append(c.path, entry)
}

// RecordSkip marks a node as skipped. Repeated skips of the same node count once.
func (c *ExecutionContext) RecordSkip(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statuses[nodeID] == NodeStatusSkipped {
		return
	}
	c.statuses[nodeID] = NodeStatusSkipped
	c.skipped = append(c.skipped, nodeID)
	c.metrics.NodesSkipped++
}

// ResetForRetry clears the error list and failure counter before a retry.
// The path log and results from earlier attempts are kept.
func (c *ExecutionContext) ResetForRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = nil
	c.metrics.NodesFailed = 0
}

// Finish stamps the end of the run.
func (c *ExecutionContext) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endTime = time.Now()
	c.metrics.TotalDuration = c.endTime.Sub(c.StartTime)
}

// Result returns a node's output.
func (c *ExecutionContext) Result(nodeID string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.results[nodeID]
	return v, ok
}

// Results returns a copy of all node outputs.
func (c *ExecutionContext) Results() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}

// Errors returns a copy of the error list.
func (c *ExecutionContext) Errors() []NodeError {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]NodeError(nil), c.errors...)
}

// HasErrors reports whether any node error is recorded.
func (c *ExecutionContext) HasErrors() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.errors) > 0
}

// Path returns a copy of the path log.
func (c *ExecutionContext) Path() []PathEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]PathEntry(nil), c.path...)
}

// Visited reports whether the node appears in the path log.
func (c *ExecutionContext) Visited(nodeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.path {
		if e.NodeID == nodeID {
			return true
		}
	}
	return false
}

// Skipped returns the skipped node ids in skip order.
func (c *ExecutionContext) Skipped() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.skipped...)
}

// NodeStatus returns the node's status in this run.
func (c *ExecutionContext) NodeStatus(nodeID string) NodeStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.statuses[nodeID]; ok {
		return s
	}
	return NodeStatusPending
}

// Metrics returns the current counters.
func (c *ExecutionContext) Metrics() ExecutionMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := c.metrics
	if c.endTime.IsZero() {
		m.TotalDuration = time.Since(c.StartTime)
	}
	return m
}

// ExecutionSnapshot is the immutable record of a run handed to the store.
type ExecutionSnapshot struct {
	ExecutionID    string           `json:"execution_id"`
	WorkflowID     string           `json:"workflow_id"`
	OwnerID        string           `json:"owner_id,omitempty"`
	Status         ExecutionStatus  `json:"status"`
	Input          map[string]any   `json:"input,omitempty"`
	Path           []PathEntry      `json:"path"`
	Results        map[string]any   `json:"results"`
	Errors         []NodeError      `json:"errors,omitempty"`
	Skipped        []string         `json:"skipped,omitempty"`
	Metrics        ExecutionMetrics `json:"metrics"`
	RecoveryAction RecoveryAction   `json:"recovery_action,omitempty"`
	Error          string           `json:"error,omitempty"`
	StartTime      time.Time        `json:"start_time"`
	EndTime        time.Time        `json:"end_time"`
}

// Snapshot copies the context into an ExecutionSnapshot. Status is derived
// from the error list; callers may override it.
func (c *ExecutionContext) Snapshot() *ExecutionSnapshot {
	snap := &ExecutionSnapshot{
		ExecutionID: c.ID,
		WorkflowID:  c.WorkflowID,
		OwnerID:     c.OwnerID,
		Input:       c.Input,
		Path:        c.Path(),
		Results:     c.Results(),
		Errors:      c.Errors(),
		Skipped:     c.Skipped(),
		Metrics:     c.Metrics(),
		StartTime:   c.StartTime,
	}
	c.mu.RLock()
	snap.EndTime = c.endTime
	c.mu.RUnlock()

	snap.Status = ExecutionStatusCompleted
	if len(snap.Errors) > 0 {
		snap.Status = ExecutionStatusFailed
	}
	return snap
}
