package workflow

import (
	"errors"
	"fmt"
	"time"
)

// NodeType is the type tag a node is dispatched by.
type NodeType string

const (
	// NodeTypeTrigger marks the entry of an automation; passes its input through
	NodeTypeTrigger NodeType = "trigger"
	// NodeTypeNoop does nothing and succeeds
	NodeTypeNoop NodeType = "noop"
	// NodeTypeCondition evaluates an expression and routes to on_true / on_false
	NodeTypeCondition NodeType = "condition"
	// NodeTypeDelay waits for a configured duration
	NodeTypeDelay NodeType = "delay"

	// NodeTypeEmailParser extracts structured fields from an inbound email
	NodeTypeEmailParser NodeType = "email_parser"
	// NodeTypeClassifier labels an email
	NodeTypeClassifier NodeType = "classifier"
	// NodeTypeNotification fans a message out to a delivery channel
	NodeTypeNotification NodeType = "notification"
	// NodeTypeDataTransform reshapes data between steps
	NodeTypeDataTransform NodeType = "data_transform"
	// NodeTypeWebhook calls an external endpoint
	NodeTypeWebhook NodeType = "webhook"
)

// ExecutionHint is a node's preferred execution mode under the hybrid strategy.
type ExecutionHint string

const (
	HintNone       ExecutionHint = ""
	HintSequential ExecutionHint = "sequential"
	HintParallel   ExecutionHint = "parallel"
)

// ConnectionType tags a connection. Only the default type exists today.
type ConnectionType string

// ConnectionTypeDefault is the only connection type.
const ConnectionTypeDefault ConnectionType = "default"

// WorkflowStatus is the lifecycle state of a stored workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusDeployed WorkflowStatus = "deployed"
	WorkflowStatusDisabled WorkflowStatus = "disabled"
)

// ErrCycleDetected is returned when a connection would close a loop.
var ErrCycleDetected = errors.New("connection would create a cycle")

// Position is canvas metadata. The engine never reads it.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a single step of a workflow graph.
type Node struct {
	ID                string         `json:"id" yaml:"id"`
	Name              string         `json:"name" yaml:"name"`
	Type              NodeType       `json:"type" yaml:"type"`
	Position          Position       `json:"position" yaml:"position"`
	Parameters        map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	ExecutionStrategy ExecutionHint  `json:"execution_strategy,omitempty" yaml:"execution_strategy,omitempty"`
	// Condition is evaluated by the conditional strategy before the node runs.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Param returns a parameter value.
func (n *Node) Param(key string) (any, bool) {
	v, ok := n.Parameters[key]
	return v, ok
}

// StringParam returns a string parameter or "".
func (n *Node) StringParam(key string) string {
	if s, ok := n.Parameters[key].(string); ok {
		return s
	}
	return ""
}

// Connection is a directed edge between two nodes.
type Connection struct {
	From      string         `json:"from" yaml:"from"`
	To        string         `json:"to" yaml:"to"`
	Type      ConnectionType `json:"type,omitempty" yaml:"type,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Definition is the author-supplied part of a workflow.
type Definition struct {
	Name          string                `json:"name" yaml:"name"`
	Description   string                `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes         []*Node               `json:"nodes" yaml:"nodes"`
	Connections   []Connection          `json:"connections" yaml:"connections"`
	ErrorHandling ErrorHandlingConfig   `json:"error_handling" yaml:"error_handling"`
	Strategy      OrchestrationStrategy `json:"strategy,omitempty" yaml:"strategy,omitempty"`
}

// Workflow is a stored, validated definition.
type Workflow struct {
	ID      string         `json:"id"`
	OwnerID string         `json:"owner_id"`
	Status  WorkflowStatus `json:"status"`
	Definition
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Node returns the node with the given id.
func (w *Workflow) Node(id string) (*Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// Successors returns the ids of direct successors in connection order.
func (w *Workflow) Successors(nodeID string) []string {
	var out []string
	for _, c := range w.Connections {
		if c.From == nodeID {
			out = append(out, c.To)
		}
	}
	return out
}

// AddConnection adds an edge after checking endpoints, duplicates and cycles.
func (w *Workflow) AddConnection(from, to string) error {
	if _, ok := w.Node(from); !ok {
		return fmt.Errorf("source node %q does not exist", from)
	}
	if _, ok := w.Node(to); !ok {
		return fmt.Errorf("target node %q does not exist", to)
	}
	for _, c := range w.Connections {
		if c.From == from && c.To == to {
			return fmt.Errorf("connection %s -> %s already exists", from, to)
		}
	}
	if WouldCreateCycle(from, to, w.Connections) {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrCycleDetected)
	}
	w.Connections = append(w.Connections, Connection{
		From:      from,
		To:        to,
		Type:      ConnectionTypeDefault,
		CreatedAt: time.Now(),
	})
	w.UpdatedAt = time.Now()
	return nil
}

// FindStartingNodes returns the nodes no connection points to, in node order.
func FindStartingNodes(w *Workflow) []*Node {
	targeted := make(map[string]bool, len(w.Connections))
	for _, c := range w.Connections {
		targeted[c.To] = true
	}
	var starts []*Node
	for _, n := range w.Nodes {
		if n != nil && !targeted[n.ID] {
			starts = append(starts, n)
		}
	}
	return starts
}

// Clone returns a deep enough copy for independent graph edits.
func (w *Workflow) Clone() *Workflow {
	cp := *w
	cp.Nodes = make([]*Node, len(w.Nodes))
	for i, n := range w.Nodes {
		nc := *n
		if n.Parameters != nil {
			nc.Parameters = make(map[string]any, len(n.Parameters))
			for k, v := range n.Parameters {
				nc.Parameters[k] = v
			}
		}
		cp.Nodes[i] = &nc
	}
	cp.Connections = append([]Connection(nil), w.Connections...)
	cp.ErrorHandling.FallbackNodes = append([]*Node(nil), w.ErrorHandling.FallbackNodes...)
	cp.ErrorHandling.CompensationNodes = append([]*Node(nil), w.ErrorHandling.CompensationNodes...)
	return &cp
}
