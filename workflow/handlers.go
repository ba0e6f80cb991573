package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/mailflow/workflow/expr"
)

// NodeOutput is what a handler returns for a node.
type NodeOutput struct {
	// Data is stored as the node's result.
	Data any
	// Next restricts traversal to these successors when non-nil. An empty,
	// non-nil slice stops traversal at this node.
	Next []string
}

// NodeHandler executes one node type.
type NodeHandler interface {
	Handle(ctx context.Context, node *Node, ec *ExecutionContext) (NodeOutput, error)
}

// NodeHandlerFunc adapts a function to NodeHandler.
type NodeHandlerFunc func(ctx context.Context, node *Node, ec *ExecutionContext) (NodeOutput, error)

// Handle calls f.
func (f NodeHandlerFunc) Handle(ctx context.Context, node *Node, ec *ExecutionContext) (NodeOutput, error) {
	return f(ctx, node, ec)
}

// HandlerRegistry maps node types to handlers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[NodeType]NodeHandler
}

// NewHandlerRegistry returns a registry preloaded with the built-in node types.
func NewHandlerRegistry() *HandlerRegistry {
	r := &HandlerRegistry{handlers: make(map[NodeType]NodeHandler)}
	r.MustRegister(NodeTypeTrigger, NodeHandlerFunc(passThroughHandler))
	r.MustRegister(NodeTypeNoop, NodeHandlerFunc(passThroughHandler))
	r.MustRegister(NodeTypeCondition, NodeHandlerFunc(conditionHandler))
	r.MustRegister(NodeTypeDelay, NodeHandlerFunc(delayHandler))
	return r
}

// Register adds or replaces the handler for a type.
func (r *HandlerRegistry) Register(t NodeType, h NodeHandler) error {
	if t == "" {
		return fmt.Errorf("node type is required")
	}
	if h == nil {
		return fmt.Errorf("handler for node type %q is nil", t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
	return nil
}

// MustRegister is Register that panics on error.
func (r *HandlerRegistry) MustRegister(t NodeType, h NodeHandler) {
	if err := r.Register(t, h); err != nil {
		panic(err)
	}
}

// Lookup returns the handler for a type.
func (r *HandlerRegistry) Lookup(t NodeType) (NodeHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Types lists registered node types, sorted.
func (r *HandlerRegistry) Types() []NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// passThroughHandler returns the run input unchanged.
func passThroughHandler(_ context.Context, _ *Node, ec *ExecutionContext) (NodeOutput, error) {
	return NodeOutput{Data: ec.Input}, nil
}

// conditionHandler evaluates parameters.expression and routes to
// parameters.on_true / parameters.on_false. Without routing parameters a true
// result follows every successor and a false one stops the branch.
func conditionHandler(_ context.Context, node *Node, ec *ExecutionContext) (NodeOutput, error) {
	src := node.StringParam("expression")
	if src == "" {
		return NodeOutput{}, fmt.Errorf("condition node %q has no expression", node.ID)
	}
	ok, err := expr.EvaluateString(src, ExpressionVars(ec))
	if err != nil {
		return NodeOutput{}, err
	}

	out := NodeOutput{Data: map[string]any{"result": ok}}
	key := "on_false"
	if ok {
		key = "on_true"
	}
	if targets, set := node.Parameters[key]; set {
		out.Next = toStringSlice(targets)
	} else if !ok {
		out.Next = []string{}
	}
	return out, nil
}

// delayHandler waits parameters.duration. Numbers are milliseconds, strings
// use time.ParseDuration.
func delayHandler(ctx context.Context, node *Node, ec *ExecutionContext) (NodeOutput, error) {
	d, err := parseDuration(node.Parameters["duration"])
	if err != nil {
		return NodeOutput{}, fmt.Errorf("delay node %q: %w", node.ID, err)
	}
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return NodeOutput{}, ctx.Err()
		case <-timer.C:
		}
	}
	return NodeOutput{Data: map[string]any{"waited": d.String()}}, nil
}

// ExpressionVars builds the variable set conditions and handlers resolve paths
// against: the input keys at top level plus input, results and execution.
func ExpressionVars(ec *ExecutionContext) map[string]any {
	vars := make(map[string]any, len(ec.Input)+3)
	for k, v := range ec.Input {
		vars[k] = v
	}
	vars["input"] = ec.Input
	vars["results"] = ec.Results()
	vars["execution"] = map[string]any{
		"id":          ec.ID,
		"workflow_id": ec.WorkflowID,
		"attempt":     ec.Attempt(),
	}
	return vars
}

func parseDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return d, nil
	case string:
		return time.ParseDuration(d)
	case int:
		return time.Duration(d) * time.Millisecond, nil
	case int64:
		return time.Duration(d) * time.Millisecond, nil
	case float64:
		return time.Duration(d * float64(time.Millisecond)), nil
	default:
		return 0, fmt.Errorf("unsupported duration %v (%T)", v, v)
	}
}

func toStringSlice(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return append([]string{}, t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}
