package workflow

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/mailflow/workflow/expr"
)

// Orchestrator traverses a workflow from its starting nodes.
//
// Implementations record every dispatch in ec. A returned error means the
// traversal raised (the stop policy tripped or the run was cancelled); node
// failures absorbed by the continue policy are only visible in ec.
type Orchestrator interface {
	Execute(ctx context.Context, wf *Workflow, ec *ExecutionContext, start []*Node) ([]NodeResult, error)
}

// gateFunc decides whether a dequeued node runs. False skips it.
type gateFunc func(ctx context.Context, node *Node, ec *ExecutionContext) bool

// traverse is the FIFO breadth-first walk shared by the sequential and
// conditional strategies. A node runs at most once per call.
func traverse(ctx context.Context, d *Dispatcher, wf *Workflow, ec *ExecutionContext,
	start []*Node, gate gateFunc, logger *zap.Logger) ([]NodeResult, error) {
	index := make(map[string]*Node, len(wf.Nodes))
	for _, n := range wf.Nodes {
		index[n.ID] = n
	}

	policy := wf.ErrorHandling.FailurePolicy()
	seen := make(map[string]bool, len(wf.Nodes))
	queue := make([]*Node, 0, len(start))
	for _, n := range start {
		if !seen[n.ID] {
			seen[n.ID] = true
			queue = append(queue, n)
		}
	}

	var results []NodeResult
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		node := queue[0]
		queue = queue[1:]

		if gate != nil && !gate(ctx, node, ec) {
			ec.RecordSkip(node.ID)
			results = append(results, NodeResult{NodeID: node.ID, NodeType: node.Type, Skipped: true})
			logger.Debug("node skipped", zap.String("node_id", node.ID))
			continue
		}

		res, err := d.ExecuteNode(ctx, node, ec)
		results = append(results, res)
		if err != nil {
			if policy == FailureStop {
				return results, err
			}
			continue
		}

		for _, id := range nextNodes(wf, node.ID, res.Next) {
			if seen[id] {
				continue
			}
			next, ok := index[id]
			if !ok {
				continue
			}
			seen[id] = true
			queue = append(queue, next)
			logger.Debug("node enqueued", zap.String("from", node.ID), zap.String("node_id", id))
		}
	}
	return results, nil
}

// nextNodes returns the static successors, narrowed to the handler's
// selection when it made one.
func nextNodes(wf *Workflow, nodeID string, selected []string) []string {
	succ := wf.Successors(nodeID)
	if selected == nil {
		return succ
	}
	allowed := make(map[string]bool, len(selected))
	for _, id := range selected {
		allowed[id] = true
	}
	out := succ[:0:0]
	for _, id := range succ {
		if allowed[id] {
			out = append(out, id)
		}
	}
	return out
}

// SequentialOrchestrator runs nodes one at a time in queue order.
type SequentialOrchestrator struct {
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewSequentialOrchestrator creates the sequential strategy.
func NewSequentialOrchestrator(d *Dispatcher, logger *zap.Logger) *SequentialOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SequentialOrchestrator{
		dispatcher: d,
		logger:     logger.With(zap.String("component", "sequential_orchestrator")),
	}
}

// Execute implements Orchestrator.
func (o *SequentialOrchestrator) Execute(ctx context.Context, wf *Workflow, ec *ExecutionContext, start []*Node) ([]NodeResult, error) {
	return traverse(ctx, o.dispatcher, wf, ec, start, nil, o.logger)
}

// ParallelOrchestrator runs the starting nodes concurrently and waits for all
// of them. It does not follow successors.
type ParallelOrchestrator struct {
	dispatcher *Dispatcher
	limit      int
	logger     *zap.Logger
}

// NewParallelOrchestrator creates the parallel strategy. limit <= 0 means no
// concurrency limit.
func NewParallelOrchestrator(d *Dispatcher, limit int, logger *zap.Logger) *ParallelOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParallelOrchestrator{
		dispatcher: d,
		limit:      limit,
		logger:     logger.With(zap.String("component", "parallel_orchestrator")),
	}
}

// Execute implements Orchestrator. Results are in starting-node order.
func (o *ParallelOrchestrator) Execute(ctx context.Context, wf *Workflow, ec *ExecutionContext, start []*Node) ([]NodeResult, error) {
	seen := make(map[string]bool, len(start))
	nodes := make([]*Node, 0, len(start))
	for _, n := range start {
		if !seen[n.ID] {
			seen[n.ID] = true
			nodes = append(nodes, n)
		}
	}

	results := make([]NodeResult, len(nodes))
	errs := make([]error, len(nodes))

	var g errgroup.Group
	if o.limit > 0 {
		g.SetLimit(o.limit)
	}
	for i, n := range nodes {
		g.Go(func() error {
			results[i], errs[i] = o.dispatcher.ExecuteNode(ctx, n, ec)
			return nil // never cancel siblings; every node settles
		})
	}
	_ = g.Wait()

	o.logger.Debug("parallel batch settled",
		zap.String("execution_id", ec.ID),
		zap.Int("nodes", len(nodes)))

	if wf.ErrorHandling.FailurePolicy() == FailureStop {
		for _, err := range errs {
			if err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

// ConditionalOrchestrator is the sequential walk with a per-node condition
// check. A false or failing condition skips the node and its successors.
type ConditionalOrchestrator struct {
	dispatcher *Dispatcher
	logger     *zap.Logger

	mu    sync.Mutex
	cache map[string]expr.Expr
}

// NewConditionalOrchestrator creates the conditional strategy.
func NewConditionalOrchestrator(d *Dispatcher, logger *zap.Logger) *ConditionalOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConditionalOrchestrator{
		dispatcher: d,
		logger:     logger.With(zap.String("component", "conditional_orchestrator")),
		cache:      make(map[string]expr.Expr),
	}
}

// Execute implements Orchestrator.
func (o *ConditionalOrchestrator) Execute(ctx context.Context, wf *Workflow, ec *ExecutionContext, start []*Node) ([]NodeResult, error) {
	return traverse(ctx, o.dispatcher, wf, ec, start, o.allow, o.logger)
}

func (o *ConditionalOrchestrator) allow(_ context.Context, node *Node, ec *ExecutionContext) bool {
	if node.Condition == "" {
		return true
	}
	e, err := o.compile(node.Condition)
	if err == nil {
		var ok bool
		ok, err = expr.Evaluate(e, ExpressionVars(ec))
		if err == nil {
			return ok
		}
	}
	o.logger.Warn("condition evaluation failed, skipping node",
		zap.String("execution_id", ec.ID),
		zap.String("node_id", node.ID),
		zap.String("condition", node.Condition),
		zap.Error(err))
	return false
}

func (o *ConditionalOrchestrator) compile(src string) (expr.Expr, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.cache[src]; ok {
		return e, nil
	}
	e, err := expr.Parse(src)
	if err != nil {
		return nil, err
	}
	o.cache[src] = e
	return e, nil
}

// HybridOrchestrator splits the starting nodes by their execution hint. The
// sequential group (including unhinted nodes) runs first, then the parallel one.
type HybridOrchestrator struct {
	sequential Orchestrator
	parallel   Orchestrator
}

// NewHybridOrchestrator composes the two strategies.
func NewHybridOrchestrator(sequential, parallel Orchestrator) *HybridOrchestrator {
	return &HybridOrchestrator{sequential: sequential, parallel: parallel}
}

// Execute implements Orchestrator.
func (o *HybridOrchestrator) Execute(ctx context.Context, wf *Workflow, ec *ExecutionContext, start []*Node) ([]NodeResult, error) {
	var seq, par []*Node
	for _, n := range start {
		if n.ExecutionStrategy == HintParallel {
			par = append(par, n)
		} else {
			seq = append(seq, n)
		}
	}

	var results []NodeResult
	if len(seq) > 0 {
		res, err := o.sequential.Execute(ctx, wf, ec, seq)
		results = append(results, res...)
		if err != nil {
			return results, err
		}
	}
	if len(par) > 0 {
		res, err := o.parallel.Execute(ctx, wf, ec, par)
		results = append(results, res...)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}
