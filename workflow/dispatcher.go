package workflow

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/internal/ctxkeys"
	"github.com/BaSui01/mailflow/types"
)

const instrumentationName = "github.com/BaSui01/mailflow/workflow"

// NodeResult is the outcome of one node dispatch.
type NodeResult struct {
	NodeID   string        `json:"node_id"`
	NodeType NodeType      `json:"node_type"`
	Success  bool          `json:"success"`
	Skipped  bool          `json:"skipped,omitempty"`
	Output   any           `json:"output,omitempty"`
	Error    error         `json:"-"`
	Next     []string      `json:"next,omitempty"`
	Duration time.Duration `json:"duration"`
}

// DispatcherOptions are the optional collaborators of a Dispatcher.
type DispatcherOptions struct {
	Breakers *CircuitBreakerRegistry
	Metrics  MetricsRecorder
	Tracer   trace.Tracer
}

// Dispatcher executes single nodes through the handler registry.
type Dispatcher struct {
	registry *HandlerRegistry
	breakers *CircuitBreakerRegistry
	metrics  MetricsRecorder
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *HandlerRegistry, opts DispatcherOptions, logger *zap.Logger) *Dispatcher {
	if registry == nil {
		registry = NewHandlerRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(instrumentationName)
	}
	return &Dispatcher{
		registry: registry,
		breakers: opts.Breakers,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		logger:   logger.With(zap.String("component", "dispatcher")),
	}
}

// Registry returns the handler registry.
func (d *Dispatcher) Registry() *HandlerRegistry { return d.registry }

// ExecuteNode runs one node and records the outcome in ec. The returned error
// is a *types.Error (NODE_EXECUTION_ERROR, UNKNOWN_NODE_TYPE or CIRCUIT_OPEN).
func (d *Dispatcher) ExecuteNode(ctx context.Context, node *Node, ec *ExecutionContext) (NodeResult, error) {
	ctx, span := d.tracer.Start(ctx, "workflow.node",
		trace.WithAttributes(
			attribute.String("workflow.id", ec.WorkflowID),
			attribute.String("execution.id", ec.ID),
			attribute.String("node.id", node.ID),
			attribute.String("node.type", string(node.Type)),
		))
	defer span.End()

	logger := d.logger.With(
		zap.String("execution_id", ec.ID),
		zap.String("workflow_id", ec.WorkflowID),
		zap.String("node_id", node.ID),
		zap.String("node_type", string(node.Type)),
	)
	if traceID, ok := ctxkeys.TraceID(ctx); ok {
		logger = logger.With(zap.String("trace_id", traceID))
	}

	start := time.Now()
	ec.MarkRunning(node.ID)
	logger.Debug("executing node")

	out, err := d.invoke(ctx, node, ec)
	end := time.Now()

	result := NodeResult{
		NodeID:   node.ID,
		NodeType: node.Type,
		Duration: end.Sub(start),
	}
	entry := PathEntry{
		NodeID:    node.ID,
		NodeType:  node.Type,
		StartTime: start,
		EndTime:   end,
	}

	if err != nil {
		nodeErr := &NodeError{
			NodeID:   node.ID,
			NodeType: node.Type,
			Code:     types.GetErrorCode(err),
			Message:  err.Error(),
			Time:     end,
			Err:      err,
		}
		ec.RecordNode(entry, nil, nodeErr)
		result.Error = err

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.metrics.RecordNodeExecution(string(node.Type), "failure", result.Duration)
		logger.Error("node execution failed", zap.Duration("duration", result.Duration), zap.Error(err))
		return result, err
	}

	ec.RecordNode(entry, out.Data, nil)
	result.Success = true
	result.Output = out.Data
	result.Next = out.Next

	span.SetStatus(codes.Ok, "")
	d.metrics.RecordNodeExecution(string(node.Type), "success", result.Duration)
	logger.Debug("node executed", zap.Duration("duration", result.Duration))
	return result, nil
}

func (d *Dispatcher) invoke(ctx context.Context, node *Node, ec *ExecutionContext) (out NodeOutput, err error) {
	handler, ok := d.registry.Lookup(node.Type)
	if !ok {
		return NodeOutput{}, types.NewError(types.ErrUnknownNodeType,
			fmt.Sprintf("no handler registered for node type %q", node.Type)).
			WithWorkflow(ec.WorkflowID).
			WithNode(node.ID)
	}

	var cb *CircuitBreaker
	if d.breakers != nil {
		cb = d.breakers.For(node.Type)
		if err := cb.Allow(); err != nil {
			if e, ok := types.AsError(err); ok {
				e.WithWorkflow(ec.WorkflowID).WithNode(node.ID)
			}
			return NodeOutput{}, err
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		if err != nil {
			err = types.NewNodeExecutionError(node.ID, err).WithWorkflow(ec.WorkflowID)
			if cb != nil {
				cb.RecordFailure()
			}
			return
		}
		if cb != nil {
			cb.RecordSuccess()
		}
	}()
	return handler.Handle(ctx, node, ec)
}
