package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/internal/ctxkeys"
	"github.com/BaSui01/mailflow/types"
	"github.com/BaSui01/mailflow/workflow/expr"
)

// EngineConfig holds engine-wide defaults.
type EngineConfig struct {
	// DefaultStrategy applies to workflows that do not pick one.
	DefaultStrategy OrchestrationStrategy
	// DefaultFailurePolicy applies to workflows that do not pick one.
	DefaultFailurePolicy NodeFailurePolicy
	// DefaultMaxRetries applies when a workflow leaves max retries unset.
	// nil keeps DefaultMaxRetries.
	DefaultMaxRetries *int
	// DefaultRetryDelay applies when a workflow leaves the retry delay unset.
	DefaultRetryDelay time.Duration
	// MaxParallelism bounds the parallel strategy. 0 means unbounded.
	MaxParallelism int
	// CircuitBreaker enables per-node-type circuit breaking when non-nil.
	CircuitBreaker *CircuitBreakerConfig
}

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultStrategy:      StrategySequential,
		DefaultFailurePolicy: FailureContinue,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets engine defaults.
func WithConfig(cfg EngineConfig) Option { return func(e *Engine) { e.cfg = cfg } }

// WithRegistry sets the handler registry.
func WithRegistry(r *HandlerRegistry) Option { return func(e *Engine) { e.registry = r } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option { return func(e *Engine) { e.metrics = m } }

// WithTracer sets the tracer used for run and node spans.
func WithTracer(t trace.Tracer) Option { return func(e *Engine) { e.tracer = t } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithIDGenerator replaces uuid-based id generation.
func WithIDGenerator(fn func() string) Option { return func(e *Engine) { e.newID = fn } }

// WithRetrySleep replaces the wait between retry attempts.
func WithRetrySleep(fn SleepFunc) Option { return func(e *Engine) { e.sleep = fn } }

// WithOrchestrator registers or replaces a strategy.
func WithOrchestrator(name OrchestrationStrategy, o Orchestrator) Option {
	return func(e *Engine) { e.custom[name] = o }
}

// Engine validates, runs and deploys workflows.
type Engine struct {
	cfg      EngineConfig
	store    Store
	registry *HandlerRegistry
	metrics  MetricsRecorder
	tracer   trace.Tracer
	logger   *zap.Logger
	newID    func() string
	sleep    SleepFunc
	custom   map[OrchestrationStrategy]Orchestrator

	dispatcher    *Dispatcher
	breakers      *CircuitBreakerRegistry
	orchestrators map[OrchestrationStrategy]Orchestrator
	recovery      *RecoveryEngine

	mu     sync.Mutex
	active map[string]time.Time
}

// NewEngine creates an engine backed by store.
func NewEngine(store Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("workflow store is required")
	}
	e := &Engine{
		cfg:    DefaultEngineConfig(),
		store:  store,
		newID:  uuid.NewString,
		custom: make(map[OrchestrationStrategy]Orchestrator),
		active: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.DefaultStrategy == "" {
		e.cfg.DefaultStrategy = StrategySequential
	}
	if e.cfg.DefaultFailurePolicy == "" {
		e.cfg.DefaultFailurePolicy = FailureContinue
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.String("component", "workflow_engine"))
	if e.registry == nil {
		e.registry = NewHandlerRegistry()
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(instrumentationName)
	}
	if e.cfg.CircuitBreaker != nil {
		e.breakers = NewCircuitBreakerRegistry(*e.cfg.CircuitBreaker, e.logger)
	}

	e.dispatcher = NewDispatcher(e.registry, DispatcherOptions{
		Breakers: e.breakers,
		Metrics:  e.metrics,
		Tracer:   e.tracer,
	}, e.logger)

	seq := NewSequentialOrchestrator(e.dispatcher, e.logger)
	par := NewParallelOrchestrator(e.dispatcher, e.cfg.MaxParallelism, e.logger)
	e.orchestrators = map[OrchestrationStrategy]Orchestrator{
		StrategySequential:  seq,
		StrategyParallel:    par,
		StrategyConditional: NewConditionalOrchestrator(e.dispatcher, e.logger),
		StrategyHybrid:      NewHybridOrchestrator(seq, par),
	}
	for name, o := range e.custom {
		e.orchestrators[name] = o
	}

	e.recovery = NewRecoveryEngine(e.dispatcher, e.metrics, e.logger)
	if e.sleep != nil {
		e.recovery.SetSleep(e.sleep)
	}
	return e, nil
}

// Registry returns the handler registry.
func (e *Engine) Registry() *HandlerRegistry { return e.registry }

// CircuitBreakers returns the breaker registry, nil when disabled.
func (e *Engine) CircuitBreakers() *CircuitBreakerRegistry { return e.breakers }

// CreateWorkflow validates def and stores it as a draft.
func (e *Engine) CreateWorkflow(ctx context.Context, ownerID string, def Definition) (*Workflow, error) {
	now := time.Now()
	wf := &Workflow{
		ID:         e.newID(),
		OwnerID:    ownerID,
		Status:     WorkflowStatusDraft,
		Definition: def,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i := range wf.Connections {
		if wf.Connections[i].Type == "" {
			wf.Connections[i].Type = ConnectionTypeDefault
		}
		if wf.Connections[i].CreatedAt.IsZero() {
			wf.Connections[i].CreatedAt = now
		}
	}
	if err := validateWorkflow(wf); err != nil {
		return nil, err
	}
	if err := e.store.InsertWorkflow(ctx, wf); err != nil {
		return nil, types.NewError(types.ErrStorage, "insert workflow").
			WithWorkflow(wf.ID).
			WithCause(err)
	}
	e.logger.Info("workflow created",
		zap.String("workflow_id", wf.ID),
		zap.String("owner_id", ownerID),
		zap.Int("nodes", len(wf.Nodes)))
	return wf, nil
}

// RunOptions override workflow settings for one run.
type RunOptions struct {
	Strategy            OrchestrationStrategy
	NodeFailureStrategy NodeFailurePolicy
}

// ExecutionResult is returned by ExecuteWorkflow.
type ExecutionResult struct {
	ExecutionID string           `json:"execution_id"`
	WorkflowID  string           `json:"workflow_id"`
	Success     bool             `json:"success"`
	Status      ExecutionStatus  `json:"status"`
	Results     map[string]any   `json:"results"`
	NodeResults []NodeResult     `json:"node_results"`
	Path        []PathEntry      `json:"path"`
	Metrics     ExecutionMetrics `json:"metrics"`
	Errors      []NodeError      `json:"errors,omitempty"`
	Skipped     []string         `json:"skipped,omitempty"`
	Recovery    *RecoveryOutcome `json:"recovery,omitempty"`
}

// ExecuteWorkflow runs a stored workflow once.
//
// It fails for validation errors, unknown workflows, exhausted recovery and
// cancellation. Node failures that were absorbed or recovered are reported
// in the result; Success is false while any node error remains.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID string, input map[string]any, opts RunOptions) (*ExecutionResult, error) {
	wf, err := e.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	wf = e.applyDefaults(wf, opts)
	if err := validateWorkflow(wf); err != nil {
		return nil, err
	}
	if wf.Status == WorkflowStatusDisabled {
		return nil, types.NewValidationError("workflow is disabled").WithWorkflow(wf.ID)
	}
	orch, ok := e.orchestrators[wf.Strategy]
	if !ok {
		return nil, types.NewValidationError("unknown orchestration strategy", string(wf.Strategy)).
			WithWorkflow(wf.ID)
	}

	ec := NewExecutionContext(e.newID(), wf.ID, input)
	ec.OwnerID = wf.OwnerID
	ctx = ctxkeys.WithExecutionID(ctx, ec.ID)
	ctx = ctxkeys.WithWorkflowID(ctx, wf.ID)
	ctx, span := e.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("workflow.id", wf.ID),
		attribute.String("execution.id", ec.ID),
		attribute.String("workflow.strategy", string(wf.Strategy)),
	))
	defer span.End()

	logger := e.logger.With(
		zap.String("execution_id", ec.ID),
		zap.String("workflow_id", wf.ID),
		zap.String("strategy", string(wf.Strategy)))

	e.track(ec.ID)
	defer e.untrack(ec.ID)

	var lastResults []NodeResult
	run := func(ctx context.Context) error {
		attempt := ec.BeginAttempt()
		span.AddEvent("orchestration.attempt", trace.WithAttributes(attribute.Int("attempt", attempt)))
		start := FindStartingNodes(wf)
		if len(start) == 0 {
			return types.NewValidationError("workflow has no starting node").WithWorkflow(wf.ID)
		}
		results, err := orch.Execute(ctx, wf, ec, start)
		lastResults = results
		return err
	}

	logger.Info("workflow execution started")
	var outcome *RecoveryOutcome
	if runErr := run(ctx); runErr != nil {
		logger.Warn("orchestration raised", zap.Error(runErr))
		outcome, err = e.recovery.Recover(ctx, wf, ec, run, runErr)
		if err != nil && (types.IsCode(err, types.ErrRecoveryExhausted) || ctx.Err() != nil) {
			ec.Finish()
			snap := ec.Snapshot()
			snap.Status = ExecutionStatusFailed
			snap.Error = err.Error()
			e.persist(ctx, snap, logger)
			e.metrics.RecordWorkflowExecution(string(wf.Strategy), string(snap.Status), snap.Metrics.TotalDuration)

			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("workflow execution failed", zap.Error(err))
			return nil, err
		}
		// Without a recovery strategy the raised error stays in the context
		// and the run is reported as failed.
	}

	ec.Finish()
	snap := ec.Snapshot()
	if outcome != nil {
		snap.RecoveryAction = outcome.Action
		snap.Status = ExecutionStatusRecovered
		if outcome.OriginalError != nil {
			snap.Error = outcome.OriginalError.Error()
		}
	}
	if err := e.persist(ctx, snap, logger); err != nil {
		return nil, err
	}

	result := &ExecutionResult{
		ExecutionID: ec.ID,
		WorkflowID:  wf.ID,
		Success:     len(snap.Errors) == 0,
		Status:      snap.Status,
		Results:     snap.Results,
		NodeResults: lastResults,
		Path:        snap.Path,
		Metrics:     snap.Metrics,
		Errors:      snap.Errors,
		Skipped:     snap.Skipped,
		Recovery:    outcome,
	}

	e.metrics.RecordWorkflowExecution(string(wf.Strategy), string(snap.Status), snap.Metrics.TotalDuration)
	span.SetAttributes(attribute.Bool("workflow.success", result.Success))
	if !result.Success {
		span.SetStatus(codes.Error, "workflow finished with node errors")
	}
	logger.Info("workflow execution finished",
		zap.Bool("success", result.Success),
		zap.String("status", string(snap.Status)),
		zap.Int("nodes_executed", snap.Metrics.NodesExecuted),
		zap.Duration("duration", snap.Metrics.TotalDuration))
	return result, nil
}

// TestReport is the outcome of a dry validation.
type TestReport struct {
	WorkflowID string    `json:"workflow_id"`
	Passed     bool      `json:"passed"`
	Issues     []string  `json:"issues,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// TestWorkflow checks a stored workflow without invoking any handler.
func (e *Engine) TestWorkflow(ctx context.Context, workflowID string) (*TestReport, error) {
	wf, err := e.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	wf = e.applyDefaults(wf, RunOptions{})

	var issues []string
	if err := validateWorkflow(wf); err != nil {
		if te, ok := types.AsError(err); ok && len(te.Details) > 0 {
			issues = append(issues, te.Details...)
		} else {
			issues = append(issues, err.Error())
		}
	}
	if _, ok := e.orchestrators[wf.Strategy]; !ok {
		issues = append(issues, fmt.Sprintf("no orchestrator for strategy %q", wf.Strategy))
	}

	checkNode := func(kind string, n *Node) {
		if n == nil {
			issues = append(issues, fmt.Sprintf("%s node is nil", kind))
			return
		}
		if _, ok := e.registry.Lookup(n.Type); !ok {
			issues = append(issues, fmt.Sprintf("%s node %q: no handler for type %q", kind, n.ID, n.Type))
		}
		if n.Condition != "" {
			if _, err := expr.Parse(n.Condition); err != nil {
				issues = append(issues, fmt.Sprintf("%s node %q: invalid condition: %v", kind, n.ID, err))
			}
		}
		if n.Type == NodeTypeCondition {
			if _, err := expr.Parse(n.StringParam("expression")); err != nil {
				issues = append(issues, fmt.Sprintf("%s node %q: invalid expression: %v", kind, n.ID, err))
			}
		}
	}
	for _, n := range wf.Nodes {
		checkNode("workflow", n)
	}

	eh := wf.ErrorHandling
	switch eh.RecoveryStrategy {
	case RecoveryFallback:
		if len(eh.FallbackNodes) == 0 {
			issues = append(issues, "fallback recovery configured without fallback nodes")
		}
	case RecoveryCompensate:
		if len(eh.CompensationNodes) == 0 {
			issues = append(issues, "compensate recovery configured without compensation nodes")
		}
	}
	for _, n := range eh.FallbackNodes {
		checkNode("fallback", n)
	}
	for _, n := range eh.CompensationNodes {
		checkNode("compensation", n)
	}

	report := &TestReport{
		WorkflowID: wf.ID,
		Passed:     len(issues) == 0,
		Issues:     issues,
		CheckedAt:  time.Now(),
	}
	e.logger.Info("workflow tested",
		zap.String("workflow_id", wf.ID),
		zap.Bool("passed", report.Passed),
		zap.Int("issues", len(issues)))
	return report, nil
}

// DeploymentResult is returned by DeployWorkflow.
type DeploymentResult struct {
	WorkflowID string         `json:"workflow_id"`
	Status     WorkflowStatus `json:"status"`
	DeployedAt time.Time      `json:"deployed_at"`
	Report     *TestReport    `json:"report"`
}

// DeployWorkflow tests a workflow and marks it deployed when the test passes.
func (e *Engine) DeployWorkflow(ctx context.Context, workflowID string) (*DeploymentResult, error) {
	report, err := e.TestWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !report.Passed {
		return nil, types.NewValidationError("workflow failed pre-deployment checks", report.Issues...).
			WithWorkflow(workflowID)
	}
	if err := e.store.UpdateWorkflowStatus(ctx, workflowID, WorkflowStatusDeployed); err != nil {
		if errors.Is(err, ErrWorkflowNotFound) {
			return nil, types.NewNotFoundError("workflow", workflowID).WithCause(err)
		}
		return nil, types.NewError(types.ErrStorage, "update workflow status").
			WithWorkflow(workflowID).
			WithCause(err)
	}
	e.logger.Info("workflow deployed", zap.String("workflow_id", workflowID))
	return &DeploymentResult{
		WorkflowID: workflowID,
		Status:     WorkflowStatusDeployed,
		DeployedAt: time.Now(),
		Report:     report,
	}, nil
}

// ActiveExecutions returns the ids of runs in flight, sorted.
func (e *Engine) ActiveExecutions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) load(ctx context.Context, workflowID string) (*Workflow, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		if errors.Is(err, ErrWorkflowNotFound) {
			return nil, types.NewNotFoundError("workflow", workflowID).WithCause(err)
		}
		return nil, types.NewError(types.ErrStorage, "load workflow").
			WithWorkflow(workflowID).
			WithCause(err)
	}
	return wf, nil
}

// applyDefaults returns a copy with run overrides and engine defaults filled in.
func (e *Engine) applyDefaults(wf *Workflow, opts RunOptions) *Workflow {
	wf = wf.Clone()
	if opts.Strategy != "" {
		wf.Strategy = opts.Strategy
	}
	if wf.Strategy == "" {
		wf.Strategy = e.cfg.DefaultStrategy
	}
	if opts.NodeFailureStrategy != "" {
		wf.ErrorHandling.NodeFailureStrategy = opts.NodeFailureStrategy
	}
	if wf.ErrorHandling.NodeFailureStrategy == "" {
		wf.ErrorHandling.NodeFailureStrategy = e.cfg.DefaultFailurePolicy
	}
	if wf.ErrorHandling.MaxRetries == nil && e.cfg.DefaultMaxRetries != nil {
		wf.ErrorHandling.MaxRetries = IntPtr(*e.cfg.DefaultMaxRetries)
	}
	if wf.ErrorHandling.RetryDelay <= 0 && e.cfg.DefaultRetryDelay > 0 {
		wf.ErrorHandling.RetryDelay = e.cfg.DefaultRetryDelay
	}
	return wf
}

func (e *Engine) persist(ctx context.Context, snap *ExecutionSnapshot, logger *zap.Logger) error {
	if err := e.store.InsertExecutionRecord(context.WithoutCancel(ctx), snap); err != nil {
		logger.Error("failed to persist execution record", zap.Error(err))
		return types.NewError(types.ErrStorage, "insert execution record").
			WithWorkflow(snap.WorkflowID).
			WithCause(err)
	}
	return nil
}

func (e *Engine) track(id string) {
	e.mu.Lock()
	e.active[id] = time.Now()
	n := len(e.active)
	e.mu.Unlock()
	e.metrics.SetActiveExecutions(n)
}

func (e *Engine) untrack(id string) {
	e.mu.Lock()
	delete(e.active, id)
	n := len(e.active)
	e.mu.Unlock()
	e.metrics.SetActiveExecutions(n)
}
