package workflow

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/types"
)

// RecoveryAction tags the recovery path that ran.
type RecoveryAction string

const (
	ActionRetried              RecoveryAction = "retried"
	ActionFallbackExecuted     RecoveryAction = "fallbackExecuted"
	ActionCompensationExecuted RecoveryAction = "compensationExecuted"
	ActionSkippedFailedNodes   RecoveryAction = "skippedFailedNodes"
)

// RecoveryOutcome describes a recovery that resolved a raised failure.
type RecoveryOutcome struct {
	Action        RecoveryAction   `json:"action"`
	Strategy      RecoveryStrategy `json:"strategy"`
	Success       bool             `json:"success"`
	Attempts      int              `json:"attempts,omitempty"`
	Nodes         []string         `json:"nodes,omitempty"`
	Results       []NodeResult     `json:"results,omitempty"`
	OriginalError error            `json:"-"`
}

// RunFunc re-runs the whole orchestration once.
type RunFunc func(ctx context.Context) error

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RecoveryEngine applies a workflow's recovery strategy to a raised failure.
type RecoveryEngine struct {
	dispatcher *Dispatcher
	metrics    MetricsRecorder
	sleep      SleepFunc
	logger     *zap.Logger
}

// NewRecoveryEngine creates a recovery engine dispatching through d.
func NewRecoveryEngine(d *Dispatcher, metrics MetricsRecorder, logger *zap.Logger) *RecoveryEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &RecoveryEngine{
		dispatcher: d,
		metrics:    metrics,
		sleep:      sleepContext,
		logger:     logger.With(zap.String("component", "recovery")),
	}
}

// SetSleep replaces the backoff wait. Tests use it to record delays.
func (r *RecoveryEngine) SetSleep(fn SleepFunc) {
	if fn == nil {
		fn = sleepContext
	}
	r.sleep = fn
}

// Recover runs the configured strategy. Without one it returns cause as is.
// Only retry can fail; the other strategies tolerate failing sub-nodes.
func (r *RecoveryEngine) Recover(ctx context.Context, wf *Workflow, ec *ExecutionContext, rerun RunFunc, cause error) (*RecoveryOutcome, error) {
	strategy := wf.ErrorHandling.RecoveryStrategy
	logger := r.logger.With(
		zap.String("execution_id", ec.ID),
		zap.String("workflow_id", wf.ID),
		zap.String("strategy", string(strategy)))

	var (
		outcome *RecoveryOutcome
		err     error
	)
	switch strategy {
	case RecoveryNone:
		return nil, cause
	case RecoveryRetry:
		outcome, err = r.retry(ctx, wf, ec, rerun, cause, logger)
	case RecoveryFallback:
		outcome = r.runNodes(ctx, ec, wf.ErrorHandling.FallbackNodes, ActionFallbackExecuted, logger)
	case RecoveryCompensate:
		outcome = r.runNodes(ctx, ec, wf.ErrorHandling.CompensationNodes, ActionCompensationExecuted, logger)
	case RecoverySkip:
		var remaining []*Node
		for _, n := range wf.Nodes {
			if n != nil && !ec.Visited(n.ID) {
				remaining = append(remaining, n)
			}
		}
		outcome = r.runNodes(ctx, ec, remaining, ActionSkippedFailedNodes, logger)
	default:
		return nil, types.NewValidationError("unknown recovery strategy", string(strategy)).WithCause(cause)
	}

	if err != nil {
		r.metrics.RecordRecovery(string(strategy), "exhausted", false)
		logger.Error("recovery exhausted", zap.Error(err))
		return nil, err
	}
	outcome.Strategy = strategy
	outcome.OriginalError = cause
	r.metrics.RecordRecovery(string(strategy), string(outcome.Action), outcome.Success)
	logger.Info("recovery completed",
		zap.String("action", string(outcome.Action)),
		zap.Int("nodes", len(outcome.Nodes)))
	return outcome, nil
}

func (r *RecoveryEngine) retry(ctx context.Context, wf *Workflow, ec *ExecutionContext, rerun RunFunc,
	cause error, logger *zap.Logger) (*RecoveryOutcome, error) {
	maxRetries := wf.ErrorHandling.Retries()
	schedule := RetrySchedule(wf.ErrorHandling.BaseDelay())

	lastErr := cause
	for attempt := 1; attempt <= maxRetries; attempt++ {
		delay := schedule.NextBackOff()
		logger.Info("retrying workflow",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Duration("delay", delay))
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}

		ec.ResetForRetry()
		err := rerun(ctx)
		if err == nil {
			return &RecoveryOutcome{Action: ActionRetried, Success: true, Attempts: attempt}, nil
		}
		lastErr = err
		logger.Warn("retry attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, types.NewRecoveryExhaustedError(string(RecoveryRetry), maxRetries, lastErr).
		WithWorkflow(wf.ID)
}

// runNodes dispatches each node once. Failures are logged and kept in ec but
// never returned.
func (r *RecoveryEngine) runNodes(ctx context.Context, ec *ExecutionContext, nodes []*Node,
	action RecoveryAction, logger *zap.Logger) *RecoveryOutcome {
	outcome := &RecoveryOutcome{Action: action, Success: true}
	for i, n := range nodes {
		if n == nil {
			logger.Warn("recovery node missing",
				zap.Int("index", i),
				zap.String("action", string(action)))
			continue
		}
		res, err := r.dispatcher.ExecuteNode(ctx, n, ec)
		if err != nil {
			logger.Warn("recovery node failed",
				zap.String("node_id", n.ID),
				zap.String("action", string(action)),
				zap.Error(err))
		}
		outcome.Nodes = append(outcome.Nodes, n.ID)
		outcome.Results = append(outcome.Results, res)
	}
	return outcome
}

// RetrySchedule returns the zero-jitter exponential schedule used between
// retries: base, 2*base, 4*base, ...
func RetrySchedule(base time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// retryDelay is the wait before retry attempt k (1-based), saturating at
// the largest Duration. Attempts below 1 wait nothing.
func retryDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 || base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		if d > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		d *= 2
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
