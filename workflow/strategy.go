package workflow

import "time"

// OrchestrationStrategy selects the traversal algorithm for a run.
type OrchestrationStrategy string

const (
	StrategySequential  OrchestrationStrategy = "sequential"
	StrategyParallel    OrchestrationStrategy = "parallel"
	StrategyConditional OrchestrationStrategy = "conditional"
	StrategyHybrid      OrchestrationStrategy = "hybrid"
)

// NodeFailurePolicy decides what a traversal does after a node fails.
type NodeFailurePolicy string

const (
	// FailureContinue records the failure and keeps draining the queue.
	FailureContinue NodeFailurePolicy = "continue"
	// FailureStop aborts the traversal with the node's error.
	FailureStop NodeFailurePolicy = "stop"
)

// RecoveryStrategy names the recovery path taken when orchestration raises.
type RecoveryStrategy string

const (
	RecoveryNone       RecoveryStrategy = ""
	RecoveryRetry      RecoveryStrategy = "retry"
	RecoveryFallback   RecoveryStrategy = "fallback"
	RecoveryCompensate RecoveryStrategy = "compensate"
	RecoverySkip       RecoveryStrategy = "skip"
)

const (
	// DefaultMaxRetries applies when a retry policy leaves MaxRetries unset.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the base of the exponential retry schedule.
	DefaultRetryDelay = time.Second
)

// ErrorHandlingConfig is the per-workflow failure configuration.
type ErrorHandlingConfig struct {
	RecoveryStrategy    RecoveryStrategy  `json:"recovery_strategy,omitempty" yaml:"recovery_strategy,omitempty"`
	MaxRetries          *int              `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	RetryDelay          time.Duration     `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`
	NodeFailureStrategy NodeFailurePolicy `json:"node_failure_strategy,omitempty" yaml:"node_failure_strategy,omitempty"`
	FallbackNodes       []*Node           `json:"fallback_nodes,omitempty" yaml:"fallback_nodes,omitempty"`
	CompensationNodes   []*Node           `json:"compensation_nodes,omitempty" yaml:"compensation_nodes,omitempty"`
}

// Retries returns MaxRetries or the default when unset.
func (c ErrorHandlingConfig) Retries() int {
	if c.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *c.MaxRetries
}

// BaseDelay returns RetryDelay or the default when unset.
func (c ErrorHandlingConfig) BaseDelay() time.Duration {
	if c.RetryDelay <= 0 {
		return DefaultRetryDelay
	}
	return c.RetryDelay
}

// FailurePolicy returns the node failure policy, defaulting to continue.
func (c ErrorHandlingConfig) FailurePolicy() NodeFailurePolicy {
	if c.NodeFailureStrategy == "" {
		return FailureContinue
	}
	return c.NodeFailureStrategy
}

// IntPtr is a small helper for optional integer fields.
func IntPtr(v int) *int { return &v }

func knownStrategy(s OrchestrationStrategy) bool {
	switch s {
	case "", StrategySequential, StrategyParallel, StrategyConditional, StrategyHybrid:
		return true
	}
	return false
}

func knownFailurePolicy(p NodeFailurePolicy) bool {
	switch p {
	case "", FailureContinue, FailureStop:
		return true
	}
	return false
}

func knownRecovery(r RecoveryStrategy) bool {
	switch r {
	case RecoveryNone, RecoveryRetry, RecoveryFallback, RecoveryCompensate, RecoverySkip:
		return true
	}
	return false
}
