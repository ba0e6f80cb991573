package workflow

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/types"
)

// CircuitState is the state of a node-type circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // calls pass through
	CircuitOpen                         // calls are rejected until OpenTimeout elapses
	CircuitHalfOpen                     // a limited number of probe calls pass
)

var circuitStateNames = [...]string{
	CircuitClosed:   "closed",
	CircuitOpen:     "open",
	CircuitHalfOpen: "half_open",
}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(circuitStateNames) {
		return "unknown"
	}
	return circuitStateNames[s]
}

// CircuitBreakerConfig tunes the per-node-type breakers.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout"`
	// HalfOpenProbes caps concurrent probe calls while half-open.
	HalfOpenProbes int `json:"half_open_probes" yaml:"half_open_probes"`
	// HalfOpenSuccesses is the number of probe successes needed to close.
	HalfOpenSuccesses int `json:"half_open_successes" yaml:"half_open_successes"`
}

// DefaultCircuitBreakerConfig returns the settings used when a field is left zero.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		OpenTimeout:       30 * time.Second,
		HalfOpenProbes:    1,
		HalfOpenSuccesses: 1,
	}
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	def := DefaultCircuitBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.HalfOpenProbes <= 0 {
		c.HalfOpenProbes = def.HalfOpenProbes
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = def.HalfOpenSuccesses
	}
	return c
}

// CircuitTransition is reported to the OnTransition callback.
type CircuitTransition struct {
	NodeType NodeType
	From     CircuitState
	To       CircuitState
	Failures int
	At       time.Time
}

// CircuitBreaker counts consecutive failures of one node type.
type CircuitBreaker struct {
	nodeType NodeType
	reg      *CircuitBreakerRegistry

	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	probes    int
	openedAt  time.Time
}

// Allow reports whether a call may proceed. A rejection is a CIRCUIT_OPEN error.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if wait := cb.reg.config.OpenTimeout - cb.reg.now().Sub(cb.openedAt); wait > 0 {
			return types.NewError(types.ErrCircuitOpen, fmt.Sprintf(
				"circuit open for node type %q after %d consecutive failures, retry in %s",
				cb.nodeType, cb.failures, wait.Round(time.Millisecond)))
		}
		cb.moveTo(CircuitHalfOpen)
	case CircuitHalfOpen:
		if cb.probes >= cb.reg.config.HalfOpenProbes {
			return types.NewError(types.ErrCircuitOpen, fmt.Sprintf(
				"circuit half-open for node type %q, probe limit reached", cb.nodeType))
		}
	default:
		return nil
	}
	cb.probes++
	return nil
}

// RecordSuccess closes a half-open circuit once enough probes succeed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
		return
	case CircuitOpen:
		return
	}
	cb.successes++
	if cb.successes >= cb.reg.config.HalfOpenSuccesses {
		cb.failures = 0
		cb.moveTo(CircuitClosed)
	}
}

// RecordFailure opens the circuit at the threshold, or immediately when half-open.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == CircuitHalfOpen || (cb.state == CircuitClosed && cb.failures >= cb.reg.config.FailureThreshold) {
		cb.openedAt = cb.reg.now()
		cb.moveTo(CircuitOpen)
	}
}

// State returns the current state without advancing an expired open circuit.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// moveTo requires cb.mu.
func (cb *CircuitBreaker) moveTo(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.successes = 0
	cb.probes = 0
	cb.reg.notify(CircuitTransition{
		NodeType: cb.nodeType,
		From:     from,
		To:       to,
		Failures: cb.failures,
		At:       cb.reg.now(),
	})
}

// CircuitBreakerRegistry lazily creates one breaker per node type.
type CircuitBreakerRegistry struct {
	config CircuitBreakerConfig
	now    func() time.Time
	logger *zap.Logger

	mu       sync.RWMutex
	breakers map[NodeType]*CircuitBreaker

	onTransition atomic.Pointer[func(CircuitTransition)]
}

// NewCircuitBreakerRegistry creates an empty registry.
func NewCircuitBreakerRegistry(cfg CircuitBreakerConfig, logger *zap.Logger) *CircuitBreakerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreakerRegistry{
		config:   cfg.withDefaults(),
		now:      time.Now,
		logger:   logger.With(zap.String("component", "circuit_breaker")),
		breakers: make(map[NodeType]*CircuitBreaker),
	}
}

// OnTransition sets the state-change callback. It runs synchronously under
// the breaker's lock and must not call back into the breaker.
func (r *CircuitBreakerRegistry) OnTransition(fn func(CircuitTransition)) {
	r.onTransition.Store(&fn)
}

func (r *CircuitBreakerRegistry) notify(t CircuitTransition) {
	r.logger.Info("circuit breaker state change",
		zap.String("node_type", string(t.NodeType)),
		zap.Stringer("from", t.From),
		zap.Stringer("to", t.To),
		zap.Int("failures", t.Failures))

	if fn := r.onTransition.Load(); fn != nil && *fn != nil {
		(*fn)(t)
	}
}

// For returns the breaker of nodeType, creating it on first use.
func (r *CircuitBreakerRegistry) For(nodeType NodeType) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[nodeType]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok = r.breakers[nodeType]; !ok {
		cb = &CircuitBreaker{nodeType: nodeType, reg: r}
		r.breakers[nodeType] = cb
	}
	return cb
}

// States snapshots every breaker created so far.
func (r *CircuitBreakerRegistry) States() map[NodeType]CircuitState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make(map[NodeType]CircuitState, len(r.breakers))
	for t, cb := range r.breakers {
		states[t] = cb.State()
	}
	return states
}
