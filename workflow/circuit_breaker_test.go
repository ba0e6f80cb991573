package workflow

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	reg := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
	}, zap.NewNop())
	reg.now = clock.Now

	var transitions []string
	reg.OnTransition(func(tr CircuitTransition) {
		transitions = append(transitions, tr.From.String()+"->"+tr.To.String())
	})

	cb := reg.For(NodeTypeWebhook)
	require.Same(t, cb, reg.For(NodeTypeWebhook))

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Allow()
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCircuitOpen))

	clock.Advance(time.Minute)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.Error(t, cb.Allow(), "probe limit")

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	reg := NewCircuitBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Second}, nil)
	reg.now = clock.Now

	cb := reg.For(NodeTypeNotification)
	cb.RecordFailure()
	clock.Advance(time.Second)
	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.Error(t, cb.Allow())
	assert.Equal(t, map[NodeType]CircuitState{NodeTypeNotification: CircuitOpen}, reg.States())
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	t.Parallel()
	reg := NewCircuitBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 2, OpenTimeout: time.Second}, nil)
	cb := reg.For(stepType)

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, "unknown", CircuitState(42).String())
}

func TestCircuitBreaker_CallbackSetAfterCreation(t *testing.T) {
	t.Parallel()
	reg := NewCircuitBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour}, nil)
	cb := reg.For(NodeTypeWebhook)

	var got []CircuitTransition
	reg.OnTransition(func(tr CircuitTransition) { got = append(got, tr) })
	cb.RecordFailure()

	require.Len(t, got, 1)
	assert.Equal(t, NodeTypeWebhook, got[0].NodeType)
	assert.Equal(t, CircuitOpen, got[0].To)
	assert.Equal(t, 1, got[0].Failures)

	// a late success while open does not clear the failure count
	cb.RecordSuccess()
	err := cb.Allow()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 1 consecutive failures")
}

func TestCircuitBreakerConfig_Defaults(t *testing.T) {
	t.Parallel()
	reg := NewCircuitBreakerRegistry(CircuitBreakerConfig{OpenTimeout: time.Second}, nil)
	def := DefaultCircuitBreakerConfig()
	assert.Equal(t, def.FailureThreshold, reg.config.FailureThreshold)
	assert.Equal(t, def.HalfOpenProbes, reg.config.HalfOpenProbes)
	assert.Equal(t, time.Second, reg.config.OpenTimeout)
}
