package workflow

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/mailflow/types"
)

func TestProperty_RetryBackoffSchedule(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := time.Duration(rapid.Int64Range(1, 2000).Draw(t, "base_ms")) * time.Millisecond
		maxRetries := rapid.IntRange(0, 8).Draw(t, "max_retries")

		wf := &Workflow{ID: "wf", Definition: Definition{ErrorHandling: ErrorHandlingConfig{
			RecoveryStrategy: RecoveryRetry,
			MaxRetries:       IntPtr(maxRetries),
			RetryDelay:       base,
		}}}
		delays := &delayRecorder{}
		r := NewRecoveryEngine(newTestDispatcher(newScriptedHandler()), nil, nil)
		r.SetSleep(delays.sleep)

		reruns := 0
		cause := errors.New("initial")
		_, err := r.Recover(context.Background(), wf, NewExecutionContext("e", "wf", nil),
			func(context.Context) error {
				reruns++
				return errors.New("still failing")
			}, cause)

		if !types.IsCode(err, types.ErrRecoveryExhausted) {
			t.Fatalf("expected exhaustion, got %v", err)
		}
		if reruns != maxRetries || len(delays.delays) != maxRetries {
			t.Fatalf("reruns=%d delays=%d max=%d", reruns, len(delays.delays), maxRetries)
		}
		for k := 1; k <= maxRetries; k++ {
			want := retryDelay(base, k)
			if delays.delays[k-1] != want {
				t.Fatalf("attempt %d: delay %s, want %s", k, delays.delays[k-1], want)
			}
			if k > 1 && delays.delays[k-1] <= delays.delays[k-2] {
				t.Fatalf("delays not increasing at attempt %d", k)
			}
		}
	})
}

func TestRetryDelay(t *testing.T) {
	t.Parallel()
	assert.Equal(t, time.Second, retryDelay(time.Second, 1))
	assert.Equal(t, 4*time.Second, retryDelay(time.Second, 3))
	assert.Zero(t, retryDelay(time.Second, 0))
	assert.Zero(t, retryDelay(time.Second, -2))
	assert.Zero(t, retryDelay(0, 3))
	assert.Equal(t, time.Duration(math.MaxInt64), retryDelay(time.Second, 64))
	assert.Equal(t, time.Duration(math.MaxInt64), retryDelay(time.Hour, 1000))

	schedule := RetrySchedule(100 * time.Millisecond)
	for k := 1; k <= 5; k++ {
		assert.Equal(t, retryDelay(100*time.Millisecond, k), schedule.NextBackOff())
	}
}

func TestRecover_NoStrategyReturnsCause(t *testing.T) {
	t.Parallel()
	r := NewRecoveryEngine(newTestDispatcher(newScriptedHandler()), nil, nil)
	cause := errors.New("boom")

	outcome, err := r.Recover(context.Background(), &Workflow{}, NewExecutionContext("e", "wf", nil), nil, cause)
	assert.Nil(t, outcome)
	assert.Same(t, cause, err)
}

func TestRecover_RetryResetsErrors(t *testing.T) {
	t.Parallel()
	r := NewRecoveryEngine(newTestDispatcher(newScriptedHandler()), newFakeMetrics(), nil)
	delays := &delayRecorder{}
	r.SetSleep(delays.sleep)

	ec := NewExecutionContext("e", "wf", nil)
	ec.RecordNode(PathEntry{NodeID: "A"}, nil, &NodeError{NodeID: "A", Message: "x"})
	require.True(t, ec.HasErrors())

	wf := &Workflow{Definition: Definition{ErrorHandling: ErrorHandlingConfig{RecoveryStrategy: RecoveryRetry}}}
	var errorsSeen []int
	outcome, err := r.Recover(context.Background(), wf, ec, func(context.Context) error {
		errorsSeen = append(errorsSeen, len(ec.Errors()))
		return nil
	}, errors.New("cause"))
	require.NoError(t, err)
	assert.Equal(t, []int{0}, errorsSeen)
	assert.Equal(t, 0, ec.Metrics().NodesFailed)
	assert.Equal(t, ActionRetried, outcome.Action)
	assert.True(t, outcome.Success)
}

func TestRecover_ZeroRetriesExhaustsImmediately(t *testing.T) {
	t.Parallel()
	metrics := newFakeMetrics()
	r := NewRecoveryEngine(newTestDispatcher(newScriptedHandler()), metrics, nil)
	wf := &Workflow{Definition: Definition{ErrorHandling: ErrorHandlingConfig{
		RecoveryStrategy: RecoveryRetry,
		MaxRetries:       IntPtr(0),
	}}}

	cause := errors.New("cause")
	_, err := r.Recover(context.Background(), wf, NewExecutionContext("e", "wf", nil), func(context.Context) error {
		t.Fatal("rerun must not be called")
		return nil
	}, cause)
	assert.True(t, types.IsCode(err, types.ErrRecoveryExhausted))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, []string{"retry/exhausted"}, metrics.recoveries)
}

func TestRecover_FallbackSkipsMissingNodes(t *testing.T) {
	t.Parallel()
	r := NewRecoveryEngine(newTestDispatcher(newScriptedHandler()), nil, nil)
	wf := &Workflow{ID: "wf", Definition: Definition{ErrorHandling: ErrorHandlingConfig{
		RecoveryStrategy: RecoveryFallback,
		FallbackNodes:    []*Node{nil, stepNode("F")},
	}}}
	cause := errors.New("B failed")

	var outcome *RecoveryOutcome
	var err error
	require.NotPanics(t, func() {
		outcome, err = r.Recover(context.Background(), wf, NewExecutionContext("e", "wf", nil), nil, cause)
	})
	require.NoError(t, err)
	assert.Equal(t, ActionFallbackExecuted, outcome.Action)
	assert.Equal(t, []string{"F"}, outcome.Nodes)
}
