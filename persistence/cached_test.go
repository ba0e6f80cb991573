package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/internal/cache"
	"github.com/BaSui01/mailflow/workflow"
)

type countingObserver struct {
	mu     sync.Mutex
	hits   int
	misses int
}

func (o *countingObserver) RecordCacheHit(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hits++
}

func (o *countingObserver) RecordCacheMiss(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.misses++
}

func (o *countingObserver) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits, o.misses
}

func newCachedMemoryStore(t *testing.T, mr *miniredis.Miniredis) (*CachedStore, *MemoryStore, *countingObserver) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	mgr, err := cache.NewManager(client, cache.Config{KeyPrefix: "test:cache:", DefaultTTL: time.Minute}, zap.NewNop())
	require.NoError(t, err)

	inner := NewMemoryStore()
	obs := &countingObserver{}
	return NewCachedStore(inner, mgr, time.Minute, obs, zap.NewNop()), inner, obs
}

func TestCachedStore_HitAfterMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	s, _, obs := newCachedMemoryStore(t, mr)
	ctx := context.Background()
	require.NoError(t, s.InsertWorkflow(ctx, sampleWorkflow("wf-1")))

	first, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:cache:workflow:wf-1"))

	second, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, first.Name, second.Name)
	assert.Equal(t, "support-v2", second.Nodes[1].StringParam("model"))

	hits, misses := obs.counts()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
}

func TestCachedStore_StatusUpdateInvalidates(t *testing.T) {
	mr := miniredis.RunT(t)
	s, _, obs := newCachedMemoryStore(t, mr)
	ctx := context.Background()
	require.NoError(t, s.InsertWorkflow(ctx, sampleWorkflow("wf-1")))

	_, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, s.UpdateWorkflowStatus(ctx, "wf-1", workflow.WorkflowStatusDeployed))
	assert.False(t, mr.Exists("test:cache:workflow:wf-1"))

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.WorkflowStatusDeployed, got.Status)

	_, misses := obs.counts()
	assert.Equal(t, 2, misses)
}

func TestCachedStore_MissingWorkflowNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	s, _, _ := newCachedMemoryStore(t, mr)

	_, err := s.GetWorkflow(context.Background(), "nope")
	assert.ErrorIs(t, err, workflow.ErrWorkflowNotFound)
	assert.False(t, mr.Exists("test:cache:workflow:nope"))
}

func TestCachedStore_FallsBackWhenCacheDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	s, inner, obs := newCachedMemoryStore(t, mr)
	ctx := context.Background()
	require.NoError(t, inner.InsertWorkflow(ctx, sampleWorkflow("wf-1")))

	mr.Close()

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", got.ID)
	require.NoError(t, s.UpdateWorkflowStatus(ctx, "wf-1", workflow.WorkflowStatusDisabled))

	hits, misses := obs.counts()
	assert.Zero(t, hits)
	assert.Zero(t, misses)
}

func TestCachedStore_NilObserver(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mgr, err := cache.NewManager(client, cache.DefaultConfig(), nil)
	require.NoError(t, err)

	s := NewCachedStore(NewMemoryStore(), mgr, 0, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.InsertWorkflow(ctx, sampleWorkflow("wf-1")))
	_, err = s.GetWorkflow(ctx, "wf-1")
	assert.NoError(t, err)
	assert.NoError(t, s.Close())
}
