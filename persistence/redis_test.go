package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/config"
)

func newMiniredisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := NewRedisStore(client, "test:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return mr, s
}

func TestRedisStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		_, s := newMiniredisStore(t)
		return s
	})
}

func TestRedisStore_KeyLayout(t *testing.T) {
	mr, s := newMiniredisStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertWorkflow(ctx, sampleWorkflow("wf-1")))
	require.NoError(t, s.InsertExecutionRecord(ctx, sampleSnapshot("wf-1", "exec-1", time.Now())))

	assert.True(t, mr.Exists("test:workflow:wf-1"))
	assert.True(t, mr.Exists("test:execution:exec-1"))
	members, err := mr.ZMembers("test:executions:wf-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"exec-1"}, members)
}

func TestRedisStore_DanglingIndexEntry(t *testing.T) {
	mr, s := newMiniredisStore(t)
	ctx := context.Background()
	start := time.Now()
	require.NoError(t, s.InsertExecutionRecord(ctx, sampleSnapshot("wf-1", "exec-1", start)))
	require.NoError(t, s.InsertExecutionRecord(ctx, sampleSnapshot("wf-1", "exec-2", start.Add(time.Second))))
	mr.Del("test:execution:exec-2")

	snaps, err := s.ListExecutions(ctx, "wf-1", 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "exec-1", snaps[0].ExecutionID)
}

func TestRedisStore_DefaultPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := NewRedisStore(client, "", nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.InsertWorkflow(context.Background(), sampleWorkflow("wf-1")))
	assert.True(t, mr.Exists("mailflow:workflow:wf-1"))
}

func TestNewRedisStore_NilClient(t *testing.T) {
	_, err := NewRedisStore(nil, "", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	client.Close()

	_, err = NewRedisClient(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1"})
	assert.ErrorContains(t, err, "failed to connect to Redis")
}
