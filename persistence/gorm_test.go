package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/config"
	"github.com/BaSui01/mailflow/internal/database"
	"github.com/BaSui01/mailflow/workflow"
)

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	pool, err := database.Open(config.DatabaseConfig{
		Driver: "sqlite",
		Name:   filepath.Join(t.TempDir(), "mailflow.db"),
	}, zap.NewNop())
	require.NoError(t, err)

	s, err := NewGormStore(pool, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.AutoMigrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGormStore_SQLite(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return newSQLiteStore(t)
	})
}

func TestNewGormStore_NilPool(t *testing.T) {
	_, err := NewGormStore(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGormStore_SkipsCorruptRecords(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	start := time.Now()
	require.NoError(t, s.InsertExecutionRecord(ctx, sampleSnapshot("wf-1", "good", start)))

	bad := executionModel{
		ID:         "bad",
		WorkflowID: "wf-1",
		OwnerID:    "owner-1",
		Status:     string(workflow.ExecutionStatusFailed),
		Snapshot:   "{not json",
		StartTime:  start.Add(time.Minute).UTC(),
	}
	require.NoError(t, s.pool.DB().Create(&bad).Error)

	snaps, err := s.ListExecutions(ctx, "wf-1", 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "good", snaps[0].ExecutionID)
}

func TestGormStore_PoolStats(t *testing.T) {
	s := newSQLiteStore(t)
	require.NoError(t, s.Ping(context.Background()))
	assert.GreaterOrEqual(t, s.PoolStats().OpenConnections, 1)
}
