package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/config"
	"github.com/BaSui01/mailflow/workflow"
)

// statusUpdateAttempts bounds optimistic-lock retries in UpdateWorkflowStatus.
const statusUpdateAttempts = 5

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisStore keeps workflows and execution records as JSON strings, with a
// sorted set per workflow indexing its runs by start time.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(client *redis.Client, keyPrefix string, logger *zap.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required: %w", ErrInvalidInput)
	}
	if keyPrefix == "" {
		keyPrefix = "mailflow:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger.With(zap.String("component", "redis_store")),
	}, nil
}

func (s *RedisStore) workflowKey(id string) string {
	return s.keyPrefix + "workflow:" + id
}

func (s *RedisStore) executionKey(id string) string {
	return s.keyPrefix + "execution:" + id
}

// executionIndexKey returns the sorted set of a workflow's execution ids.
func (s *RedisStore) executionIndexKey(workflowID string) string {
	return s.keyPrefix + "executions:" + workflowID
}

// GetWorkflow loads a workflow by id.
func (s *RedisStore) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	data, err := s.client.Get(ctx, s.workflowKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow %s: %w", id, err)
	}

	var wf workflow.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
	}
	return &wf, nil
}

// InsertWorkflow stores a new workflow; duplicate ids are rejected.
func (s *RedisStore) InsertWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	if err := validateWorkflowInput(wf); err != nil {
		return err
	}
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.workflowKey(wf.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", wf.ID, err)
	}
	if !ok {
		return fmt.Errorf("workflow %s: %w", wf.ID, ErrAlreadyExists)
	}
	return nil
}

// UpdateWorkflowStatus rewrites the status under WATCH so concurrent
// writers do not lose updates.
func (s *RedisStore) UpdateWorkflowStatus(ctx context.Context, id string, status workflow.WorkflowStatus) error {
	key := s.workflowKey(id)
	update := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return notFound(id)
		}
		if err != nil {
			return err
		}

		var wf workflow.Workflow
		if err := json.Unmarshal(data, &wf); err != nil {
			return fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
		}
		wf.Status = status
		wf.UpdatedAt = time.Now().UTC()
		out, err := json.Marshal(&wf)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for i := 0; i < statusUpdateAttempts; i++ {
		err := s.client.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("workflow changed during status update, retrying", zap.String("workflow_id", id))
			continue
		}
		return err
	}
	return fmt.Errorf("failed to update workflow %s: too much contention", id)
}

// InsertExecutionRecord stores a snapshot and indexes it by start time.
func (s *RedisStore) InsertExecutionRecord(ctx context.Context, snap *workflow.ExecutionSnapshot) error {
	if err := validateSnapshotInput(snap); err != nil {
		return err
	}
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.executionKey(snap.ExecutionID), data, 0)
	pipe.ZAdd(ctx, s.executionIndexKey(snap.WorkflowID), redis.Z{
		Score:  float64(snap.StartTime.UnixNano()),
		Member: snap.ExecutionID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save execution %s: %w", snap.ExecutionID, err)
	}
	return nil
}

// ListExecutions returns up to limit runs of a workflow, newest first.
func (s *RedisStore) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*workflow.ExecutionSnapshot, error) {
	n := int64(normalizeLimit(limit))
	ids, err := s.client.ZRevRange(ctx, s.executionIndexKey(workflowID), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions of %s: %w", workflowID, err)
	}
	if len(ids) == 0 {
		return []*workflow.ExecutionSnapshot{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.executionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load executions of %s: %w", workflowID, err)
	}

	snaps := make([]*workflow.ExecutionSnapshot, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// index entry without a record
			continue
		}
		snap, err := decodeSnapshot(str)
		if err != nil {
			s.logger.Warn("skipping undecodable execution record",
				zap.String("execution_id", ids[i]), zap.Error(err))
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
