package persistence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/internal/cache"
	"github.com/BaSui01/mailflow/workflow"
)

const workflowCacheName = "workflow"

// CacheObserver receives definition cache hits and misses.
type CacheObserver interface {
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)
}

type nopCacheObserver struct{}

func (nopCacheObserver) RecordCacheHit(string)  {}
func (nopCacheObserver) RecordCacheMiss(string) {}

// CachedStore serves GetWorkflow from a Redis cache in front of another
// Store. Status updates invalidate the cached entry. Cache failures fall
// back to the underlying store.
type CachedStore struct {
	Store
	cache    *cache.Manager
	ttl      time.Duration
	observer CacheObserver
	logger   *zap.Logger
}

// NewCachedStore wraps inner with a definition cache.
func NewCachedStore(inner Store, c *cache.Manager, ttl time.Duration, observer CacheObserver, logger *zap.Logger) *CachedStore {
	if observer == nil {
		observer = nopCacheObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{
		Store:    inner,
		cache:    c,
		ttl:      ttl,
		observer: observer,
		logger:   logger.With(zap.String("component", "cached_store")),
	}
}

func workflowCacheKey(id string) string {
	return "workflow:" + id
}

// GetWorkflow returns the cached workflow or loads and caches it.
func (s *CachedStore) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	err := s.cache.GetJSON(ctx, workflowCacheKey(id), &wf)
	switch {
	case err == nil:
		s.observer.RecordCacheHit(workflowCacheName)
		return &wf, nil
	case cache.IsCacheMiss(err):
		s.observer.RecordCacheMiss(workflowCacheName)
	default:
		s.logger.Warn("workflow cache unavailable", zap.String("workflow_id", id), zap.Error(err))
	}

	loaded, err := s.Store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetJSON(ctx, workflowCacheKey(id), loaded, s.ttl); err != nil {
		s.logger.Warn("failed to cache workflow", zap.String("workflow_id", id), zap.Error(err))
	}
	return loaded, nil
}

// UpdateWorkflowStatus updates the underlying store and drops the cached copy.
func (s *CachedStore) UpdateWorkflowStatus(ctx context.Context, id string, status workflow.WorkflowStatus) error {
	if err := s.Store.UpdateWorkflowStatus(ctx, id, status); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, workflowCacheKey(id)); err != nil {
		s.logger.Warn("failed to invalidate cached workflow", zap.String("workflow_id", id), zap.Error(err))
	}
	return nil
}

// Close closes the cache manager and the underlying store.
func (s *CachedStore) Close() error {
	_ = s.cache.Close()
	return s.Store.Close()
}
