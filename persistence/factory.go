package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/config"
	"github.com/BaSui01/mailflow/internal/cache"
	"github.com/BaSui01/mailflow/internal/database"
)

// Metrics is the recorder surface Open wires into the decorators.
// metrics.Collector satisfies it.
type Metrics interface {
	OperationRecorder
	CacheObserver
}

// PoolObserver receives connection pool gauges from the database backend.
// Open uses it when m also implements it.
type PoolObserver interface {
	RecordDBConnections(database string, open, idle int)
}

// Open builds the configured backend, optionally fronted by the Redis
// definition cache and instrumented with m. A nil m disables instrumentation.
func Open(ctx context.Context, cfg *config.Config, m Metrics, logger *zap.Logger) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required: %w", ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	backend := Backend(cfg.Store.Backend)
	var (
		store       Store
		redisClient *redis.Client
	)

	switch backend {
	case BackendMemory, "":
		backend = BackendMemory
		store = NewMemoryStore()

	case BackendDatabase:
		var opts []database.Option
		if po, ok := m.(PoolObserver); ok {
			driver := cfg.Database.Driver
			opts = append(opts, database.WithStatsHook(func(s sql.DBStats) {
				po.RecordDBConnections(driver, s.OpenConnections, s.Idle)
			}))
		}
		pool, err := database.Open(cfg.Database, logger, opts...)
		if err != nil {
			return nil, err
		}
		gs, err := NewGormStore(pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if cfg.Store.AutoMigrate {
			if err := gs.AutoMigrate(ctx); err != nil {
				pool.Close()
				return nil, fmt.Errorf("auto migrate: %w", err)
			}
		}
		store = gs

	case BackendRedis:
		client, err := NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		rs, err := NewRedisStore(client, cfg.Redis.KeyPrefix, logger)
		if err != nil {
			client.Close()
			return nil, err
		}
		redisClient = client
		store = rs

	case BackendMongo:
		ms, err := NewMongoStore(ctx, cfg.Mongo, logger)
		if err != nil {
			return nil, err
		}
		store = ms

	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}

	if cfg.Store.CacheEnabled {
		cached, err := withCache(ctx, store, redisClient, cfg, m, logger)
		if err != nil {
			store.Close()
			return nil, err
		}
		store = cached
	}

	logger.Info("store opened",
		zap.String("backend", string(backend)),
		zap.Bool("cache", cfg.Store.CacheEnabled),
	)

	if m == nil {
		return store, nil
	}
	return Instrument(store, backend, m), nil
}

// withCache fronts store with the definition cache, sharing the store's
// Redis client when there is one.
func withCache(ctx context.Context, store Store, client *redis.Client, cfg *config.Config, m Metrics, logger *zap.Logger) (Store, error) {
	ownClient := client == nil
	if ownClient {
		c, err := NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("definition cache: %w", err)
		}
		client = c
	}

	mgr, err := cache.NewManager(client, cache.Config{
		KeyPrefix:  cfg.Redis.KeyPrefix + "cache:",
		DefaultTTL: cfg.Store.CacheTTL,
	}, logger)
	if err != nil {
		if ownClient {
			client.Close()
		}
		return nil, err
	}

	var observer CacheObserver = m
	cached := NewCachedStore(store, mgr, cfg.Store.CacheTTL, observer, logger)
	if !ownClient {
		return cached, nil
	}
	return &closeHook{Store: cached, hook: client.Close}, nil
}

// closeHook runs an extra release step after closing the wrapped store.
type closeHook struct {
	Store
	hook func() error
}

func (c *closeHook) Close() error {
	return errors.Join(c.Store.Close(), c.hook())
}
