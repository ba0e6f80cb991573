package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 缓存管理器
// =============================================================================

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

// ErrClosed 缓存管理器已关闭
var ErrClosed = errors.New("cache manager is closed")

// Manager 基于 Redis 的 JSON 缓存，键统一加前缀
type Manager struct {
	client *redis.Client
	config Config
	logger *zap.Logger

	hits   atomic.Uint64
	misses atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// Config 缓存配置
type Config struct {
	// 键前缀
	KeyPrefix string
	// 默认过期时间
	DefaultTTL time.Duration
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "mailflow:cache:",
		DefaultTTL: 5 * time.Minute,
	}
}

// NewManager 在已有的 Redis 客户端上创建缓存管理器
func NewManager(client *redis.Client, config Config, logger *zap.Logger) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultConfig().DefaultTTL
	}

	m := &Manager{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "cache")),
	}
	m.logger.Info("cache manager initialized",
		zap.String("prefix", config.KeyPrefix),
		zap.Duration("default_ttl", config.DefaultTTL),
	)
	return m, nil
}

func (m *Manager) key(k string) string {
	return m.config.KeyPrefix + k
}

func (m *Manager) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// GetJSON 读取并反序列化缓存值，未命中返回 ErrCacheMiss
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	val, err := m.client.Get(ctx, m.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		m.misses.Add(1)
		return ErrCacheMiss
	}
	if err != nil {
		m.logger.Error("cache get failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache get failed: %w", err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		// 损坏的条目按未命中处理并清除
		m.misses.Add(1)
		m.logger.Warn("dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		_ = m.client.Del(ctx, m.key(key)).Err()
		return ErrCacheMiss
	}
	m.hits.Add(1)
	return nil
}

// SetJSON 序列化并写入缓存，ttl 为 0 时使用默认过期时间
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if ttl <= 0 {
		ttl = m.config.DefaultTTL
	}
	if err := m.client.Set(ctx, m.key(key), data, ttl).Err(); err != nil {
		m.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// Delete 删除缓存键
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = m.key(k)
	}
	if err := m.client.Del(ctx, full...).Err(); err != nil {
		m.logger.Error("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.client.Ping(ctx).Err()
}

// Close 标记关闭；客户端由创建方负责关闭
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		m.logger.Info("closing cache manager")
	}
	return nil
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// Stats 本进程的命中统计
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// HitRate 命中率，无请求时为 0
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats 返回命中统计
func (m *Manager) Stats() Stats {
	return Stats{Hits: m.hits.Load(), Misses: m.misses.Load()}
}

// IsCacheMiss 判断是否为缓存未命中
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
