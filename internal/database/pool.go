package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/mailflow/config"
)

// ErrPoolClosed 连接池已关闭
var ErrPoolClosed = errors.New("database pool is closed")

// PoolConfig 连接池参数，零值表示使用 database/sql 默认值
type PoolConfig struct {
	MaxIdleConns        int
	MaxOpenConns        int
	ConnMaxLifetime     time.Duration
	HealthCheckInterval time.Duration
}

// PoolConfigFrom 从数据库配置提取连接池参数
func PoolConfigFrom(cfg config.DatabaseConfig) PoolConfig {
	return PoolConfig{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxOpenConns:        cfg.MaxOpenConns,
		ConnMaxLifetime:     cfg.ConnMaxLifetime,
		HealthCheckInterval: cfg.HealthCheckInterval,
	}
}

// Option 连接池可选项
type Option func(*PoolManager)

// WithStatsHook 每次定时探活成功后回调连接池统计（用于导出指标）
func WithStatsHook(fn func(sql.DBStats)) Option {
	return func(pm *PoolManager) { pm.onStats = fn }
}

// PoolManager 持有 GORM 实例与底层 *sql.DB，负责探活与事务重试
type PoolManager struct {
	db      *gorm.DB
	sqlDB   *sql.DB
	cfg     PoolConfig
	logger  *zap.Logger
	onStats func(sql.DBStats)

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// Dialector 按驱动类型返回 GORM 方言；sqlite 使用纯 Go 的 glebarez 驱动
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	dsn := cfg.DSN()
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
}

// Open 打开数据库并创建连接池管理器
func Open(cfg config.DatabaseConfig, logger *zap.Logger, opts ...Option) (*PoolManager, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}
	return NewPoolManager(db, PoolConfigFrom(cfg), logger, opts...)
}

// NewPoolManager 应用连接池参数；HealthCheckInterval > 0 时启动后台探活
func NewPoolManager(db *gorm.DB, cfg PoolConfig, logger *zap.Logger, opts ...Option) (*PoolManager, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	applyLimits(sqlDB, cfg)

	pm := &PoolManager{
		db:     db,
		sqlDB:  sqlDB,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "db_pool")),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(pm)
	}

	if cfg.HealthCheckInterval > 0 {
		go pm.monitor()
	} else {
		close(pm.done)
	}

	pm.logger.Info("database pool initialized",
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
		zap.Duration("health_check_interval", cfg.HealthCheckInterval))
	return pm, nil
}

func applyLimits(db *sql.DB, cfg PoolConfig) {
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

// DB 返回 GORM 实例
func (pm *PoolManager) DB() *gorm.DB {
	return pm.db
}

// Ping 检查数据库连接
func (pm *PoolManager) Ping(ctx context.Context) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if pm.closed {
		return ErrPoolClosed
	}
	return pm.sqlDB.PingContext(ctx)
}

// Stats 返回底层连接池统计
func (pm *PoolManager) Stats() sql.DBStats {
	return pm.sqlDB.Stats()
}

// Close 停止探活并关闭连接（幂等）
func (pm *PoolManager) Close() error {
	pm.mu.Lock()
	if pm.closed {
		pm.mu.Unlock()
		return nil
	}
	pm.closed = true
	close(pm.stop)
	pm.mu.Unlock()

	<-pm.done
	pm.logger.Info("closing database pool")
	return pm.sqlDB.Close()
}

// monitor 定时探活并上报统计，Close 后退出
func (pm *PoolManager) monitor() {
	defer close(pm.done)
	ticker := time.NewTicker(pm.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.stop:
			return
		case <-ticker.C:
			pm.probe()
		}
	}
}

func (pm *PoolManager) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := pm.Ping(ctx)
	switch {
	case errors.Is(err, ErrPoolClosed):
		return
	case err != nil:
		pm.logger.Error("database ping failed", zap.Error(err))
		return
	}
	stats := pm.Stats()
	pm.logger.Debug("database ping ok",
		zap.Int("open_connections", stats.OpenConnections),
		zap.Int("in_use", stats.InUse),
		zap.Int("idle", stats.Idle))
	if pm.onStats != nil {
		pm.onStats(stats)
	}
}

// TransactionFunc 事务函数类型
type TransactionFunc func(tx *gorm.DB) error

// WithTransaction 在事务中执行 fn，fn 返回错误时回滚
func (pm *PoolManager) WithTransaction(ctx context.Context, fn TransactionFunc) error {
	pm.mu.RLock()
	closed := pm.closed
	pm.mu.RUnlock()
	if closed {
		return ErrPoolClosed
	}
	return pm.db.WithContext(ctx).Transaction(fn)
}

// WithTransactionRetry 同 WithTransaction，死锁与锁超时等瞬时错误按指数退避重试。
// maxRetries < 0 表示只受 ctx 约束。
func (pm *PoolManager) WithTransactionRetry(ctx context.Context, maxRetries int, fn TransactionFunc) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0

	var policy backoff.BackOff = b
	if maxRetries >= 0 {
		policy = backoff.WithMaxRetries(b, uint64(maxRetries))
	}

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := pm.WithTransaction(ctx, fn)
		switch {
		case err == nil:
			return nil
		case !isRetryableError(err):
			return backoff.Permanent(err)
		}
		pm.logger.Warn("transaction failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))
		return err
	}, backoff.WithContext(policy, ctx))
}

// retryableMarkers 各驱动瞬时错误文本中的特征片段
var retryableMarkers = []string{
	"deadlock",
	"serialization failure",
	"40001",
	"lock timeout",
	"lock wait timeout",
	"database is locked",
	"connection reset",
	"connection refused",
	"broken pipe",
	"bad connection",
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
