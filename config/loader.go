// =============================================================================
// 📦 MailFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("mailflow.yaml").
//	    WithEnvPrefix("MAILFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 MailFlow 的完整配置结构
type Config struct {
	// Engine 工作流引擎配置
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// Store 存储后端选择
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Database 关系型数据库配置（store.backend=database）
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis 配置（store.backend=redis）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Mongo 配置（store.backend=mongo）
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Server HTTP 服务配置（mailflow serve）
	Server ServerConfig `yaml:"server" env:"SERVER"`
}

// EngineConfig 工作流引擎配置
type EngineConfig struct {
	// 默认编排策略: sequential, parallel, conditional, hybrid
	DefaultStrategy string `yaml:"default_strategy" env:"DEFAULT_STRATEGY"`
	// 默认节点失败策略: continue, stop
	NodeFailureStrategy string `yaml:"node_failure_strategy" env:"NODE_FAILURE_STRATEGY"`
	// 工作流未配置时的默认最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 工作流未配置时的默认重试基础延迟
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	// 并行策略最大并发（0 表示不限制）
	MaxParallelism int `yaml:"max_parallelism" env:"MAX_PARALLELISM"`
	// 节点类型熔断器
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" env:"CIRCUIT_BREAKER"`
}

// CircuitBreakerConfig 熔断器配置
type CircuitBreakerConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 连续失败阈值
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// 熔断持续时间
	OpenTimeout time.Duration `yaml:"open_timeout" env:"OPEN_TIMEOUT"`
	// 半开探测次数
	HalfOpenProbes int `yaml:"half_open_probes" env:"HALF_OPEN_PROBES"`
}

// StoreConfig 存储配置
type StoreConfig struct {
	// 后端: memory, database, redis, mongo
	Backend string `yaml:"backend" env:"BACKEND"`
	// 启动时自动迁移表结构（database 后端）
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
	// 执行记录查询默认条数
	ListLimit int `yaml:"list_limit" env:"LIST_LIMIT"`
	// 是否在 Redis 中缓存工作流定义（需要 redis 配置）
	CacheEnabled bool `yaml:"cache_enabled" env:"CACHE_ENABLED"`
	// 定义缓存过期时间
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 健康检查间隔（0 表示关闭）
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// Key 前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	// 连接 URI
	URI string `yaml:"uri" env:"URI"`
	// 数据库名
	Database string `yaml:"database" env:"DATABASE"`
	// 连接超时
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用 Prometheus 指标
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	// 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 空闲超时
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// TLS 证书文件（与私钥同时配置时启用 HTTPS）
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	// TLS 私钥文件
	TLSKeyFile string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
	// API Key 列表，为空时不启用认证
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 每个 IP 每秒请求数，0 表示不限流
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// webhook / notification 节点的 HTTP 超时
	WebhookTimeout time.Duration `yaml:"webhook_timeout" env:"WEBHOOK_TIMEOUT"`
}

// TLSEnabled 证书与私钥均已配置
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 按 默认值 → YAML 文件 → 环境变量 的顺序叠加配置
type Loader struct {
	configPath string
	env        envSource
	validators []func(*Config) error
}

// NewLoader 创建加载器，环境变量前缀为 MAILFLOW
func NewLoader() *Loader {
	return &Loader{env: envSource{prefix: "MAILFLOW", lookup: os.LookupEnv}}
}

// WithConfigPath 设置 YAML 文件路径；文件不存在时仅使用默认值与环境变量
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 替换环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.env.prefix = prefix
	return l
}

// WithEnvLookup 替换环境变量来源（测试用）
func (l *Loader) WithEnvLookup(lookup func(string) (string, bool)) *Loader {
	l.env.lookup = lookup
	return l
}

// WithValidator 追加加载完成后执行的校验
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.applyFile(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from file: %w", err)
	}
	if err := l.env.apply(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	for _, validate := range l.validators {
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// applyFile 以严格模式解析 YAML，未知字段视为错误
func (l *Loader) applyFile(cfg *Config) error {
	if l.configPath == "" {
		return nil
	}
	f, err := os.Open(l.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// =============================================================================
// 🔍 校验与辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置，一次性返回所有问题
func (c *Config) Validate() error {
	var errs []string

	switch c.Engine.DefaultStrategy {
	case "sequential", "parallel", "conditional", "hybrid":
	default:
		errs = append(errs, fmt.Sprintf("unknown engine.default_strategy %q", c.Engine.DefaultStrategy))
	}
	switch c.Engine.NodeFailureStrategy {
	case "continue", "stop":
	default:
		errs = append(errs, fmt.Sprintf("unknown engine.node_failure_strategy %q", c.Engine.NodeFailureStrategy))
	}
	if c.Engine.MaxRetries < 0 {
		errs = append(errs, "engine.max_retries must be >= 0")
	}
	if c.Engine.RetryDelay < 0 {
		errs = append(errs, "engine.retry_delay must be >= 0")
	}
	if c.Engine.MaxParallelism < 0 {
		errs = append(errs, "engine.max_parallelism must be >= 0")
	}
	if cb := c.Engine.CircuitBreaker; cb.Enabled && cb.FailureThreshold <= 0 {
		errs = append(errs, "engine.circuit_breaker.failure_threshold must be positive")
	}

	switch c.Store.Backend {
	case "memory":
	case "database":
		switch c.Database.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("unsupported database.driver %q", c.Database.Driver))
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis store")
		}
	case "mongo":
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			errs = append(errs, "mongo.uri and mongo.database are required for the mongo store")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown store.backend %q", c.Store.Backend))
	}

	if c.Store.CacheEnabled && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required when store.cache_enabled is set")
	}
	if c.Store.CacheTTL < 0 {
		errs = append(errs, "store.cache_ttl must be >= 0")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log.level %q", c.Log.Level))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "server.tls_cert_file and server.tls_key_file must be set together")
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, "server.rate_limit_rps must be >= 0")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst <= 0 {
		errs = append(errs, "server.rate_limit_burst must be positive when rate limiting is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
