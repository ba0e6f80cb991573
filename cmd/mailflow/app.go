package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/config"
	"github.com/BaSui01/mailflow/internal/metrics"
	"github.com/BaSui01/mailflow/internal/telemetry"
	"github.com/BaSui01/mailflow/nodes"
	"github.com/BaSui01/mailflow/persistence"
	"github.com/BaSui01/mailflow/workflow"
)

const tracerName = "github.com/BaSui01/mailflow/workflow"

// app 持有一次进程生命周期内的全部组件
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *prometheus.Registry
	collector *metrics.Collector // metrics.enabled=false 时为 nil
	telemetry *telemetry.Providers

	store  persistence.Store
	engine *workflow.Engine
}

// newApp 按顺序装配：指标 → 遥测 → 存储 → 引擎 → 内置节点
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	if cfg.Metrics.Enabled {
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.collector = metrics.NewCollector(cfg.Metrics.Namespace, a.registry, logger)
	}

	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger, telemetry.WithServiceVersion(Version))
	if err != nil {
		// 遥测不可用不阻止启动
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	a.telemetry = providers

	var storeMetrics persistence.Metrics
	if a.collector != nil {
		storeMetrics = a.collector
	}
	store, err := persistence.Open(ctx, cfg, storeMetrics, logger)
	if err != nil {
		_ = a.close(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = store

	opts := []workflow.Option{
		workflow.WithConfig(engineConfig(cfg.Engine)),
		workflow.WithLogger(logger),
		workflow.WithTracer(a.telemetry.Tracer(tracerName)),
	}
	if a.collector != nil {
		opts = append(opts, workflow.WithMetrics(a.collector))
	}
	engine, err := workflow.NewEngine(store, opts...)
	if err != nil {
		_ = a.close(ctx)
		return nil, fmt.Errorf("create engine: %w", err)
	}
	a.engine = engine

	if err := nodes.Register(engine.Registry(), nodes.Options{
		HTTPTimeout: cfg.Server.WebhookTimeout,
		Logger:      logger,
	}); err != nil {
		_ = a.close(ctx)
		return nil, fmt.Errorf("register node handlers: %w", err)
	}

	if breakers := engine.CircuitBreakers(); breakers != nil && a.collector != nil {
		breakers.OnTransition(func(t workflow.CircuitTransition) {
			a.collector.RecordCircuitTransition(string(t.NodeType), t.To.String())
		})
	}
	return a, nil
}

// close 释放存储并刷新遥测数据，可重复调用
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		a.store = nil
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	a.telemetry = nil
	return errors.Join(errs...)
}

// engineConfig 将配置文件中的引擎段映射为 workflow.EngineConfig
func engineConfig(c config.EngineConfig) workflow.EngineConfig {
	retries := c.MaxRetries
	ec := workflow.EngineConfig{
		DefaultStrategy:      workflow.OrchestrationStrategy(c.DefaultStrategy),
		DefaultFailurePolicy: workflow.NodeFailurePolicy(c.NodeFailureStrategy),
		DefaultMaxRetries:    &retries,
		DefaultRetryDelay:    c.RetryDelay,
		MaxParallelism:       c.MaxParallelism,
	}
	if c.CircuitBreaker.Enabled {
		cb := workflow.DefaultCircuitBreakerConfig()
		if c.CircuitBreaker.FailureThreshold > 0 {
			cb.FailureThreshold = c.CircuitBreaker.FailureThreshold
		}
		if c.CircuitBreaker.OpenTimeout > 0 {
			cb.OpenTimeout = c.CircuitBreaker.OpenTimeout
		}
		if c.CircuitBreaker.HalfOpenProbes > 0 {
			cb.HalfOpenProbes = c.CircuitBreaker.HalfOpenProbes
		}
		ec.CircuitBreaker = &cb
	}
	return ec
}

// loadConfig 加载并校验配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
