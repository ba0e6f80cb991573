package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// 直方图桶（秒）
var (
	nodeBuckets     = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30}
	workflowBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300}
	storeBuckets    = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}
)

// Collector 工作流引擎指标收集器，实现 workflow.MetricsRecorder
type Collector struct {
	// 节点指标
	nodeExecutionsTotal   *prometheus.CounterVec
	nodeExecutionDuration *prometheus.HistogramVec

	// 工作流指标
	workflowExecutionsTotal   *prometheus.CounterVec
	workflowExecutionDuration *prometheus.HistogramVec
	activeExecutions          prometheus.Gauge

	// 恢复与熔断指标
	recoveriesTotal         *prometheus.CounterVec
	circuitTransitionsTotal *prometheus.CounterVec

	// 存储指标
	storeOperationsTotal   *prometheus.CounterVec
	storeOperationDuration *prometheus.HistogramVec
	cacheHits              *prometheus.CounterVec
	cacheMisses            *prometheus.CounterVec

	// 数据库连接池指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到 reg（nil 时使用默认注册表）
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: name, Help: help, Buckets: buckets,
		}, labels)
	}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),

		nodeExecutionsTotal: counter("node_executions_total",
			"Node executions by node type and outcome", "node_type", "status"),
		nodeExecutionDuration: histogram("node_execution_duration_seconds",
			"Node handler latency", nodeBuckets, "node_type"),

		workflowExecutionsTotal: counter("workflow_executions_total",
			"Workflow runs by orchestration strategy and final status", "strategy", "status"),
		workflowExecutionDuration: histogram("workflow_execution_duration_seconds",
			"End-to-end workflow run latency", workflowBuckets, "strategy"),
		activeExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_executions",
			Help:      "Workflow runs currently in flight",
		}),

		recoveriesTotal: counter("recoveries_total",
			"Recovery attempts after a failed run", "strategy", "action", "success"),
		circuitTransitionsTotal: counter("circuit_breaker_transitions_total",
			"Circuit breaker state changes per node type", "node_type", "to"),

		storeOperationsTotal: counter("store_operations_total",
			"Store calls by backend, operation and outcome", "backend", "operation", "status"),
		storeOperationDuration: histogram("store_operation_duration_seconds",
			"Store call latency", storeBuckets, "backend", "operation"),
		cacheHits:   counter("cache_hits_total", "Definition cache hits", "cache"),
		cacheMisses: counter("cache_misses_total", "Definition cache misses", "cache"),

		dbConnectionsOpen: gauge("db_connections_open", "Open SQL connections", "database"),
		dbConnectionsIdle: gauge("db_connections_idle", "Idle SQL connections", "database"),
	}

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 工作流引擎指标
// =============================================================================

// RecordNodeExecution 记录节点执行
func (c *Collector) RecordNodeExecution(nodeType, status string, duration time.Duration) {
	c.nodeExecutionsTotal.WithLabelValues(nodeType, status).Inc()
	c.nodeExecutionDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
}

// RecordWorkflowExecution 记录工作流执行
func (c *Collector) RecordWorkflowExecution(strategy, status string, duration time.Duration) {
	c.workflowExecutionsTotal.WithLabelValues(strategy, status).Inc()
	c.workflowExecutionDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordRecovery 记录恢复尝试
func (c *Collector) RecordRecovery(strategy, action string, success bool) {
	c.recoveriesTotal.WithLabelValues(strategy, action, strconv.FormatBool(success)).Inc()
}

// SetActiveExecutions 设置进行中的执行数
func (c *Collector) SetActiveExecutions(n int) {
	c.activeExecutions.Set(float64(n))
}

// RecordCircuitTransition 记录熔断器状态变更
func (c *Collector) RecordCircuitTransition(nodeType, to string) {
	c.circuitTransitionsTotal.WithLabelValues(nodeType, to).Inc()
}

// =============================================================================
// 🗄️ 存储指标
// =============================================================================

// RecordStoreOperation 记录存储操作
func (c *Collector) RecordStoreOperation(backend, operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.storeOperationsTotal.WithLabelValues(backend, operation, status).Inc()
	c.storeOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cache string) {
	c.cacheHits.WithLabelValues(cache).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cache string) {
	c.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordDBConnections 记录数据库连接池状态
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}
