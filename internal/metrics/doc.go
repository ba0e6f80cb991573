// Copyright (c) MailFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的工作流引擎指标采集。

# 概述

Collector 通过 promauto 注册到调用方提供的 Registerer，按 namespace
隔离，实现 workflow.MetricsRecorder，可直接通过 workflow.WithMetrics
注入引擎。

# 指标分组

  - 节点：执行总数与耗时，按 node_type/status 分组。
  - 工作流：执行总数、耗时与进行中的执行数，按 strategy 分组。
  - 恢复与熔断：恢复动作计数、熔断器状态变更计数。
  - 存储：各后端操作计数与耗时、定义缓存命中/未命中。
  - 数据库：连接池活跃与空闲连接数。
*/
package metrics
