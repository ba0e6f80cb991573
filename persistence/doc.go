// Copyright (c) MailFlow Authors.
// Licensed under the MIT License.

/*
包 persistence 提供工作流定义与执行记录的持久化后端，全部实现
workflow.Store 与 workflow.ExecutionLister。

# 后端

  - Memory：进程内存储，用于开发与测试（默认）。
  - Gorm：PostgreSQL / MySQL / SQLite，表结构与 internal/migration 一致。
  - Redis：定义与执行记录以 JSON 存储，按开始时间维护有序索引。
  - Mongo：workflows 与 workflow_executions 两个集合。

# 装饰器

  - Cached：基于 internal/cache 的定义读缓存，状态更新时失效。
  - Instrument：为任意后端记录操作耗时与结果。

Open 根据 config.Config 组装上述组件。
*/
package persistence
