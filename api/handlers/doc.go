// Copyright (c) MailFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 MailFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现工作流管理、执行与健康检查端点，所有 Handler 遵循标准
net/http 接口，路由使用 Go 1.22 ServeMux 模式（方法 + 路径参数）。

# 核心类型

  - WorkflowHandler：工作流创建、查询、测试、部署、执行与执行记录查询
  - HealthHandler  ：存活（/health, /healthz）、就绪（/ready）与版本信息
  - Response       ：统一 JSON 响应结构（success + data + error + timestamp + request_id）
  - ErrorInfo      ：结构化错误信息，含 code、details 与 retryable 标记
  - ResponseWriter ：包装 http.ResponseWriter 以捕获状态码

# 错误映射

StatusForCode 将 types.ErrorCode 映射为 HTTP 状态码：VALIDATION_ERROR 与
CYCLE_DETECTED 为 400，NOT_FOUND 为 404，RECOVERY_EXHAUSTED 为 422，
CIRCUIT_OPEN 为 503，其余为 500。非结构化错误的消息不会返回给调用方。
*/
package handlers
