// Copyright (c) MailFlow Authors.
// Licensed under the MIT License.

// Package api 汇总 MailFlow HTTP API 的约定。
//
// # 认证
//
// 配置了 server.api_keys 时，/api/v1 下的请求需携带 X-API-Key 头：
//
//	X-API-Key: your-api-key
//
// 健康检查、版本与 /metrics 端点不需要认证。
//
// # 路由
//
//	POST /api/v1/workflows                     创建工作流（JSON 或 YAML）
//	GET  /api/v1/workflows/{id}                查询工作流
//	POST /api/v1/workflows/{id}/test           静态检查
//	POST /api/v1/workflows/{id}/deploy         部署
//	POST /api/v1/workflows/{id}/executions     执行
//	GET  /api/v1/workflows/{id}/executions     执行记录，?limit=N
//
// 请求处理器见子包 handlers。
package api
