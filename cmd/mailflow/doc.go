// Copyright (c) MailFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 MailFlow 命令行与服务端程序入口。

# 概述

cmd/mailflow 是 MailFlow 工作流引擎的可执行入口：本地校验与执行 YAML
工作流定义、启动 HTTP API 服务、执行数据库迁移以及查询版本信息。
程序从 YAML 配置文件与 MAILFLOW_ 前缀环境变量加载配置，使用 zap
结构化日志、Prometheus 指标与 OpenTelemetry 追踪。

# 子命令

  - run      ：解析定义文件，创建工作流并执行一次，结果以 JSON 输出
  - validate ：仅解析并校验定义文件（结构、变量、图、表达式）
  - serve    ：启动 HTTP API（/api/v1/workflows、/health、/ready、/metrics）
  - migrate  ：golang-migrate 数据库迁移（up/down/steps/force/version/status）
  - version  ：打印构建信息

# 中间件链

Recovery → RequestID → SecurityHeaders → RequestLogger → OTelTracing →
RateLimiter（基于 IP，golang.org/x/time/rate）→ APIKeyAuth（X-API-Key）。

# 构建注入

Version、BuildTime、GitCommit 通过 -ldflags "-X main.Version=..." 设置。
*/
package main
