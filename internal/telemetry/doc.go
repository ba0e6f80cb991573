// Copyright (c) MailFlow Authors.
// Licensed under the MIT License.

/*
包 telemetry 负责 OpenTelemetry SDK 的初始化与关闭。

启用时创建 OTLP gRPC 导出器，注册全局 TracerProvider 与 MeterProvider，
工作流引擎通过 Providers.Tracer 获取追踪器；禁用时不连接任何外部服务，
Tracer 返回全局的 noop 实现。
*/
package telemetry
