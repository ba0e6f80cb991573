// Copyright (c) MailFlow Authors.
// Licensed under the MIT License.

// Package config 提供 MailFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（MAILFLOW_ 前缀）的顺序合并，
// 覆盖引擎默认策略、存储后端、数据库、Redis、MongoDB、日志、遥测与指标。
package config
