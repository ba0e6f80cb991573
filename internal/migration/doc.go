// Copyright (c) MailFlow Authors.
// Licensed under the MIT License.

/*
包 migration 管理 MailFlow 的数据库 Schema（workflows 与
workflow_executions 两张表），支持 PostgreSQL、MySQL 与 SQLite，
基于 golang-migrate 实现。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌，DefaultMigrator 封装
golang-migrate 实例，提供正向迁移、回滚、按步执行与强制版本号。

# 核心类型

  - Migrator / DefaultMigrator：迁移器接口及默认实现。
  - Config：数据库类型、连接 URL、迁移表名、锁超时与 zap 日志。
  - CLI：面向终端的格式化输出，供 mailflow migrate 子命令使用，
    支持 up、down、steps、force、version、status 与 info。
  - NewMigratorFromConfig：从 config.DatabaseConfig 构建迁移器。

ctx 取消时 DefaultMigrator 通过 GracefulStop 在当前迁移完成后停止。
*/
package migration
