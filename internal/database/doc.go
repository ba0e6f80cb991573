// Copyright (c) MailFlow Authors.
// Licensed under the MIT License.

/*
包 database 负责打开 MailFlow 的关系型存储（PostgreSQL、MySQL、SQLite），
并通过 PoolManager 管理 GORM 连接池、健康检查与事务重试。

# 核心类型

  - Open：按 config.DatabaseConfig 选择方言并创建 PoolManager。
  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB、Ping、Stats、Close。
  - WithStatsHook：定时探活成功后回调 sql.DBStats，persistence 用它导出连接池指标。
  - WithTransaction / WithTransactionRetry：事务执行，可重试错误按
    cenkalti/backoff 指数退避重试。
*/
package database
