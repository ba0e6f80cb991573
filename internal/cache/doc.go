// Copyright (c) MailFlow Authors.
// Licensed under the MIT License.

/*
包 cache 提供基于 Redis 的 JSON 缓存，用于缓存工作流定义，
减少执行路径上对持久化存储的读取。

# 核心类型

  - Manager：在共享的 go-redis 客户端上提供 GetJSON、SetJSON、Delete，
    键统一加前缀，未命中返回 ErrCacheMiss，并统计本进程命中率。
  - Config：键前缀与默认过期时间。
*/
package cache
