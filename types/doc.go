// Copyright (c) MailFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 MailFlow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、persistence、
cmd 等上层模块提供统一的错误契约，以避免循环依赖。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含 WorkflowID、NodeID、Details、Retryable 标记

# 主要能力

  - 错误构造：NewValidationError / NewNotFoundError / NewNodeExecutionError /
    NewRecoveryExhaustedError
  - 错误工具链：AsError / IsCode / GetErrorCode / IsRetryable
*/
package types
