// Copyright (c) MailFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供邮件自动化工作流的编排与执行引擎。

# 概述

一个自动化被建模为由类型化节点组成的有向无环图。Engine 负责校验定义、
创建执行上下文、按编排策略遍历图、在失败时执行恢复策略，并把最终的
执行快照交给 Store 持久化。

# 核心类型

  - Workflow / Definition / Node / Connection：图模型
  - ExecutionContext ：单次运行的状态（路径日志、结果、错误、指标），并发安全
  - HandlerRegistry  ：NodeType → NodeHandler 映射，内置 trigger/noop/condition/delay
  - Dispatcher       ：单节点执行（熔断、指标、Span、日志）
  - Orchestrator     ：Sequential / Parallel / Conditional / Hybrid 四种策略
  - RecoveryEngine   ：retry（指数退避）/ fallback / compensate / skip
  - Engine           ：CreateWorkflow / ExecuteWorkflow / TestWorkflow / DeployWorkflow

# 失败语义

节点失败总会记录到执行上下文。continue 策略吸收失败继续遍历；stop 策略
让编排抛出错误，进而触发恢复。只有 retry 会以 RECOVERY_EXHAUSTED 失败，
fallback/compensate/skip 的子节点失败只记录日志，不会向上抛出。

# 环检测

WouldCreateCycle 用于编辑期逐条连线检查；DetectCycle 在 CreateWorkflow
与 ExecuteWorkflow 时对整图复检。即便绕过检查，单次遍历中每个节点也
最多执行一次。
*/
package workflow
