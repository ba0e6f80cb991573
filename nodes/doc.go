// Copyright (c) MailFlow Authors.
// Licensed under the MIT License.

/*
包 nodes 提供邮件自动化的内置节点处理器。

Register 把以下节点类型注册到 workflow.HandlerRegistry：

  - email_parser  ：解析 RFC 5322 原始邮件为结构化字段
  - classifier    ：基于关键词规则的邮件分类
  - data_transform：按点路径映射重组数据
  - notification  ：渲染模板并通过日志或 webhook 投递
  - webhook       ：以 JSON 调用外部 HTTP 端点

处理器默认读取运行输入；设置 parameters.source 时读取指定上游节点的结果。
出站 HTTP 使用 tlsutil 的加固客户端。
*/
package nodes
