// Copyright (c) MailFlow Authors.
// Licensed under the MIT License.

// Package tlsutil 提供 TLS 加固配置（TLS 1.2+，仅 AEAD 密码套件），
// 供 mailflow serve 的 HTTPS 监听和 webhook/notification 节点的出站 HTTP 客户端共用。
package tlsutil
