// Copyright (c) MailFlow Authors.
// Licensed under the MIT License.

/*
包 server 管理 mailflow serve 的 HTTP/HTTPS 监听生命周期。

Manager 封装 net/http.Server：Start 非阻塞地监听并服务，配置了
TLSConfig 时以 TLS 监听；Wait 阻塞到上下文取消或服务异常退出；
Shutdown 在 ShutdownTimeout 内排空请求。信号处理由调用方通过
signal.NotifyContext 完成。
*/
package server
