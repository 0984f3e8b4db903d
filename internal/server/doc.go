// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理。

# 核心类型

  - Manager：封装 net/http.Server，持有监听器与异步错误通道。
    nodeflow serve 为 API 与 /metrics 各创建一个 Manager。
  - Config：监听地址、读写超时、空闲超时、最大请求头、优雅关闭超时，
    以及可选的证书与私钥路径。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务；配置了证书时
    使用 tlsutil.DefaultTLSConfig 以 HTTPS 启动。
  - 阻塞运行：Run 适配 errgroup，ctx 结束时优雅关闭，服务异常时返回错误。
  - 优雅关闭：Shutdown 在配置的超时内排空请求，可重复调用。
  - 状态查询：IsRunning、Addr 与 ListenAddr（实际监听地址，便于 :0 端口）。
*/
package server
