// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 NodeFlow 服务端与命令行入口。

# 概述

cmd/nodeflow 基于 cobra 提供以下子命令：

  - serve     启动 HTTP API、Prometheus 指标端口与模板目录监听
  - validate  离线校验工作流定义，输出 ValidationResult
  - estimate  离线估算成本，不调用任何能力
  - run       在本进程执行工作流，检查点写入配置的存储
  - resume    从检查点恢复运行，已完成节点不会重复执行
  - migrate   管理 database 检查点存储的表结构
  - health / version

# 组件装配

serve 按配置装配：zap 日志、OpenTelemetry、metrics.Collector、
检查点存储（memory/file/redis/database/badger/mongo）、幂等缓存、
熔断器、心跳监控、事件 Hub、runner 准入控制与模板目录。
通过 --config 启动时还会轮询配置文件，log.level 的修改立即生效。
所有后台循环在同一个 errgroup 中运行，收到 SIGINT/SIGTERM 后
停止接收新运行，等待后台运行结束，超时后取消剩余运行。

# 中间件

Recovery、RequestID、SecurityHeaders、OTelTracing、MetricsMiddleware、
RequestLogger、CORS、RateLimiter（基于 IP），启用鉴权时追加 JWTAuth，
只校验写操作。
*/
package main
