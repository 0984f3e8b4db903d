// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 cache 管理进程内共享的 Redis 连接。

# 概述

Manager 负责连接生命周期：建立连接并 Ping 验证、按间隔健康检查、
关闭时释放连接池。检查点存储（checkpoint.NewRedisStore）与幂等缓存
（idempotency.NewRedisManager）都通过 Client() 复用同一个客户端，
避免为每个组件各开一个连接池。

# 核心类型

  - Manager：持有 go-redis 客户端，提供 Client/Ping/Run/Close/GetStats。
  - Config：地址、密码、连接池与 TLS 参数，可由 FromConfig 从全局配置构建。
  - Stats：键数量与连接池统计。
  - HitRecorder：缓存命中/未命中计数接口，由 metrics.Collector 实现。

# 命中统计

Instrument 包装 idempotency.Manager，每次 Get 按结果记录命中或未命中：

	idem := cache.Instrument(idempotency.NewRedisManager(m.Client(), "", logger), "idempotency", collector)
*/
package cache
