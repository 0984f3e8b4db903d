// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 database 管理 gorm 连接池，供关系型检查点存储使用。

# 概述

checkpoint 的 database 驱动打开 gorm 连接后交给 PoolManager 接管：
按配置设置连接池上限与生命周期，Run 在后台定时探活，并把打开/空闲
连接数上报给 StatsRecorder（metrics.Collector）。

# 核心类型

  - PoolManager：持有 gorm.DB 与底层 sql.DB，提供 DB/Ping/Stats/GetStats/Run/Close。
  - PoolConfig：连接池参数；FromConfig 从全局 database 配置构建，Validate 校验上下限。
  - PoolStats：便于序列化的连接池统计。
  - StatsRecorder：连接数指标接口。
*/
package database
