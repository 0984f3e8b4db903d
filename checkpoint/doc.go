// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package checkpoint 提供 workflow.CheckpointStore 的多后端持久化实现。

# 概述

执行器在每个节点成功后写入 NodeCheckpoint，并在运行开始与结束时写入
RunRecord。本包把这两类记录落到不同后端，使进程崩溃后可以由新进程按
run id 恢复运行。

# 后端

  - memory: 进程内存，仅用于测试与一次性运行
  - file:   每个 run 一个目录，原子写（临时文件 + rename）
  - redis:  run 记录 + 节点 Hash + 按 workflow 的 ZSet 索引
  - gorm:   workflow_runs / node_checkpoints 两张表（postgres、mysql、sqlite）
  - badger: 嵌入式 KV，按 run 前缀迭代
  - mongo:  runs / node_checkpoints 两个集合，upsert 写入

所有后端统一使用 internal/xjson 编码负载，数值在各后端之间保持一致。
通过 New(ctx, Config, logger) 按 Config.Type 选择后端。
*/
package checkpoint
