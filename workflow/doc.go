// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供节点式工作流的定义、校验与执行引擎。

# 概述

工作流是一个由类型化节点组成的 DAG：节点声明带类型的输入/输出槽位，
连接把上游输出接到下游输入，输入绑定把调用方参数送入节点，输出声明
把节点结果暴露为工作流结果。引擎按拓扑序逐个执行节点，每完成一个
节点就写入 Checkpoint，进程崩溃后可按 run id 恢复，已完成的节点不会
再次调用。

# 核心类型

  - Definition / NodeDefinition — 工作流与节点定义，支持 JSON / YAML
  - Registry                    — 节点类型注册表（Factory + Metadata）
  - NodeCapability              — 节点能力接口 Execute / EstimateCost / ValidateStaticConfig
  - Graph                       — 派生的依赖图，Kahn 拓扑序 + DFS 环路径
  - Validator                   — 结构、节点、连接、绑定四轮校验，一次报告全部问题
  - Executor                    — 执行与恢复，重试、熔断、超时、幂等缓存
  - CheckpointStore             — 运行记录与节点 Checkpoint 持久化接口
  - CostEstimator               — 不执行节点的成本预估

# 执行语义

  - 输入优先级：连接 > 输入绑定 > 槽位默认值
  - 节点失败即停止（fail-fast），暂时性错误按 RetryPolicy 重试
  - Checkpoint 写入成功后才推进到下一个节点
  - 失败尝试的成本不计入总成本
*/
package workflow
