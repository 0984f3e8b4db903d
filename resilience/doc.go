// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package resilience 为节点调用提供弹性原语。

# 组成

  - RetryPolicy / Retryer — 指数退避重试（初始延迟、最大次数、倍数、抖动）
  - Classify / Transient / Terminal — 暂时性与终止性失败分类
  - CircuitBreaker / CircuitBreakerRegistry — 按节点类型熔断外部服务
  - HeartbeatMonitor — 追踪在途节点的心跳，识别卡住的节点

workflow.Executor 在每个节点调用外层包裹 Retryer，并用 IsTransient
作为 ShouldRetry。每次重试复用同一组已解析的输入。
*/
package resilience
