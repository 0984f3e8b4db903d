// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集。

# 核心类型

  - Collector：实现 workflow.MetricsRecorder，按业务域分组持有
    Counter、Histogram、Gauge 向量指标。NewCollector 注册到默认
    registry，NewCollectorWith 可指定独立 registry。

# 指标

  - HTTP：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 运行：按 workflow_id/status 的结束计数、耗时、成本，在途运行数与
    因并发上限被拒绝的次数。
  - 节点：按 node_type 的执行计数、耗时、尝试次数、成本、重试、心跳、
    检查点恢复与心跳超时（node_stalls_total）。
  - 缓存：幂等结果缓存的命中与未命中。
  - 数据库：连接池打开/空闲连接数。
*/
package metrics
