// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 NodeFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 NodeFlow 所有 HTTP 端点的请求处理逻辑，
包括工作流校验与估算、运行管理、能力与模板查询、运行事件流、
健康检查以及统一的响应/错误处理。所有 Handler 均遵循标准 net/http 接口，
路由使用 Go 1.22 的方法 + 路径模式注册，路径参数通过 r.PathValue 读取。

# 核心类型

  - WorkflowHandler   — POST /v1/workflows/validate 与 /v1/workflows/estimate
  - RunHandler        — 创建（后台或 ?wait=true 同步）、列表、查询、恢复、取消运行
  - EventsHandler     — GET /v1/runs/{id}/events，基于 websocket 推送运行事件
  - CapabilityHandler — GET /v1/capabilities
  - TemplateHandler   — GET /v1/templates 与 /v1/templates/{id}
  - HealthHandler     — /health、/healthz、/ready、/version
  - Response          — 统一 JSON 响应结构（success + data + error + timestamp + request_id）
  - ErrorInfo         — 结构化错误信息，校验失败时附带 issues 列表

# 错误映射

WriteErr 接受任意 error：*workflow.ValidationError 映射为 422 并带上全部问题，
*types.Error 按错误码映射状态码（TOO_MANY_RUNS → 429，RUN_NOT_FOUND → 404，
DEFINITION_CHANGED → 409 等），其余错误一律按 500 处理且不向客户端暴露细节。
*/
package handlers
