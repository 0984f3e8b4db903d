// Package api 定义 nodeflow HTTP API 的请求与响应类型。
//
// # API 概览
//
//   - POST /v1/workflows/validate、/v1/workflows/estimate：离线校验与成本估算
//   - POST /v1/runs：提交运行（?wait=true 同步返回执行报告）
//   - GET /v1/runs、/v1/runs/{id}：运行记录与检查点
//   - POST /v1/runs/{id}/resume、/v1/runs/{id}/cancel
//   - GET /v1/runs/{id}/events：运行事件 websocket
//   - GET /v1/capabilities、/v1/templates
//   - GET /health、/ready、/version
//
// # 认证
//
// 启用 auth 后，修改类路由需要 Bearer JWT：
//
//	Authorization: Bearer <token>
//
// 所有响应使用统一信封 {success, data, error, timestamp, request_id}。
package api
