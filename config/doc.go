// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package config 提供 nodeflow 的配置加载。
//
// 配置按 默认值 → YAML 文件 → NODEFLOW_* 环境变量 的顺序叠加，
// Validate 一次性报告全部问题。EngineConfig 还负责转换出执行器
// 使用的重试策略与熔断配置。
package config
