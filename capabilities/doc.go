// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package capabilities 提供 nodeflow 内置的节点能力实现。

# 内置类型

  - constant: 输出参数中给定的常量值
  - text_template: 使用 text/template 基于输入渲染文本，常用于拼装提示词
  - delay: 等待指定时长，期间发送心跳，可被取消
  - remote_generation: 异步生成服务客户端，提交任务后轮询直至完成

# 错误分类

remote_generation 将 HTTP 状态映射为 types.Error：429、5xx 与超时为暂时性错误，
其余 4xx 为终止性错误。提交请求携带 Idempotency-Key，重试不会重复计费。

# 注册

	reg := workflow.NewRegistry(logger)
	if err := capabilities.RegisterBuiltins(reg, capabilities.OptionsFromConfig(cfg.Engine.RemoteGeneration)); err != nil {
		return err
	}
*/
package capabilities
