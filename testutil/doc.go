// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 nodeflow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 日志: ObservedLogger 返回可断言的 zap 日志
  - 断言工具: AssertJSONEqual / AssertIssueCodes / AssertEventuallyTrue
  - 数据工具: MustJSON / MustParseJSON / EventTypes

# 子包

  - testutil/mocks: MockCapability，可编程的节点能力，支持失败注入、
    延迟、心跳与调用记录
  - testutil/fixtures: 预置工作流定义（ImageToVideo、Chain 等）

# 使用示例

	reg := workflow.NewRegistry(nil)
	node := mocks.NewMockCapability().WithCost(1.5)
	node.Register(reg, "image_gen")
	report, err := workflow.NewExecutor(reg).Execute(ctx, fixtures.ImageToVideo(), inputs)
*/
package testutil
