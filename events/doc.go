// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package events 把执行器产生的运行事件按 run 分发给订阅者。

Hub 作为执行器级 EventEmitter 挂到 workflow.Executor 上：

	hub := events.NewHub(events.WithLogger(logger))
	exec := workflow.NewExecutor(reg, workflow.WithExecutorEventEmitter(hub.Emitter()))

	sub := hub.Subscribe(runID)
	defer sub.Cancel()
	for ev := range sub.C {
		// 转发给 websocket 客户端
	}

每个订阅者有独立的有界缓冲，读取过慢时丢弃最旧的事件，Publish 从不阻塞
运行所在的 goroutine。收到 run_completed、run_failed 或 run_cancelled 后
该 run 的所有订阅都会关闭。
*/
package events
