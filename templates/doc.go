// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 templates 维护从 engine.definitions_dir 加载的工作流模板目录。

Catalog 逐个文件加载 *.json / *.yaml / *.yml 定义，并用注册表的
Validator 校验。单个文件解析失败或校验失败不会影响其他模板；
失败原因保留在 Entry 中，通过 /v1/templates 暴露。

Watcher 以轮询方式检测目录变化（新增、修改、删除），去抖后调用
Catalog.Reload，使模板更新无需重启服务。
*/
package templates
