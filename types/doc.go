// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 nodeflow 引擎的全局共享错误类型。

# 概述

types 是最底层的公共包，不依赖任何内部包。workflow、resilience、
checkpoint、api 等上层模块通过统一的 ErrorCode 与 *Error 传递错误语义，
API 层再据此映射 HTTP 状态码。

# 核心类型

  - ErrorCode — 错误码（DUPLICATE_TYPE、UNKNOWN_TYPE、VALIDATION_FAILED 等）
  - Error     — 结构化错误（Code、Message、HTTPStatus、Retryable、Cause）

*Error 实现了 Is，按错误码匹配，因此 errors.Is(err, types.ErrUnknownType)
对任意包装层级都成立。
*/
package types
