// Copyright (c) Alfred Authors.
// Licensed under the MIT License.

/*
Package types 提供 Alfred 框架的全局共享类型定义。

# 概述

types 是框架最底层的公共包，不依赖任何内部包，为 llm、api 等上层模块
提供统一的类型契约。跨包共享的接口、结构体、枚举和错误码定义于此，
以避免循环依赖。

# 核心接口与类型

  - Tokenizer             — 框架级 Token 计数接口（Message / ToolSchema 感知）
  - TokenUsage            — Token 用量统计
  - Message               — 对话消息（Role、Content、ToolCalls、Images）
  - ToolCall              — 模型发起的工具调用
  - ToolSchema            — 工具定义（name + description + JSON Schema parameters）
  - ToolResult            — 工具执行结果
  - Error / ErrorCode     — 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记
  - Priority / PrivacyMode — 请求级优先级与隐私模式提示

# 主要能力

  - Context 传播：WithTraceID / WithTenantID / WithUserID / WithRoles /
    WithProjectID / WithPriority / WithPrivacyMode
  - 错误工具链：NewError + WithCause / WithHTTPStatus / WithRetryable /
    WithProvider，IsRetryable / GetErrorCode / HTTPStatusForCode / IsRetryableKind
  - Token 估算：EstimateTokenizer（中英文字符分别计算）
*/
package types
