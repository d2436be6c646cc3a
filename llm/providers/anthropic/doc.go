// Copyright 2026 Alfred Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 claude 提供 Anthropic Claude 系列模型的 Provider 适配实现。
Claude API 与 OpenAI 格式有显著差异，本包负责将 Alfred 统一请求
映射到 Anthropic Messages API（/v1/messages），并处理认证、消息格式、
流式响应及工具调用等方面的协议转换。

# 核心结构体

  - ClaudeProvider — 独立实现 llm.Provider 接口（未嵌入 openaicompat），
    使用 tlsutil 提供的安全 HTTP Client

# 协议差异

  - 认证使用 x-api-key 请求头（非 Bearer Token）
  - system 消息从 messages 数组中提取，单独传递到 system 字段
  - 消息 content 为数组形式，支持 text / tool_use / tool_result 混合
  - Tool 结果需包装为 user 角色的 tool_result 类型
  - 流式 SSE 事件结构独立（message_start / content_block_delta 等）

# 支持能力

  - Chat Completion（/v1/messages，同步）
  - 流式输出（SSE；工具调用参数按 input_json_delta 片段逐块下发，不做累积）
  - 原生 Function Calling（tool_use / tool_result）
  - 模型列表查询（/v1/models）
  - 健康检查（HealthCheck）
  - CredentialOverride 运行时凭证覆盖
  - 空工具列表时不发送 tools 字段

请求中的 ReasoningMode 与 ThoughtSignatures 不会发送给 Anthropic。
*/
package claude
