// Copyright 2026 OBC Chat Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package llm 定义与大模型服务交互的统一类型与接口。

# 概述

llm 包是对外部补全/嵌入服务的最小抽象层：

  - Provider: 聊天补全接口（同步 Completion 与流式 Stream）
  - EmbeddingProvider: 文本嵌入接口（固定维度向量）
  - Error / ErrorCode: 统一错误码，对齐 HTTP 状态与可重试性
  - StreamChunk: 流式增量，最终块可携带 usage 统计

具体的 HTTP 实现见 llm/openai 子包；token 计数见 llm/tokenizer 子包。
本包不含任何重试逻辑，失败策略由调用方决定。
*/
package llm
