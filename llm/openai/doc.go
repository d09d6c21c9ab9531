// Copyright 2026 OBC Chat Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package openai 实现基于 OpenAI 兼容 HTTP API 的补全与嵌入客户端。

Client 同时满足 llm.Provider 与 llm.EmbeddingProvider：

  - Completion / Stream: POST {base}/v1/chat/completions，流式走 SSE，
    请求 stream_options.include_usage 以便最后一个数据块携带 usage
  - Embed: POST {base}/v1/embeddings，一次调用嵌入整批文本
  - HealthCheck: GET {base}/v1/models

错误统一映射为 llm.Error（状态码、可重试性、provider 标识）。
客户端不做重试；上层按调用场景各自决定。
*/
package openai
