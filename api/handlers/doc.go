// Copyright 2026 OBC Chat Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package handlers 实现 OBC Chat HTTP API 的请求处理器。

# 概述

handlers 包覆盖全部 HTTP 端点的处理逻辑：口令登录、单轮问答流
（SSE 与 WebSocket）、会话管理、健康检查，以及统一的响应与错误
处理。所有 Handler 都是标准 net/http 处理函数，路由参数走
Go 1.22 的 ServeMux 模式匹配。

# 核心类型

  - AuthHandler      — 口令登录，签发 HS256 JWT
  - ChatHandler      — 单轮问答，SSE 流式输出与 WebSocket 帧流
  - SessionHandler   — 会话创建、查询与删除
  - HealthHandler    — 健康与就绪探针（/healthz、/readyz、/version）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck      — 可插拔健康检查接口（Provider、向量存储、Redis 等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - llm.ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - SSE 流式输出：data: 增量帧、收尾用量帧、event: error、data: [DONE]
  - WebSocket 帧流：同一 TurnEvent 结构，写操作互斥保护
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
