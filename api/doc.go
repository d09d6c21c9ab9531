// Copyright 2026 OBC Chat Authors. All rights reserved.
// Use of this source code is governed by the project license.

// Package api 定义 OBC Chat HTTP/WebSocket 接口的线上数据结构（DTO）。
//
// # API Overview
//
// OBC Chat 对外提供一套小而完整的问答接口：
//   - 口令登录换取 Bearer JWT（POST /v1/auth/login）
//   - 单轮问答流（POST /v1/chat，SSE；GET /v1/chat/ws，WebSocket）
//   - 会话管理（POST /v1/sessions、GET/DELETE /v1/sessions/{id}）
//   - 健康与就绪探针（/healthz、/readyz）、版本信息（/version）
//
// # Streaming protocol
//
// 问答流由 TurnEvent 帧组成，三种载荷互斥：
//   - {"delta": "..."}            增量回答文本
//   - {"usage": {...}, "session_id": "..."}  成功回合的收尾事件
//   - {"error": {...}}            失败回合的收尾事件
//
// SSE 以 `data: [DONE]` 结束；错误帧以 `event: error` 发送。
// WebSocket 复用同一帧结构，收到 usage 或 error 帧即表示回合结束，
// 可在同一连接上发送下一条 TurnRequest。
//
// # Authentication
//
// 启用认证后，/v1 下的对话与会话端点要求请求头：
//
//	Authorization: Bearer <token>
//
// 令牌由 POST /v1/auth/login 签发（HS256，默认 7 天有效期）。
//
// # Base URL
//
// 默认监听地址：
//
//	http://localhost:8080
//
// Prometheus 指标在独立端口（默认 9091）的 /metrics 暴露。
package api
