// Copyright 2026 OBC Chat Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、
问答轮次、会话与数据库四大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
通过独立的 metrics 监听端口以 promhttp 暴露。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。
  - TurnStats：单轮问答的指标样本，由 HTTP 层在轮次结束后上报。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - 轮次指标：问答总数、轮次耗时、Token 用量（扩写/上下文/
    prompt/completion）、调用成本，按 model 分组。
  - 会话指标：会话创建计数、活跃会话 Gauge、WebSocket 连接 Gauge、
    限流拒绝计数。
  - 数据库指标：归档库活跃/空闲连接数 Gauge。
*/
package metrics
