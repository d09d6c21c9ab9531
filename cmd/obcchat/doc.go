// Copyright 2026 OBC Chat Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package main 提供 OBC Chat 服务端程序入口。

# 概述

cmd/obcchat 是安大略省建筑规范问答服务的可执行入口，提供 HTTP/WebSocket
问答服务、语料摄取、归档数据库迁移、健康检查和版本查询等子命令。
程序支持 YAML 配置文件加载、结构化日志（zap）、Prometheus 指标采集、
OpenTelemetry 链路追踪以及配置热重载。

# 核心类型

  - Server           — 主服务器，管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware        — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter    — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、ingest（抓取并入库语料）、
    migrate（归档数据库迁移）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    Metrics、OTelTracing、CORS、RateLimiter（基于 IP）、JWTAuth（Bearer）
  - 配置热重载：ReloadManager 监听文件变更，日志级别即时生效
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 停止热更新 → 关闭 HTTP → 关闭 Metrics → Wait
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
