// Copyright 2026 OBC Chat Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package server 提供 HTTP 服务器生命周期管理：非阻塞启动、
优雅关闭与系统信号监听。

Manager 封装 net/http.Server，统一监听、服务、关闭与错误传播。
API 服务器与 metrics 服务器各持有一个 Manager 实例。写超时默认
为 0：问答接口以 SSE/WebSocket 长流返回，全局写超时会切断正在
输出的回答。

  - Start 在后台 goroutine 中运行服务，主线程不阻塞。
  - Shutdown 在配置的超时内完成请求排空与连接释放。
  - WaitForShutdown 监听 SIGINT/SIGTERM 与异步服务错误，
    触发优雅关闭。
  - Errors 返回异步错误通道，供调用方监控服务异常。
*/
package server
