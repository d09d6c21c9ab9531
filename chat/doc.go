// Copyright 2026 OBC Chat Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package chat 实现对话服务层：会话状态管理、单轮问答的流式编排
和对话归档。

每轮问答经 rag.Pipeline 准备上下文后发起流式补全，增量文本、
最终用量与错误以 Event 通道交付调用方。会话只在回合成功后追加
裸查询与完整回答，塞满上下文的系统提示从不落入历史。

# 核心接口/类型

  - Session — 显式会话状态（消息、累计用量、乐观锁版本）
  - SessionStore — 会话存储接口，内存与 Redis 两种实现
  - Service — 对话服务，编排 检索准备 → 流式补全 → 持久化
  - Event — 流式回合事件（增量文本 / 最终用量 / 错误）
  - UsageTally — 扩展、上下文、补全各环节的 token 用量与成本
  - Archive — gorm 对话归档，回合完成后异步可选写入

# 主要能力

  - 流式回合处理：补全失败显式失败整轮，不静默吞掉
  - 会话乐观锁：版本不一致返回 ErrVersionConflict
  - Redis 热存储：Lua 脚本原子比较版本并续期 TTL
  - 用量核算：扩展 + 补全输入输出分项累计，按配置费率折算成本
  - 对话归档：conversations/turns 两表，含每轮用量列
*/
package chat
