// Copyright 2026 OBC Chat Authors. All rights reserved.
// Use of this source code is governed by the project license.

// Package cache 提供 Redis 嵌入向量缓存。
//
// 嵌入调用按 token 计费且延迟可观，而检索侧的输入高度重复：
// 查询扩展每轮都会重新嵌入原始问题，常见问题在会话之间反复出现。
// EmbeddingCache 以 模型+文本哈希 为键缓存向量，命中即跳过嵌入调用。
//
// 缓存只做加速，不做正确性保证：Redis 不可用时调用方应当降级为
// 直接嵌入，见 rag.CachedEmbedder。
package cache
