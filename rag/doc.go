// Copyright 2026 OBC Chat Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package rag 实现针对安大略省建筑规范（Ontario Building Code）的检索增强生成管线。

管线覆盖从用户问题到模型提示词的全部阶段：查询扩展、多查询向量检索、
按内容去重与 token 预算装配、固定模板的系统提示词构建，以及供离线
入库使用的 token 窗口分块。

# 核心接口/类型

  - Tokenizer — RAG 专用分词器接口（CountTokens / Encode / Decode）
  - VectorStore — 向量存储统一接口（AddDocuments / Search / Delete / Count）
  - QueryExpander — 查询扩展器，返回带类型化失败原因的 Expansion
  - Retriever — 多查询检索器，逐查询检索并保持顺序
  - ContextAssembler — 上下文装配器，去重 + token 预算截断
  - PromptBuilder — 系统提示词构建器，固定模板注入上下文
  - Pipeline — 将以上阶段串联为单次调用
  - CachedEmbedder — 嵌入提供方的 Redis 缓存装饰器

# 主要能力

  - 查询扩展：LLM 生成 n 条改写查询，严格 JSON 校验，失败退化为原始查询
  - 多查询检索：每条查询一次向量检索，整体失败语义，结果与查询同序
  - 上下文装配：跨查询按内容精确去重，hard_stop / best_fit 两种预算策略
  - 向量存储后端：InMemory（余弦相似度）/ Qdrant（REST API）
  - 分块：token 窗口分块（固定窗口 + 重叠），供语料入库使用
  - 工厂函数：NewPipelineFromConfig 从全局配置一键创建完整管线
*/
package rag
