// Copyright 2026 OBC Chat Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package corpus 负责语料的获取、缓存与摄取，将安大略省建筑规范全文
转化为可检索的向量集合。

获取层提供 Firecrawl API 客户端（返回页面 Markdown）与内置 HTML
抽取器（直接抓取页面并剥离标签）两种实现；磁盘缓存避免重复抓取；
摄取器串联 获取 → 分块 → 批量嵌入 → 向量库写入 的完整流程。

# 核心接口/类型

  - Fetcher — 源文档获取接口，FirecrawlClient 与 HTMLFetcher 均实现
  - ContentCache — 磁盘内容缓存，按元数据时间戳判断新鲜度
  - Source — 缓存感知的内容入口，组合 Fetcher 与 ContentCache
  - Ingestor — 摄取器，幂等地将语料写入向量库
  - IngestReport — 单次摄取的统计结果

# 主要能力

  - Firecrawl 抓取：POST /v1/scrape 获取页面 Markdown，失败自动重试
  - HTML 回退：未配置 API Key 时直接抓取页面并抽取正文文本
  - 内容缓存：默认 30 天过期，强制刷新时绕过
  - 幂等摄取：集合非空时跳过，向量维度不匹配时重建集合
  - 批量嵌入：每批最多 100 段文本，chunk_N 单调递增 ID
*/
package corpus
