package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// VectorStore 向量存储统一接口。
type VectorStore interface {
	// AddDocuments 批量写入带向量的文档。
	AddDocuments(ctx context.Context, docs []Document) error

	// Search 按向量检索 top-k 片段，按相关度降序返回。
	Search(ctx context.Context, vector []float32, topK int) ([]Passage, error)

	// DeleteDocuments 按 ID 删除文档。
	DeleteDocuments(ctx context.Context, ids []string) error

	// Count 返回文档数量。
	Count(ctx context.Context) (int, error)
}

// Clearable 可选接口：支持整体清空的 VectorStore 实现。
// 使用类型断言判断支持：
//
//	if c, ok := store.(Clearable); ok { c.ClearAll(ctx) }
type Clearable interface {
	ClearAll(ctx context.Context) error
}

// ====== 内存向量存储（用于测试和小规模应用）======

// InMemoryVectorStore 内存向量存储，余弦相似度排序。
type InMemoryVectorStore struct {
	documents []Document
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewInMemoryVectorStore 创建内存向量存储。
func NewInMemoryVectorStore(logger *zap.Logger) *InMemoryVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorStore{
		documents: make([]Document, 0),
		logger:    logger.With(zap.String("component", "memory_store")),
	}
}

// AddDocuments 添加文档。
func (s *InMemoryVectorStore) AddDocuments(ctx context.Context, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("document %s has no embedding", doc.ID)
		}
		s.documents = append(s.documents, doc)
	}

	s.logger.Debug("documents added to vector store",
		zap.Int("count", len(docs)),
		zap.Int("total", len(s.documents)))

	return nil
}

// Search 检索相似文档。
func (s *InMemoryVectorStore) Search(ctx context.Context, vector []float32, topK int) ([]Passage, error) {
	if topK <= 0 {
		return []Passage{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.documents) == 0 {
		return []Passage{}, nil
	}

	passages := make([]Passage, 0, len(s.documents))
	for _, doc := range s.documents {
		if len(doc.Embedding) == 0 {
			continue
		}
		passages = append(passages, Passage{
			ID:       doc.ID,
			Content:  doc.Content,
			Score:    cosineSimilarity(vector, doc.Embedding),
			Metadata: doc.Metadata,
		})
	}

	sort.SliceStable(passages, func(i, j int) bool {
		return passages[i].Score > passages[j].Score
	})

	if topK > len(passages) {
		topK = len(passages)
	}
	return passages[:topK], nil
}

// DeleteDocuments 按 ID 删除文档。
func (s *InMemoryVectorStore) DeleteDocuments(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idSet := make(map[string]bool)
	for _, id := range ids {
		idSet[id] = true
	}

	filtered := make([]Document, 0, len(s.documents))
	for _, doc := range s.documents {
		if !idSet[doc.ID] {
			filtered = append(filtered, doc)
		}
	}

	deleted := len(s.documents) - len(filtered)
	s.documents = filtered

	s.logger.Debug("documents deleted from vector store",
		zap.Int("deleted", deleted),
		zap.Int("remaining", len(s.documents)))

	return nil
}

// Count 返回文档数量。
func (s *InMemoryVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents), nil
}

// ClearAll 清空全部文档。
func (s *InMemoryVectorStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents = make([]Document, 0)
	s.logger.Debug("all documents cleared from vector store")
	return nil
}

// cosineSimilarity 计算余弦相似度，维度不符或零向量返回 0。
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
