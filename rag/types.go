package rag

// Document 入库文档（带向量）。
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"embedding,omitempty"`
}

// Passage 检索返回的文档片段。
type Passage struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CandidateSet 单条查询的检索候选，保持检索返回的相关度顺序。
type CandidateSet struct {
	Query    string    `json:"query"`
	Passages []Passage `json:"passages"`
}
