package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Qdrant payload 字段名。检索时按这些 key 还原文档内容。
const (
	qdrantPayloadID       = "doc_id"
	qdrantPayloadContent  = "content"
	qdrantPayloadMetadata = "metadata"
)

// QdrantConfig 配置 Qdrant 向量存储。
//
// 说明：
//   - Qdrant 的 point ID 必须是 UUID 或整数；这里从 Document.ID 派生稳定 UUID。
//   - 文档内容和元数据存入 payload，检索时还原。
type QdrantConfig struct {
	Host       string        `json:"host"`
	Port       int           `json:"port"`
	BaseURL    string        `json:"base_url,omitempty"`
	APIKey     string        `json:"api_key,omitempty"`
	Collection string        `json:"collection"`
	Timeout    time.Duration `json:"timeout,omitempty"`

	AutoCreateCollection bool   `json:"auto_create_collection,omitempty"`
	Distance             string `json:"distance,omitempty"`    // Cosine（默认）、Dot、Euclid
	VectorSize           int    `json:"vector_size,omitempty"` // 0 时取首批文档的向量维度
	Wait                 *bool  `json:"wait,omitempty"`        // 写操作等待落盘，默认 true
}

// QdrantStore 基于 Qdrant REST API 的 VectorStore 实现。
type QdrantStore struct {
	cfg QdrantConfig

	baseURL string
	client  *http.Client
	logger  *zap.Logger

	// ensureMu 保护 ensured；Drop 会重置它以便重建集合。
	ensureMu sync.Mutex
	ensured  bool
}

// NewQdrantStore 创建 Qdrant 向量存储。
func NewQdrantStore(cfg QdrantConfig, logger *zap.Logger) *QdrantStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Distance == "" {
		cfg.Distance = "Cosine"
	}
	if cfg.Wait == nil {
		wait := true
		cfg.Wait = &wait
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}

	return &QdrantStore{
		cfg:     cfg,
		baseURL: baseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With(zap.String("component", "qdrant_store")),
	}
}

var qdrantNamespace = uuid.MustParse("7c9e2f41-8b5a-4d3c-9e6f-1a2b3c4d5e6f")

// qdrantPointID 从文档 ID 派生稳定 UUID，任意字符串输入都可用。
func qdrantPointID(docID string) string {
	return uuid.NewSHA1(qdrantNamespace, []byte(docID)).String()
}

func (s *QdrantStore) ensureCollection(ctx context.Context, vectorSize int) error {
	if !s.cfg.AutoCreateCollection {
		return nil
	}
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return fmt.Errorf("qdrant collection is required")
	}
	if vectorSize <= 0 {
		return fmt.Errorf("qdrant vector size must be > 0")
	}

	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.ensured {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": s.cfg.Distance,
		},
	}

	endpoint := fmt.Sprintf("%s/collections/%s", s.baseURL, url.PathEscape(s.cfg.Collection))
	reqBody, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 集合已存在时 Qdrant 返回 409。
	if resp.StatusCode == http.StatusConflict {
		s.ensured = true
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant create collection failed: status=%d body=%s", resp.StatusCode, string(raw))
	}

	s.ensured = true
	return nil
}

func (s *QdrantStore) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(s.cfg.APIKey) != "" {
		// Qdrant 约定的认证头。
		req.Header.Set("api-key", s.cfg.APIKey)
	}
}

func (s *QdrantStore) doJSON(ctx context.Context, method, path string, in any, out any) error {
	endpoint := s.baseURL + path

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant request failed: method=%s path=%s status=%d body=%s", method, path, resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// AddDocuments 批量 upsert 文档。
func (s *QdrantStore) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return fmt.Errorf("qdrant collection is required")
	}

	// 校验向量并确定维度。
	vectorSize := s.cfg.VectorSize
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document[%d] has empty id", i)
		}
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("document[%d] has no embedding", i)
		}
		if vectorSize == 0 {
			vectorSize = len(doc.Embedding)
		}
		if len(doc.Embedding) != vectorSize {
			return fmt.Errorf("document[%d] embedding dimension mismatch: got=%d want=%d", i, len(doc.Embedding), vectorSize)
		}
	}

	if err := s.ensureCollection(ctx, vectorSize); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload,omitempty"`
	}

	points := make([]point, 0, len(docs))
	for _, doc := range docs {
		payload := map[string]any{
			qdrantPayloadID:       doc.ID,
			qdrantPayloadContent:  doc.Content,
			qdrantPayloadMetadata: doc.Metadata,
		}
		points = append(points, point{
			ID:      qdrantPointID(doc.ID),
			Vector:  doc.Embedding,
			Payload: payload,
		})
	}

	req := struct {
		Points []point `json:"points"`
	}{
		Points: points,
	}

	path := fmt.Sprintf("/collections/%s/points", url.PathEscape(s.cfg.Collection))
	if s.cfg.Wait == nil || *s.cfg.Wait {
		path += "?wait=true"
	}

	var resp any
	if err := s.doJSON(ctx, http.MethodPut, path, req, &resp); err != nil {
		return err
	}

	s.logger.Debug("qdrant upsert completed", zap.Int("count", len(docs)))
	return nil
}

// Search 按向量检索 top-k 片段。
func (s *QdrantStore) Search(ctx context.Context, vector []float32, topK int) ([]Passage, error) {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	if topK <= 0 {
		return []Passage{}, nil
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is required")
	}

	req := struct {
		Vector      []float32 `json:"vector"`
		Limit       int       `json:"limit"`
		WithPayload bool      `json:"with_payload"`
		WithVector  bool      `json:"with_vector"`
	}{
		Vector:      vector,
		Limit:       topK,
		WithPayload: true,
		WithVector:  false,
	}

	type qdrantResult struct {
		ID      any            `json:"id"`
		Score   float32        `json:"score"`
		Payload map[string]any `json:"payload"`
	}
	var resp struct {
		Result []qdrantResult `json:"result"`
		Status string         `json:"status"`
	}

	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(s.cfg.Collection))
	if err := s.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}

	out := make([]Passage, 0, len(resp.Result))
	for _, r := range resp.Result {
		p := Passage{Score: r.Score}

		if r.Payload != nil {
			if v, ok := r.Payload[qdrantPayloadID].(string); ok {
				p.ID = v
			}
			if v, ok := r.Payload[qdrantPayloadContent].(string); ok {
				p.Content = v
			}
			if m, ok := r.Payload[qdrantPayloadMetadata].(map[string]any); ok {
				p.Metadata = m
			}
		}

		if p.ID == "" {
			// payload 缺 doc_id 时退回 point ID。
			p.ID = fmt.Sprint(r.ID)
		}

		out = append(out, p)
	}

	return out, nil
}

// DeleteDocuments 按文档 ID 删除对应的 point。
func (s *QdrantStore) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return fmt.Errorf("qdrant collection is required")
	}

	points := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		points = append(points, qdrantPointID(id))
	}

	req := struct {
		Points []string `json:"points"`
	}{
		Points: points,
	}

	path := fmt.Sprintf("/collections/%s/points/delete", url.PathEscape(s.cfg.Collection))
	if s.cfg.Wait == nil || *s.cfg.Wait {
		path += "?wait=true"
	}

	var resp any
	return s.doJSON(ctx, http.MethodPost, path, req, &resp)
}

// Count 返回集合内的 point 数量。
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return 0, fmt.Errorf("qdrant collection is required")
	}

	req := struct {
		Exact bool `json:"exact"`
	}{
		Exact: true,
	}

	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}

	path := fmt.Sprintf("/collections/%s/points/count", url.PathEscape(s.cfg.Collection))
	if err := s.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return 0, err
	}

	return resp.Result.Count, nil
}

// CollectionInfo Qdrant 集合的关键信息。
type CollectionInfo struct {
	Exists     bool
	VectorSize int
	Points     int
}

// Info 查询集合是否存在及其向量维度，供入库前做维度一致性检查。
func (s *QdrantStore) Info(ctx context.Context) (CollectionInfo, error) {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return CollectionInfo{}, fmt.Errorf("qdrant collection is required")
	}

	endpoint := fmt.Sprintf("%s/collections/%s", s.baseURL, url.PathEscape(s.cfg.Collection))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CollectionInfo{}, err
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return CollectionInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return CollectionInfo{Exists: false}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return CollectionInfo{}, fmt.Errorf("qdrant collection info failed: status=%d body=%s", resp.StatusCode, string(raw))
	}

	var body struct {
		Result struct {
			PointsCount int `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return CollectionInfo{}, err
	}

	return CollectionInfo{
		Exists:     true,
		VectorSize: body.Result.Config.Params.Vectors.Size,
		Points:     body.Result.PointsCount,
	}, nil
}

// Drop 删除整个集合并允许之后重建。维度不符的旧索引用它重置。
func (s *QdrantStore) Drop(ctx context.Context) error {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return fmt.Errorf("qdrant collection is required")
	}

	path := fmt.Sprintf("/collections/%s", url.PathEscape(s.cfg.Collection))
	if err := s.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return err
	}

	s.ensureMu.Lock()
	s.ensured = false
	s.ensureMu.Unlock()

	s.logger.Info("qdrant collection dropped", zap.String("collection", s.cfg.Collection))
	return nil
}
