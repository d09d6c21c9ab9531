package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// InMemorySessionStore 进程内会话存储，用于开发与测试。
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *zap.Logger
}

// NewInMemorySessionStore 创建内存会话存储。
func NewInMemorySessionStore(logger *zap.Logger) *InMemorySessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemorySessionStore{
		sessions: make(map[string]*Session),
		logger:   logger.With(zap.String("component", "memory_session_store")),
	}
}

// Get 返回会话的深拷贝，调用方的修改不影响存储。
func (s *InMemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// Save 以乐观锁写入会话。
func (s *InMemorySessionStore) Save(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.sessions[session.ID]; ok && current.Version != session.Version-1 {
		s.logger.Debug("session version conflict",
			zap.String("session_id", session.ID),
			zap.Int("stored", current.Version),
			zap.Int("expected", session.Version-1))
		return ErrVersionConflict
	}

	session.UpdatedAt = time.Now().UTC()
	s.sessions[session.ID] = session.Clone()
	return nil
}

// Delete 删除会话。
func (s *InMemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// Count 返回当前会话数。
func (s *InMemorySessionStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}
