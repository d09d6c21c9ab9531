package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStoreConfig 配置 Redis 会话存储。
type RedisStoreConfig struct {
	KeyPrefix string        `json:"key_prefix"` // 键前缀
	TTL       time.Duration `json:"ttl"`        // 会话过期时间，每次写入续期
}

// DefaultRedisStoreConfig 返回默认键前缀与 TTL。
func DefaultRedisStoreConfig() RedisStoreConfig {
	return RedisStoreConfig{
		KeyPrefix: "obcchat:session:",
		TTL:       24 * time.Hour,
	}
}

// saveSessionScript 原子比较版本并写入。已有会话的 version 与期望
// 不一致时返回 -1，新会话直接写入。
var saveSessionScript = redis.NewScript(`
local key = KEYS[1]
local data = ARGV[1]
local expected = tonumber(ARGV[2])

local current = redis.call('GET', key)
if current then
	local session = cjson.decode(current)
	if session.version ~= expected then
		return -1
	end
end

redis.call('SET', key, data, 'EX', ARGV[3])
return 1
`)

// RedisSessionStore Redis 会话存储（热存储），写入续期 TTL。
type RedisSessionStore struct {
	rdb    *redis.Client
	config RedisStoreConfig
	logger *zap.Logger
}

// NewRedisSessionStore 创建 Redis 会话存储。
func NewRedisSessionStore(rdb *redis.Client, config RedisStoreConfig, logger *zap.Logger) *RedisSessionStore {
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultRedisStoreConfig().KeyPrefix
	}
	if config.TTL <= 0 {
		config.TTL = DefaultRedisStoreConfig().TTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSessionStore{
		rdb:    rdb,
		config: config,
		logger: logger.With(zap.String("component", "redis_session_store")),
	}
}

func (s *RedisSessionStore) key(id string) string {
	return s.config.KeyPrefix + id
}

// Get 读取会话。
func (s *RedisSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

// Save 以乐观锁写入会话并续期 TTL。
func (s *RedisSessionStore) Save(ctx context.Context, session *Session) error {
	session.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	result, err := saveSessionScript.Run(ctx, s.rdb, []string{s.key(session.ID)},
		data, session.Version-1, int(s.config.TTL.Seconds())).Int()
	if err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	if result == -1 {
		return ErrVersionConflict
	}
	return nil
}

// Delete 删除会话。
func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	n, err := s.rdb.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Count 用 SCAN 统计键前缀下的会话数。遍历开销与会话数成正比，
// 只供就绪探针与低频指标采样调用。
func (s *RedisSessionStore) Count(ctx context.Context) (int, error) {
	var count int
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, s.config.KeyPrefix+"*", 1000).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

// Ping 检查 Redis 连通性，用于就绪探针。
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
