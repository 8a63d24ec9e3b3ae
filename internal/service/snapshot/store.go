package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Arena/internal/domain"
)

var (
	ErrEmptySession = errors.New("empty session id")
	ErrCorrupt      = errors.New("corrupt game snapshot")
)

const (
	keyPrefix  = "arena:snapshot:"
	DefaultTTL = 7 * 24 * time.Hour
)

func gameKey(sessionID string) string { return keyPrefix + sessionID }

// RedisStore keeps one JSON snapshot per session with a sliding TTL.
type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl, logger: logger}
}

func (s *RedisStore) Save(ctx context.Context, sessionID string, rec domain.GameRecord) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrEmptySession
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.rdb.Set(ctx, gameKey(sessionID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set snapshot: %w", err)
	}
	return nil
}

// Load returns nil, nil when no snapshot is stored.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*domain.GameRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrEmptySession
	}
	raw, err := s.rdb.Get(ctx, gameKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get snapshot: %w", err)
	}
	var rec domain.GameRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.logger.Warn("snapshot_decode_failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrEmptySession
	}
	if err := s.rdb.Del(ctx, gameKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del snapshot: %w", err)
	}
	return nil
}

// MemoryStore is the in-process store used when no Redis is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.GameRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]domain.GameRecord)}
}

func (m *MemoryStore) Save(_ context.Context, sessionID string, rec domain.GameRecord) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrEmptySession
	}
	rec.MoveHistory = append([]string(nil), rec.MoveHistory...)
	m.mu.Lock()
	m.records[sessionID] = rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (*domain.GameRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrEmptySession
	}
	m.mu.RLock()
	rec, ok := m.records[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	rec.MoveHistory = append([]string(nil), rec.MoveHistory...)
	return &rec, nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.records, sessionID)
	m.mu.Unlock()
	return nil
}
