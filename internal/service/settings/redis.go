package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/Cheese-Arena/internal/domain"
)

const redisKeyPrefix = "arena:settings:"

// RedisStore keeps preferences as JSON without expiry.
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*domain.SettingsRecord, error) {
	if err := checkSession(sessionID); err != nil {
		return nil, err
	}
	raw, err := s.rdb.Get(ctx, redisKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get settings: %w", err)
	}
	rec := domain.SettingsRecord{Preferences: domain.DefaultPreferences()}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	rec.SessionID = sessionID
	rec.Preferences = rec.Preferences.Normalize()
	return &rec, nil
}

func (s *RedisStore) Save(ctx context.Context, rec domain.SettingsRecord) error {
	if err := checkSession(rec.SessionID); err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := s.rdb.Set(ctx, redisKeyPrefix+rec.SessionID, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set settings: %w", err)
	}
	return nil
}
