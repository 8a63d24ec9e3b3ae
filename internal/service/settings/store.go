package settings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/pkg/arenadto"
)

var ErrEmptySession = errors.New("empty session id")

// Store persists preferences by session id. Get returns nil, nil when
// nothing is stored.
type Store interface {
	Get(ctx context.Context, sessionID string) (*domain.SettingsRecord, error)
	Save(ctx context.Context, rec domain.SettingsRecord) error
}

// NewSessionID returns a fresh random session id.
func NewSessionID() string { return uuid.NewString() }

// ValidSessionID reports whether raw is usable as a key: non-empty with no
// whitespace or path separators.
func ValidSessionID(raw string) bool {
	if raw == "" || len(raw) > 128 {
		return false
	}
	return !strings.ContainsAny(raw, " \t\r\n/\\:")
}

func checkSession(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptySession
	}
	return nil
}

func ToDTO(p domain.Preferences) arenadto.Preferences {
	return arenadto.Preferences{
		GameMode:             string(p.Mode),
		AIDifficulty:         p.AIDifficulty,
		WhiteAIDifficulty:    p.WhiteAIDifficulty,
		BlackAIDifficulty:    p.BlackAIDifficulty,
		PlayerColor:          string(p.PlayerColor),
		BoardOrientation:     string(p.BoardOrientation),
		ToggleLocalTwoPlayer: p.ToggleLocalTwoPlayer,
		ToggleVsAI:           p.ToggleVsAI,
		ToggleAIVsAI:         p.ToggleAIVsAI,
	}
}

// DefaultDTO is the wire form of the default preferences. Decoding into a
// copy of it leaves absent fields at their defaults.
func DefaultDTO() arenadto.Preferences { return ToDTO(domain.DefaultPreferences()) }

// decodePreferences reads a stored preference blob. Fields the blob does
// not carry keep their defaults.
func decodePreferences(raw []byte) (domain.Preferences, error) {
	p := domain.DefaultPreferences()
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Preferences{}, err
	}
	return p.Normalize(), nil
}

// FromDTO converts and normalizes a wire preference set.
func FromDTO(p arenadto.Preferences) domain.Preferences {
	return domain.Preferences{
		Mode:                 domain.Mode(p.GameMode),
		AIDifficulty:         p.AIDifficulty,
		WhiteAIDifficulty:    p.WhiteAIDifficulty,
		BlackAIDifficulty:    p.BlackAIDifficulty,
		PlayerColor:          domain.Color(p.PlayerColor),
		BoardOrientation:     domain.Color(p.BoardOrientation),
		ToggleLocalTwoPlayer: p.ToggleLocalTwoPlayer,
		ToggleVsAI:           p.ToggleVsAI,
		ToggleAIVsAI:         p.ToggleAIVsAI,
	}.Normalize()
}

// MemoryStore is the development store used when no backend is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.SettingsRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]domain.SettingsRecord)}
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (*domain.SettingsRecord, error) {
	if err := checkSession(sessionID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Save(_ context.Context, rec domain.SettingsRecord) error {
	if err := checkSession(rec.SessionID); err != nil {
		return err
	}
	m.mu.Lock()
	m.records[rec.SessionID] = rec
	m.mu.Unlock()
	return nil
}
