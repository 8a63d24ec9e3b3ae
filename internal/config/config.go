package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AppConfig struct {
	HTTPAddr string

	EnginePath    string
	EngineWSURL   string
	EngineWSToken string
	EngineThreads int
	EngineHashMB  int

	RedisURL         string
	DatabaseURL      string
	SettingsAPIURL   string
	SettingsAPIToken string
	// SettingsBackend is one of auto, postgres, redis, http or memory.
	SettingsBackend string

	SessionID   string
	LoadOnStart bool

	VsAIDelay        time.Duration
	AIVsAIDelay      time.Duration
	AutosaveInterval time.Duration
	SnapshotTTL      time.Duration

	MessagesDir      string
	PolyglotBookPath string

	// PresetOverrides retunes difficulty levels, parsed from
	// AI_PRESET_OVERRIDES as "level:depth:movetimeMs" entries.
	PresetOverrides []PresetOverride
}

type PresetOverride struct {
	Level          int
	DepthCap       int
	MoveTimeMillis int
}

var settingsBackends = map[string]bool{"auto": true, "postgres": true, "redis": true, "http": true, "memory": true}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:         ":8080",
		EngineThreads:    1,
		EngineHashMB:     64,
		SettingsBackend:  "auto",
		LoadOnStart:      true,
		VsAIDelay:        600 * time.Millisecond,
		AIVsAIDelay:      500 * time.Millisecond,
		AutosaveInterval: 30 * time.Second,
		SnapshotTTL:      7 * 24 * time.Hour,
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}

	cfg.EnginePath = strings.TrimSpace(os.Getenv("ENGINE_PATH"))
	cfg.EngineWSURL = strings.TrimSpace(os.Getenv("ENGINE_WS_URL"))
	cfg.EngineWSToken = strings.TrimSpace(os.Getenv("ENGINE_WS_TOKEN"))
	cfg.EngineThreads = positiveInt("ENGINE_THREADS", cfg.EngineThreads)
	cfg.EngineHashMB = positiveInt("ENGINE_HASH_MB", cfg.EngineHashMB)

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.SettingsAPIURL = strings.TrimSpace(os.Getenv("SETTINGS_API_URL"))
	cfg.SettingsAPIToken = strings.TrimSpace(os.Getenv("SETTINGS_API_TOKEN"))
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("SETTINGS_BACKEND"))); v != "" {
		if !settingsBackends[v] {
			return nil, fmt.Errorf("SETTINGS_BACKEND %q is not one of auto, postgres, redis, http, memory", v)
		}
		cfg.SettingsBackend = v
	}

	cfg.SessionID = strings.TrimSpace(os.Getenv("SESSION_ID"))
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if v := strings.TrimSpace(os.Getenv("LOAD_ON_START")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LoadOnStart = b
		}
	}

	cfg.VsAIDelay = time.Duration(positiveInt("AI_DELAY_VS_AI_MS", int(cfg.VsAIDelay.Milliseconds()))) * time.Millisecond
	cfg.AIVsAIDelay = time.Duration(positiveInt("AI_DELAY_AI_VS_AI_MS", int(cfg.AIVsAIDelay.Milliseconds()))) * time.Millisecond
	cfg.AutosaveInterval = time.Duration(positiveInt("AUTOSAVE_INTERVAL_SEC", int(cfg.AutosaveInterval.Seconds()))) * time.Second
	cfg.SnapshotTTL = time.Duration(positiveInt("SNAPSHOT_TTL_SEC", int(cfg.SnapshotTTL.Seconds()))) * time.Second

	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))
	cfg.PolyglotBookPath = strings.TrimSpace(os.Getenv("CHESS_POLYGLOT_BOOK_PATH"))

	overrides, err := parsePresetOverrides(os.Getenv("AI_PRESET_OVERRIDES"))
	if err != nil {
		return nil, err
	}
	cfg.PresetOverrides = overrides

	if cfg.EnginePath == "" && cfg.EngineWSURL == "" {
		return nil, errors.New("ENGINE_PATH or ENGINE_WS_URL is required")
	}
	switch {
	case cfg.SettingsBackend == "postgres" && cfg.DatabaseURL == "":
		return nil, errors.New("SETTINGS_BACKEND=postgres requires DATABASE_URL")
	case cfg.SettingsBackend == "redis" && cfg.RedisURL == "":
		return nil, errors.New("SETTINGS_BACKEND=redis requires REDIS_URL")
	case cfg.SettingsBackend == "http" && cfg.SettingsAPIURL == "":
		return nil, errors.New("SETTINGS_BACKEND=http requires SETTINGS_API_URL")
	}
	return cfg, nil
}

// positiveInt reads a positive integer; anything else keeps def.
func positiveInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func parsePresetOverrides(raw string) ([]PresetOverride, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []PresetOverride
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("AI_PRESET_OVERRIDES entry %q: want level:depth:movetimeMs", entry)
		}
		var nums [3]int
		for i, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("AI_PRESET_OVERRIDES entry %q: bad number %q", entry, p)
			}
			nums[i] = n
		}
		out = append(out, PresetOverride{Level: nums[0], DepthCap: nums[1], MoveTimeMillis: nums[2]})
	}
	return out, nil
}
