package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

var allKeys = []string{
	"HTTP_ADDR", "ENGINE_PATH", "ENGINE_WS_URL", "ENGINE_WS_TOKEN", "ENGINE_THREADS", "ENGINE_HASH_MB",
	"REDIS_URL", "DATABASE_URL", "SETTINGS_API_URL", "SETTINGS_API_TOKEN", "SETTINGS_BACKEND", "SESSION_ID", "LOAD_ON_START",
	"AI_DELAY_VS_AI_MS", "AI_DELAY_AI_VS_AI_MS", "AUTOSAVE_INTERVAL_SEC", "SNAPSHOT_TTL_SEC",
	"MESSAGES_DIR", "CHESS_POLYGLOT_BOOK_PATH", "AI_PRESET_OVERRIDES",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENGINE_PATH", "/usr/bin/stockfish")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.EngineThreads != 1 || cfg.EngineHashMB != 64 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.VsAIDelay != 600*time.Millisecond || cfg.AIVsAIDelay != 500*time.Millisecond {
		t.Fatalf("delays = %v %v", cfg.VsAIDelay, cfg.AIVsAIDelay)
	}
	if cfg.AutosaveInterval != 30*time.Second || cfg.SnapshotTTL != 7*24*time.Hour {
		t.Fatalf("intervals = %v %v", cfg.AutosaveInterval, cfg.SnapshotTTL)
	}
	if _, err := uuid.Parse(cfg.SessionID); err != nil {
		t.Fatalf("generated session id %q: %v", cfg.SessionID, err)
	}
	if cfg.SettingsBackend != "auto" || !cfg.LoadOnStart {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadInvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENGINE_WS_URL", "wss://engine.example/uci")
	t.Setenv("ENGINE_THREADS", "many")
	t.Setenv("AI_DELAY_VS_AI_MS", "-5")
	t.Setenv("AUTOSAVE_INTERVAL_SEC", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EngineThreads != 1 || cfg.VsAIDelay != 600*time.Millisecond {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.AutosaveInterval != 10*time.Second {
		t.Fatalf("autosave = %v", cfg.AutosaveInterval)
	}
}

func TestLoadRequiresEngine(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil {
		t.Fatalf("missing engine accepted")
	}
}

func TestLoadSettingsBackendChecks(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENGINE_PATH", "stockfish")

	t.Setenv("SETTINGS_BACKEND", "floppy")
	if _, err := Load(); err == nil {
		t.Fatalf("unknown backend accepted")
	}
	t.Setenv("SETTINGS_BACKEND", "postgres")
	if _, err := Load(); err == nil {
		t.Fatalf("postgres without DATABASE_URL accepted")
	}
	t.Setenv("DATABASE_URL", "postgres://arena@localhost/arena")
	t.Setenv("SESSION_ID", "fixed")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SettingsBackend != "postgres" || cfg.SessionID != "fixed" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadPresetOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENGINE_PATH", "stockfish")
	t.Setenv("AI_PRESET_OVERRIDES", "2:9:700, 3:13:1100,")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []PresetOverride{{Level: 2, DepthCap: 9, MoveTimeMillis: 700}, {Level: 3, DepthCap: 13, MoveTimeMillis: 1100}}
	if diff := cmp.Diff(want, cfg.PresetOverrides); diff != "" {
		t.Fatalf("overrides mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{"2:9", "x:1:1", "1:-1:5"} {
		t.Setenv("AI_PRESET_OVERRIDES", bad)
		if _, err := Load(); err == nil {
			t.Fatalf("override %q accepted", bad)
		}
	}
}
