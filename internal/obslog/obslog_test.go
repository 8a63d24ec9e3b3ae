package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestOptionsFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"LOG_LEVEL", "LOG_FORMAT", "LOG_TO_CONSOLE", "LOG_TO_FILE", "LOG_FILE", "LOG_CALLER"} {
		t.Setenv(k, "")
	}
	opts := OptionsFromEnv()
	if opts.Level != zapcore.InfoLevel || opts.Format != "legacy" || !opts.Console {
		t.Fatalf("opts = %+v", opts)
	}
	if opts.File != filepath.Join("logs", "arena.log") {
		t.Fatalf("file = %q", opts.File)
	}
}

func TestOptionsFromEnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "xml")
	t.Setenv("LOG_TO_FILE", "false")
	opts := OptionsFromEnv()
	if opts.Level != zapcore.DebugLevel || opts.Format != "legacy" || opts.File != "" {
		t.Fatalf("opts = %+v", opts)
	}
}

func TestBuildWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "arena.log")
	logger, err := Build(Options{Level: zapcore.InfoLevel, Format: "json", File: path})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	logger.Info("game_move_applied", zap.String("san", "e4"))
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), `"msg":"game_move_applied"`) || !strings.Contains(string(raw), `"san":"e4"`) {
		t.Fatalf("log = %s", raw)
	}
}

func TestSetNilRestoresNop(t *testing.T) {
	Set(nil)
	if L() == nil {
		t.Fatalf("nil global logger")
	}
}
