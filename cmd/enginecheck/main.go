package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/Cheese-Arena/internal/arenabuilder"
	"github.com/park285/Cheese-Arena/internal/chess/analysis"
	"github.com/park285/Cheese-Arena/internal/chess/rules"
	"github.com/park285/Cheese-Arena/internal/chess/uci"
	appcfg "github.com/park285/Cheese-Arena/internal/config"
	"github.com/park285/Cheese-Arena/internal/service/settings"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := zap.NewNop()
	if os.Getenv("CHECK_VERBOSE") != "" {
		logger, _ = zap.NewDevelopment()
	}

	fen := os.Getenv("CHECK_FEN")
	if fen == "" {
		fen = rules.Initial().FEN()
	}
	if _, err := rules.FromFEN(fen); err != nil {
		log.Fatalf("CHECK_FEN invalid: %v", err)
	}
	difficulty := 3
	if v, err := strconv.Atoi(os.Getenv("CHECK_DIFFICULTY")); err == nil {
		difficulty = v
	}

	var g errgroup.Group
	g.Go(func() error {
		checkEngine(cfg, logger, fen, difficulty)
		return nil
	})
	g.Go(func() error {
		checkSettings(cfg)
		return nil
	})
	_ = g.Wait()
}

func checkEngine(cfg *appcfg.AppConfig, logger *zap.Logger, fen string, difficulty int) {
	coordinator, err := analysis.NewCoordinator(arenabuilder.EngineDialer(cfg, logger), analysis.Options{
		Logger: logger,
		Engine: uci.Options{Threads: cfg.EngineThreads, HashMB: cfg.EngineHashMB},
	})
	if err != nil {
		log.Printf("engine init error: %v", err)
		return
	}
	defer func() { _ = coordinator.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	started := time.Now()
	if err := coordinator.Start(ctx); err != nil {
		log.Printf("engine handshake error: %v", err)
		return
	}
	log.Printf("engine ready in %s", time.Since(started).Round(time.Millisecond))

	res, err := coordinator.RequestBestMove(fen, difficulty).Wait(ctx)
	switch {
	case err != nil:
		log.Printf("bestmove wait error: %v", err)
	case res.Err != nil:
		log.Printf("bestmove error: %v", res.Err)
	default:
		log.Printf("bestmove ok: difficulty=%d move=%s ponder=%s", difficulty, res.Move, res.Ponder)
	}
}

func checkSettings(cfg *appcfg.AppConfig) {
	if cfg.SettingsAPIURL == "" {
		log.Println("SETTINGS_API_URL not set; skipping settings check")
		return
	}
	var opts []settings.ClientOption
	if token := cfg.SettingsAPIToken; token != "" {
		opts = append(opts, settings.WithHeaderProvider(func() map[string]string {
			return map[string]string{arenabuilder.SettingsTokenHeader: token}
		}))
	}
	client := settings.NewHTTPClient(cfg.SettingsAPIURL, append(opts, settings.WithTimeout(8*time.Second))...)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec, err := client.Get(ctx, cfg.SessionID)
	switch {
	case err != nil:
		log.Printf("settings error: %v", err)
	case rec == nil:
		log.Printf("settings ok: no record for session=%s", cfg.SessionID)
	default:
		log.Printf("settings ok: session=%s mode=%s", rec.SessionID, rec.Preferences.Mode)
	}
}
