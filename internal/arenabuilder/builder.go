package arenabuilder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Arena/internal/chess"
	"github.com/park285/Cheese-Arena/internal/chess/analysis"
	"github.com/park285/Cheese-Arena/internal/chess/openingbook"
	"github.com/park285/Cheese-Arena/internal/chess/rules"
	"github.com/park285/Cheese-Arena/internal/chess/uci"
	"github.com/park285/Cheese-Arena/internal/config"
	"github.com/park285/Cheese-Arena/internal/msgcat"
	"github.com/park285/Cheese-Arena/internal/service/game"
	"github.com/park285/Cheese-Arena/internal/service/settings"
	"github.com/park285/Cheese-Arena/internal/service/snapshot"
)

const SettingsTokenHeader = "X-Arena-Token"

type Deps struct {
	Service   *game.Service
	Engine    *analysis.Coordinator
	Settings  settings.Store
	Snapshots game.GameStore
	Openings  *openingbook.Book
	Catalog   *msgcat.Catalog

	redis *redis.Client
	db    *sql.DB
}

func New(cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deps{}
	ok := false
	defer func() {
		if !ok {
			_ = d.Close()
		}
	}()

	if err := applyPresetOverrides(cfg.PresetOverrides); err != nil {
		return nil, err
	}

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	d.Catalog = catalog

	// Redis (optional): game snapshots and optionally settings
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := parseRedisURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		d.redis = rdb
		d.Snapshots = snapshot.NewRedisStore(rdb, cfg.SnapshotTTL, logger)
	} else {
		logger.Warn("snapshot_store_in_memory", zap.String("reason", "REDIS_URL not set"))
		d.Snapshots = snapshot.NewMemoryStore()
	}

	store, err := d.settingsStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	d.Settings = store

	book, err := openingbook.Open(cfg.PolyglotBookPath)
	if err != nil {
		return nil, fmt.Errorf("open opening book: %w", err)
	}
	if book.HasPolyglot() {
		logger.Info("opening_book_loaded", zap.String("path", book.Path()))
	}
	d.Openings = book

	coordinator, err := analysis.NewCoordinator(EngineDialer(cfg, logger), analysis.Options{
		Logger: logger.Named("engine"),
		Engine: uci.Options{Threads: cfg.EngineThreads, HashMB: cfg.EngineHashMB},
	})
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	d.Engine = coordinator

	svc, err := game.New(rules.Oracle{}, coordinator,
		game.WithLogger(logger.Named("game")),
		game.WithCatalog(catalog),
		game.WithSessionID(cfg.SessionID),
		game.WithGameStore(d.Snapshots),
		game.WithPreferenceStore(d.Settings),
		game.WithDelays(game.Delays{VsAI: cfg.VsAIDelay, AIVsAI: cfg.AIVsAIDelay}),
		game.WithAutosaveInterval(cfg.AutosaveInterval),
		game.WithLoadOnStart(cfg.LoadOnStart),
	)
	if err != nil {
		return nil, err
	}
	coordinator.SetListener(svc)
	d.Service = svc

	ok = true
	return d, nil
}

// settingsStore picks the preference backend. auto prefers Postgres,
// then Redis, then a remote settings API.
func (d *Deps) settingsStore(cfg *config.AppConfig, logger *zap.Logger) (settings.Store, error) {
	backend := cfg.SettingsBackend
	if backend == "" || backend == "auto" {
		switch {
		case cfg.DatabaseURL != "":
			backend = "postgres"
		case d.redis != nil:
			backend = "redis"
		case cfg.SettingsAPIURL != "":
			backend = "http"
		default:
			backend = "memory"
		}
	}
	logger.Info("settings_backend", zap.String("backend", backend))

	switch backend {
	case "postgres":
		db, err := openPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		d.db = db
		repo := settings.NewPostgresRepository(db)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure settings schema: %w", err)
		}
		return repo, nil
	case "redis":
		if d.redis == nil {
			return nil, errors.New("redis settings backend without REDIS_URL")
		}
		return settings.NewRedisStore(d.redis), nil
	case "http":
		var opts []settings.ClientOption
		if token := cfg.SettingsAPIToken; token != "" {
			opts = append(opts, settings.WithHeaderProvider(func() map[string]string {
				return map[string]string{SettingsTokenHeader: token}
			}))
		}
		return settings.NewHTTPClient(cfg.SettingsAPIURL, opts...), nil
	default:
		return settings.NewMemoryStore(), nil
	}
}

func applyPresetOverrides(overrides []config.PresetOverride) error {
	for _, o := range overrides {
		if o.Level < chess.MinDifficulty || o.Level > chess.MaxDifficulty {
			return fmt.Errorf("preset override level %d out of range", o.Level)
		}
		p := chess.PresetFor(o.Level)
		p.DepthCap = o.DepthCap
		p.MoveTimeMillis = o.MoveTimeMillis
		if err := chess.OverridePreset(p); err != nil {
			return fmt.Errorf("preset override: %w", err)
		}
	}
	return nil
}

func openPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// EngineDialer prefers a local binary over a remote socket.
func EngineDialer(cfg *config.AppConfig, logger *zap.Logger) uci.Dialer {
	if cfg.EnginePath != "" {
		return uci.ProcessDialer(cfg.EnginePath, uci.ProcessOptions{Logger: logger.Named("uci")})
	}
	token := cfg.EngineWSToken
	return uci.WebSocketDialer(cfg.EngineWSURL, uci.WebSocketOptions{
		Logger: logger.Named("uci"),
		Headers: func() map[string]string {
			if token == "" {
				return nil
			}
			return map[string]string{"Authorization": "Bearer " + token}
		},
	})
}

func (d *Deps) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	if d.Engine != nil {
		errs = append(errs, d.Engine.Close())
	}
	if d.db != nil {
		errs = append(errs, d.db.Close())
	}
	if d.redis != nil {
		errs = append(errs, d.redis.Close())
	}
	return errors.Join(errs...)
}

// parseRedisURL accepts redis:// and rediss:// URLs; rediss enables TLS.
func parseRedisURL(raw string) (*redis.Options, error) {
	return redis.ParseURL(strings.TrimSpace(raw))
}
