package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/Cheese-Arena/internal/arenabuilder"
	appcfg "github.com/park285/Cheese-Arena/internal/config"
	"github.com/park285/Cheese-Arena/internal/httpapi"
	"github.com/park285/Cheese-Arena/internal/obslog"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}

	deps, err := arenabuilder.New(cfg, logger)
	if err != nil {
		logger.Fatal("arena_init_error", zap.Error(err))
	}
	defer func() { _ = deps.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := httpapi.NewServer(httpapi.Deps{
		Game:     deps.Service,
		Settings: deps.Settings,
		Openings: deps.Openings,
		Engine:   deps.Engine,
		Catalog:  deps.Catalog,
		Logger:   logger.Named("http"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deps.Service.Run(gctx) })
	g.Go(func() error {
		// a failed handshake leaves the game playable without the engine
		sctx, cancel := context.WithTimeout(gctx, 15*time.Second)
		defer cancel()
		if err := deps.Engine.Start(sctx); err != nil {
			logger.Warn("engine_start_failed", zap.Error(err))
			deps.Service.OnFailure(err)
		}
		return nil
	})
	g.Go(func() error { return srv.Listen(cfg.HTTPAddr) })
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	logger.Info("arena_started",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("session_id", cfg.SessionID),
	)
	if err := g.Wait(); err != nil {
		logger.Error("arena_stopped", zap.Error(err))
		return
	}
	logger.Info("arena_stopped")
}
