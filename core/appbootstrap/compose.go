// Package appbootstrap wires configuration, storage, ingestion, the
// sweeper and the HTTP server into a runnable process.
package appbootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatledger/api"
	"chatledger/config"
	"chatledger/core/analytics"
	"chatledger/core/entities"
	"chatledger/core/ingest"
	"chatledger/core/roster"
	"chatledger/core/rules"
	"chatledger/core/store"
	"chatledger/core/utils"
)

type App struct {
	cfg     *config.AppConfig
	logger  *utils.Logger
	db      *store.DB
	server  *api.Server
	sweeper *rules.Sweeper
}

func Compose(ctx context.Context, configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := utils.NewLogger()

	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	events := store.NewEventsStore(db)
	classifications := store.NewClassificationsStore(db)

	ros, err := roster.Load(cfg.RosterPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load roster: %w", err)
	}
	logger.Printf("roster loaded: %d members", ros.Size())

	var ruleset *rules.Ruleset
	if cfg.RulesPath != "" {
		ruleset, err = rules.Load(cfg.RulesPath)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("load ruleset: %w", err)
		}
		logger.Printf("ruleset %s loaded: %d rules", ruleset.Version, ruleset.RuleCount())
	}

	var extractor *entities.Extractor
	if cfg.EntitiesPath != "" {
		extractor, err = entities.Load(cfg.EntitiesPath)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("load entities catalog: %w", err)
		}
		logger.Printf("entities catalog %s loaded", extractor.Version())
	}

	ingestor := ingest.NewService(events, ros, cfg.Ingest, logger)
	queries := analytics.NewQueries(events)
	server := api.NewServer(cfg, ingestor, events, classifications, queries, extractor, logger)
	sweeper := rules.NewSweeper(cfg.Sweeper, ruleset, classifications, logger)

	return &App{cfg: cfg, logger: logger, db: db, server: server, sweeper: sweeper}, nil
}

// Run starts the HTTP server and sweeper and blocks until SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.sweeper.Start(runCtx); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Start() }()

	select {
	case err := <-errCh:
		a.shutdown()
		return err
	case <-runCtx.Done():
		a.logger.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := a.server.Shutdown(shutdownCtx)
		a.shutdown()
		return err
	}
}

func (a *App) shutdown() {
	a.sweeper.Stop()
	if a.db != nil {
		_ = a.db.Close()
	}
	a.logger.Sync()
}
