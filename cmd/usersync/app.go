package main

import (
	"context"
	"fmt"
	"os"

	"github.com/iaprender-user-sync/internal/config"
	"github.com/iaprender-user-sync/internal/database"
	"github.com/iaprender-user-sync/internal/directory"
	"github.com/iaprender-user-sync/internal/report"
	"github.com/iaprender-user-sync/internal/repository"
	"github.com/iaprender-user-sync/internal/service"
	"github.com/iaprender-user-sync/pkg/logger"
	"github.com/rs/zerolog"
)

// app holds what a command needs after bootstrapping
type app struct {
	cfg *config.Config
	log zerolog.Logger
	db  *database.DB
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadFrom(cfgFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	return cfg, logger.NewWithWriter(os.Stderr, level, cfg.Log.Format), nil
}

// openApp loads configuration and connects to the database
func openApp() (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, log: log, db: db}, nil
}

// services wires the directory client, archive and repositories
func (a *app) services(ctx context.Context) (*service.Services, error) {
	dir, err := directory.NewCognito(ctx, &a.cfg.Directory, a.log)
	if err != nil {
		return nil, fmt.Errorf("create directory client: %w", err)
	}

	archiver, err := report.New(ctx, a.cfg, a.log)
	if err != nil {
		return nil, fmt.Errorf("create report archiver: %w", err)
	}

	return service.NewServices(repository.New(a.db), dir, archiver, a.cfg, a.log), nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close database")
	}
}
