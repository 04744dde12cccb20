// Package internal contains core application functionality
package internal

import (
	"context"
	"fmt"

	"github.com/karloscodes/cartridge"

	v1 "beaconly/api/v1"
	"beaconly/internal/config"
	"beaconly/internal/database"
	"beaconly/internal/jobs"
	"beaconly/internal/pkg/async"
	"beaconly/internal/pkg/geoip"
	"beaconly/internal/tracker"
	"beaconly/internal/visitors"
)

// Application wraps cartridge.Application with beaconly-specific components.
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager

	dispatcher *async.Dispatcher
	cache      visitors.IdentityCache
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	cfg := config.GetConfig()
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)
	geoip.InitLogger(logger)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	scheduler, err := jobs.NewScheduler(dbManager, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize jobs: %w", err)
	}

	cache, err := visitors.NewIdentityCache(cfg.SessionMemoryTTL())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize identity cache: %w", err)
	}

	dispatcher := async.NewDispatcher(logger, cfg.IngestWorkers, cfg.IngestQueueSize)
	trk := tracker.NewTracker(logger, dbManager.GetConnection(), cache, cfg)
	ingest := v1.NewIngestHandler(trk, dispatcher)

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:            cfg,
		Logger:            logger,
		DBManager:         dbManager,
		RouteMountFunc:    MountAppRoutes(ingest),
		BackgroundWorkers: []cartridge.BackgroundWorker{scheduler},
	})
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		dispatcher:  dispatcher,
		cache:       cache,
	}, nil
}

// Shutdown stops the HTTP server and background workers, then drains the
// ingestion dispatcher so queued deliveries are not lost.
func (a *Application) Shutdown(ctx context.Context) error {
	err := a.Application.Shutdown(ctx)

	if derr := a.dispatcher.Shutdown(ctx); derr != nil && err == nil {
		err = derr
	}
	a.cache.Close()

	return err
}
