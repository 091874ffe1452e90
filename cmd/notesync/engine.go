package main

import (
	"context"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/notesync/internal/config"
	"github.com/MarcoPoloResearchLab/notesync/internal/database"
	"github.com/MarcoPoloResearchLab/notesync/internal/ids"
	"github.com/MarcoPoloResearchLab/notesync/internal/notes"
	"github.com/MarcoPoloResearchLab/notesync/internal/rerum"
	"github.com/MarcoPoloResearchLab/notesync/internal/syncer"
	"github.com/MarcoPoloResearchLab/notesync/internal/syncstate"
	"github.com/MarcoPoloResearchLab/notesync/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type engine struct {
	db           *gorm.DB
	orchestrator *syncer.Orchestrator
	direction    syncer.Direction
	logger       *zap.Logger
}

func (e *engine) close() {
	if err := database.Close(e.db); err != nil {
		e.logger.Warn("database close failed", zap.Error(err))
	}
}

// buildEngine connects to both stores and assembles the orchestrator. The
// pool is closed when any later step fails.
func buildEngine(ctx context.Context, appConfig config.AppConfig, observers []syncer.Observer, logger *zap.Logger) (built *engine, err error) {
	direction, err := syncer.ParseDirection(appConfig.Direction)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenPostgres(ctx, appConfig.DatabaseURL, database.Options{MaxOpenConns: appConfig.DatabaseMaxConns}, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = database.Close(db)
		}
	}()

	documents, err := rerum.NewClient(rerum.Config{
		BaseURL:    appConfig.RerumBaseURL,
		Token:      appConfig.RerumToken,
		PageSize:   appConfig.RerumPageSize,
		HTTPClient: &http.Client{Timeout: appConfig.RerumTimeout},
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	repository, err := notes.NewRepository(notes.RepositoryConfig{Database: db, Logger: logger})
	if err != nil {
		return nil, err
	}

	directory, err := users.NewService(users.ServiceConfig{
		Database: db,
		Lookup:   identityLookup(ctx, appConfig.FirebaseCredentials, logger),
		CacheTTL: appConfig.UserCacheTTL,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	forwardCursor, err := syncstate.NewCursorStore(syncstate.CursorStoreConfig{Database: db, Key: syncstate.KeyForward, Logger: logger})
	if err != nil {
		return nil, err
	}
	reverseCursor, err := syncstate.NewCursorStore(syncstate.CursorStoreConfig{Database: db, Key: syncstate.KeyReverse, Logger: logger})
	if err != nil {
		return nil, err
	}
	mappings, err := syncstate.NewMappingStore(db, time.Now)
	if err != nil {
		return nil, err
	}

	gate := syncer.NewGate(appConfig.Apply, logger)

	forward, err := syncer.NewForwardExecutor(syncer.ForwardConfig{
		Documents: documents,
		Notes:     repository,
		Users:     directory,
		Cursor:    forwardCursor,
		Mappings:  mappings,
		Threads:   ids.NewUUIDGenerator(),
		Gate:      gate,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	reverse, err := syncer.NewReverseExecutor(syncer.ReverseConfig{
		Documents: documents,
		Notes:     repository,
		Cursor:    reverseCursor,
		Mappings:  mappings,
		Gate:      gate,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	orchestrator, err := syncer.NewOrchestrator(syncer.OrchestratorConfig{
		EnsureTables: func(ctx context.Context) error {
			return database.EnsureSyncTables(ctx, db, logger)
		},
		Forward:   forward,
		Reverse:   reverse,
		Gate:      gate,
		Observers: observers,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("sync engine ready",
		zap.String("direction", string(direction)),
		zap.Bool("apply", appConfig.Apply),
		zap.Bool("watch", appConfig.Watch),
	)
	return &engine{db: db, orchestrator: orchestrator, direction: direction, logger: logger}, nil
}

// identityLookup enables Firebase diagnostics when credentials are configured.
// A lookup that cannot start only degrades skip log detail.
func identityLookup(ctx context.Context, credentials string, logger *zap.Logger) users.IdentityLookup {
	if credentials == "" {
		return nil
	}
	lookup, err := users.NewFirebaseLookup(ctx, credentials)
	if err != nil {
		logger.Warn("firebase identity lookup disabled", zap.Error(err))
		return nil
	}
	return lookup
}
