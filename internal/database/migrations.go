package database

import (
	"context"

	"github.com/MarcoPoloResearchLab/notesync/internal/syncstate"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tableSyncState = "create_sync_state"
	tableIDMapping = "create_id_mapping"
)

type tableDefinition struct {
	name  string
	model any
}

// EnsureSyncTables creates the cursor and id mapping tables when missing. It
// is safe to run on every start.
func EnsureSyncTables(ctx context.Context, db *gorm.DB, logger *zap.Logger) error {
	definitions := []tableDefinition{
		{name: tableSyncState, model: &syncstate.SyncState{}},
		{name: tableIDMapping, model: &syncstate.IDMapping{}},
	}

	migrator := db.WithContext(ctx).Migrator()
	for _, definition := range definitions {
		if migrator.HasTable(definition.model) {
			continue
		}
		if err := migrator.CreateTable(definition.model); err != nil {
			return err
		}
		if logger != nil {
			logger.Info("sync table created", zap.String("migration", definition.name))
		}
	}
	return nil
}
