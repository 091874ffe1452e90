package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/notesync/internal/syncstate"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestEnsureSyncTablesIsIdempotent(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "sync.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	ctx := context.Background()
	if err := EnsureSyncTables(ctx, database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to ensure tables: %v", err)
	}

	mapping := syncstate.IDMapping{
		LocalID:   "n1",
		RemoteID:  "https://store/v1/id/n1",
		Type:      syncstate.EntityNote,
		CreatedAt: time.Now().UTC(),
	}
	if err := database.Create(&mapping).Error; err != nil {
		testContext.Fatalf("failed to insert mapping: %v", err)
	}

	if err := EnsureSyncTables(ctx, database, zap.NewNop()); err != nil {
		testContext.Fatalf("second ensure failed: %v", err)
	}

	var stored syncstate.IDMapping
	if err := database.Where("id = ?", "n1").Take(&stored).Error; err != nil {
		testContext.Fatalf("mapping lost after second ensure: %v", err)
	}
	if stored.RemoteID != mapping.RemoteID {
		testContext.Fatalf("unexpected remote id %q", stored.RemoteID)
	}

	for _, table := range []string{"sync_state", "id_mapping"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}
}

func TestOpenPostgresRequiresURL(testContext *testing.T) {
	if _, err := OpenPostgres(context.Background(), "   ", Options{}, zap.NewNop()); err == nil {
		testContext.Fatalf("expected error for empty database url")
	}
}
