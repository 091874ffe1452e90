package syncstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("syncstate: database handle is required")
	errMissingKey      = errors.New("syncstate: cursor key is required")
	// ErrUnknownEntity indicates an entity type without a cursor column.
	ErrUnknownEntity = errors.New("syncstate: unknown entity")
)

// CursorStoreConfig describes the dependencies of a CursorStore.
type CursorStoreConfig struct {
	Database *gorm.DB
	Key      string
	Clock    func() time.Time
	Logger   *zap.Logger
}

// CursorStore reads and advances the per-entity cursors of one direction.
type CursorStore struct {
	db     *gorm.DB
	key    string
	clock  func() time.Time
	logger *zap.Logger
}

// NewCursorStore validates dependencies and returns a CursorStore.
func NewCursorStore(cfg CursorStoreConfig) (*CursorStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Key == "" {
		return nil, errMissingKey
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CursorStore{db: cfg.Database, key: cfg.Key, clock: clock, logger: logger}, nil
}

// Key returns the cursor row key.
func (s *CursorStore) Key() string {
	return s.key
}

// LastSyncTime returns the cursor for entity, or nil when it has never run.
func (s *CursorStore) LastSyncTime(ctx context.Context, entity Entity) (*time.Time, error) {
	var state SyncState
	err := s.db.WithContext(ctx).Where(clause.Eq{Column: clause.Column{Name: "id"}, Value: s.key}).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("syncstate: read cursor %s: %w", s.key, err)
	}
	field := state.field(entity)
	if field == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	if *field == nil {
		return nil, nil
	}
	value := (*field).UTC()
	return &value, nil
}

// UpdateLastSyncTime advances the entity cursor and the shared last_sync_at.
// Cursors never move backwards: an older timestamp leaves the column as is.
func (s *CursorStore) UpdateLastSyncTime(ctx context.Context, entity Entity, syncedAt time.Time) error {
	syncedAt = syncedAt.UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var state SyncState
		err := tx.Where(clause.Eq{Column: clause.Column{Name: "id"}, Value: s.key}).Take(&state).Error
		create := errors.Is(err, gorm.ErrRecordNotFound)
		if err != nil && !create {
			return fmt.Errorf("syncstate: read cursor %s: %w", s.key, err)
		}
		if create {
			state = SyncState{ID: s.key, LastSyncAt: syncedAt}
		}

		field := state.field(entity)
		if field == nil {
			return fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
		}
		if *field != nil && syncedAt.Before(**field) {
			s.logger.Warn("cursor update ignored; would move backwards",
				zap.String("cursor", s.key),
				zap.String("entity", string(entity)),
				zap.Time("current", **field),
				zap.Time("requested", syncedAt))
		} else {
			value := syncedAt
			*field = &value
		}
		if syncedAt.After(state.LastSyncAt) {
			state.LastSyncAt = syncedAt
		}
		state.UpdatedAt = s.clock().UTC()

		if create {
			return tx.Create(&state).Error
		}
		return tx.Save(&state).Error
	})
}
