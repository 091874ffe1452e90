package syncstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingMappingIDs = errors.New("syncstate: mapping requires local and remote ids")

// MappingStore maintains IDMapping rows. Rows are never pruned.
type MappingStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewMappingStore returns a MappingStore backed by db.
func NewMappingStore(db *gorm.DB, clock func() time.Time) (*MappingStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if clock == nil {
		clock = time.Now
	}
	return &MappingStore{db: db, clock: clock}, nil
}

// Lookup returns the mapping for localID, or nil when none exists.
func (s *MappingStore) Lookup(ctx context.Context, localID string) (*IDMapping, error) {
	var mapping IDMapping
	err := s.db.WithContext(ctx).Where(clause.Eq{Column: clause.Column{Name: "id"}, Value: localID}).Take(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("syncstate: lookup mapping %s: %w", localID, err)
	}
	return &mapping, nil
}

// Save records localID → remoteID, replacing any existing counterpart.
func (s *MappingStore) Save(ctx context.Context, localID, remoteID string, entity Entity) error {
	mapping, err := s.newMapping(localID, remoteID, entity)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"rerum_id", "type"}),
	}).Create(&mapping).Error
	if err != nil {
		return fmt.Errorf("syncstate: save mapping %s: %w", localID, err)
	}
	return nil
}

// SaveIfAbsent records localID → remoteID only when localID is unmapped. It
// reports whether a row was written.
func (s *MappingStore) SaveIfAbsent(ctx context.Context, localID, remoteID string, entity Entity) (bool, error) {
	mapping, err := s.newMapping(localID, remoteID, entity)
	if err != nil {
		return false, err
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&mapping)
	if result.Error != nil {
		return false, fmt.Errorf("syncstate: save mapping %s: %w", localID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *MappingStore) newMapping(localID, remoteID string, entity Entity) (IDMapping, error) {
	if localID == "" || remoteID == "" {
		return IDMapping{}, errMissingMappingIDs
	}
	return IDMapping{
		LocalID:   localID,
		RemoteID:  remoteID,
		Type:      entity,
		CreatedAt: s.clock().UTC(),
	}, nil
}
