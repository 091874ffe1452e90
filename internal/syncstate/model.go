// Package syncstate persists sync cursors and the local-to-remote id mapping.
package syncstate

import "time"

// Entity names a synchronized entity type.
type Entity string

const (
	EntityNote    Entity = "note"
	EntityComment Entity = "comment"
)

// Cursor row keys, one per sync direction.
const (
	KeyForward = "main"
	KeyReverse = "reverse"
)

// SyncState is the cursor row for one sync direction.
type SyncState struct {
	ID                 string     `gorm:"column:id;primaryKey"`
	LastSyncAt         time.Time  `gorm:"column:last_sync_at;not null"`
	LastNotesSyncAt    *time.Time `gorm:"column:last_notes_sync_at"`
	LastCommentsSyncAt *time.Time `gorm:"column:last_comments_sync_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (SyncState) TableName() string {
	return "sync_state"
}

func (s *SyncState) field(entity Entity) **time.Time {
	switch entity {
	case EntityNote:
		return &s.LastNotesSyncAt
	case EntityComment:
		return &s.LastCommentsSyncAt
	default:
		return nil
	}
}

// IDMapping links a relational row to its document-store counterpart.
type IDMapping struct {
	LocalID   string    `gorm:"column:id;primaryKey"`
	RemoteID  string    `gorm:"column:rerum_id;not null"`
	Type      Entity    `gorm:"column:type;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (IDMapping) TableName() string {
	return "id_mapping"
}
