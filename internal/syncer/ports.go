package syncer

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/notesync/internal/notes"
	"github.com/MarcoPoloResearchLab/notesync/internal/rerum"
	"github.com/MarcoPoloResearchLab/notesync/internal/syncstate"
)

// DocumentStore is the subset of the document-store client the executors use.
type DocumentStore interface {
	QueryAll(ctx context.Context, filter any) ([]rerum.Document, error)
	Create(ctx context.Context, payload map[string]any) (rerum.Reference, error)
	Overwrite(ctx context.Context, payload map[string]any) (rerum.Reference, error)
	CheckWriteToken() error
}

// NoteStore reads and writes relational note and comment rows.
type NoteStore interface {
	FindNote(ctx context.Context, id string) (*notes.Note, error)
	NoteExists(ctx context.Context, id string) (bool, error)
	NoteChildren(ctx context.Context, noteID string) ([]notes.Media, []notes.Audio, error)
	CreateNote(ctx context.Context, note notes.Note, media []notes.Media, audio []notes.Audio) error
	UpdateNote(ctx context.Context, note notes.Note, media []notes.Media, audio []notes.Audio) error
	FindComment(ctx context.Context, id string) (*notes.Comment, error)
	CommentExists(ctx context.Context, id string) (bool, error)
	CreateComment(ctx context.Context, comment notes.Comment) error
	UpdateComment(ctx context.Context, comment notes.Comment) error
	NotesUpdatedSince(ctx context.Context, since *time.Time) ([]notes.Note, error)
	CommentsUpdatedSince(ctx context.Context, since *time.Time) ([]notes.Comment, error)
}

// UserDirectory answers referential checks for users owned by the identity sync.
type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
	Describe(ctx context.Context, userID string) string
}

// CursorStore persists per-entity synchronization timestamps for one direction.
type CursorStore interface {
	LastSyncTime(ctx context.Context, entity syncstate.Entity) (*time.Time, error)
	UpdateLastSyncTime(ctx context.Context, entity syncstate.Entity, syncedAt time.Time) error
}

// MappingStore persists local id to document-store id pairs.
type MappingStore interface {
	Lookup(ctx context.Context, localID string) (*syncstate.IDMapping, error)
	Save(ctx context.Context, localID, remoteID string, entity syncstate.Entity) error
	SaveIfAbsent(ctx context.Context, localID, remoteID string, entity syncstate.Entity) (bool, error)
}
