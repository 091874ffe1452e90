package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/notesync/internal/notes"
	"github.com/MarcoPoloResearchLab/notesync/internal/syncstate"
	"github.com/MarcoPoloResearchLab/notesync/internal/transform"
	"go.uber.org/zap"
)

// ReverseConfig describes the dependencies of a ReverseExecutor.
type ReverseConfig struct {
	Documents DocumentStore
	Notes     NoteStore
	Cursor    CursorStore
	Mappings  MappingStore
	Gate      Gate
	Clock     func() time.Time
	Logger    *zap.Logger
}

// ReverseExecutor pushes relational rows changed since the last reverse run
// back to the document store.
type ReverseExecutor struct {
	documents DocumentStore
	notes     NoteStore
	cursor    CursorStore
	mappings  MappingStore
	gate      Gate
	clock     func() time.Time
	logger    *zap.Logger
}

// NewReverseExecutor validates dependencies and returns a ReverseExecutor.
func NewReverseExecutor(cfg ReverseConfig) (*ReverseExecutor, error) {
	switch {
	case cfg.Documents == nil:
		return nil, newServiceError(opReverseNew, reasonMissingDependency, errMissingDocuments)
	case cfg.Notes == nil:
		return nil, newServiceError(opReverseNew, reasonMissingDependency, errMissingNotes)
	case cfg.Cursor == nil:
		return nil, newServiceError(opReverseNew, reasonMissingDependency, errMissingCursor)
	case cfg.Mappings == nil:
		return nil, newServiceError(opReverseNew, reasonMissingDependency, errMissingMappings)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &ReverseExecutor{
		documents: cfg.Documents,
		notes:     cfg.Notes,
		cursor:    cfg.Cursor,
		mappings:  cfg.Mappings,
		gate:      cfg.Gate,
		clock:     clock,
		logger:    logger.With(zap.String(logFieldDirection, string(DirectionReverse))),
	}, nil
}

// Direction identifies the executor.
func (e *ReverseExecutor) Direction() Direction {
	return DirectionReverse
}

// Preflight refuses to write with a missing or expired store token. Dry runs
// never write and always pass.
func (e *ReverseExecutor) Preflight() error {
	if e.gate.DryRun() {
		return nil
	}
	return e.documents.CheckWriteToken()
}

// SyncNotes pushes notes changed since the reverse cursor.
func (e *ReverseExecutor) SyncNotes(ctx context.Context, full bool) (Stats, error) {
	batchStart := e.clock().UTC()
	since, err := e.since(ctx, full, syncstate.EntityNote, opReverseNotes)
	if err != nil {
		return Stats{}, err
	}
	rows, err := e.notes.NotesUpdatedSince(ctx, since)
	if err != nil {
		logError(e.logger, opReverseNotes, reasonQueryFailed, err)
		return Stats{}, newServiceError(opReverseNotes, reasonQueryFailed, err)
	}
	e.logger.Info("rows fetched", zap.String(logFieldEntity, string(syncstate.EntityNote)), zap.Int("count", len(rows)))

	stats, err := processBatch(ctx, e.logger, opReverseNotes, rows, func(note notes.Note) string { return note.ID }, e.pushNote)
	if err != nil {
		return stats, newServiceError(opReverseNotes, reasonInterrupted, err)
	}
	return stats, e.advance(ctx, syncstate.EntityNote, batchStart, opReverseNotes)
}

// SyncComments pushes comments changed since the reverse cursor.
func (e *ReverseExecutor) SyncComments(ctx context.Context, full bool) (Stats, error) {
	batchStart := e.clock().UTC()
	since, err := e.since(ctx, full, syncstate.EntityComment, opReverseComments)
	if err != nil {
		return Stats{}, err
	}
	rows, err := e.notes.CommentsUpdatedSince(ctx, since)
	if err != nil {
		logError(e.logger, opReverseComments, reasonQueryFailed, err)
		return Stats{}, newServiceError(opReverseComments, reasonQueryFailed, err)
	}
	e.logger.Info("rows fetched", zap.String(logFieldEntity, string(syncstate.EntityComment)), zap.Int("count", len(rows)))

	stats, err := processBatch(ctx, e.logger, opReverseComments, rows, func(comment notes.Comment) string { return comment.ID }, e.pushComment)
	if err != nil {
		return stats, newServiceError(opReverseComments, reasonInterrupted, err)
	}
	return stats, e.advance(ctx, syncstate.EntityComment, batchStart, opReverseComments)
}

func (e *ReverseExecutor) since(ctx context.Context, full bool, entity syncstate.Entity, operation string) (*time.Time, error) {
	if full {
		return nil, nil
	}
	last, err := e.cursor.LastSyncTime(ctx, entity)
	if err != nil {
		logError(e.logger, operation, reasonCursorRead, err)
		return nil, newServiceError(operation, reasonCursorRead, err)
	}
	return last, nil
}

func (e *ReverseExecutor) advance(ctx context.Context, entity syncstate.Entity, batchStart time.Time, operation string) error {
	if e.gate.DryRun() {
		e.logger.Info("dry run: cursor not advanced", zap.String(logFieldEntity, string(entity)), zap.Bool("dry_run", true))
		return nil
	}
	if err := e.cursor.UpdateLastSyncTime(ctx, entity, batchStart); err != nil {
		logError(e.logger, operation, reasonCursorWrite, err)
		return newServiceError(operation, reasonCursorWrite, err)
	}
	return nil
}

func (e *ReverseExecutor) pushNote(ctx context.Context, note notes.Note) (Outcome, error) {
	media, audio, err := e.notes.NoteChildren(ctx, note.ID)
	if err != nil {
		return OutcomeSkipped, err
	}
	remoteID, err := e.remoteID(ctx, note.ID)
	if err != nil {
		return OutcomeSkipped, err
	}
	payload := transform.NoteToDocument(note, media, audio, remoteID)
	return e.push(ctx, note.ID, remoteID, syncstate.EntityNote, payload)
}

// pushComment resolves the note and parent references through the mapping.
// Unmapped references keep the local id.
func (e *ReverseExecutor) pushComment(ctx context.Context, comment notes.Comment) (Outcome, error) {
	var refs transform.CommentRefs
	var err error
	if refs.NoteID, err = e.remoteID(ctx, comment.NoteID); err != nil {
		return OutcomeSkipped, err
	}
	if comment.ParentID != nil {
		if refs.ParentID, err = e.remoteID(ctx, *comment.ParentID); err != nil {
			return OutcomeSkipped, err
		}
	}
	if refs.Self, err = e.remoteID(ctx, comment.ID); err != nil {
		return OutcomeSkipped, err
	}
	payload := transform.CommentToDocument(comment, refs)
	return e.push(ctx, comment.ID, refs.Self, syncstate.EntityComment, payload)
}

// remoteID returns the mapped document id for a local row, or "" when unmapped.
func (e *ReverseExecutor) remoteID(ctx context.Context, localID string) (string, error) {
	mapping, err := e.mappings.Lookup(ctx, localID)
	if err != nil || mapping == nil {
		return "", err
	}
	return mapping.RemoteID, nil
}

// push overwrites the mapped document, or creates one and records its id.
func (e *ReverseExecutor) push(ctx context.Context, localID, remoteID string, entity syncstate.Entity, payload map[string]any) (Outcome, error) {
	fields := []zap.Field{
		zap.String(logFieldEntity, string(entity)),
		zap.String(logFieldRecordID, localID),
	}
	if remoteID != "" {
		err := e.gate.Do(ctx, "overwrite document", func(ctx context.Context) error {
			_, err := e.documents.Overwrite(ctx, payload)
			return err
		}, append(fields, zap.String(logFieldRemoteID, remoteID))...)
		if err != nil {
			return OutcomeSkipped, err
		}
		return OutcomeUpdated, nil
	}

	err := e.gate.Do(ctx, "create document", func(ctx context.Context) error {
		reference, err := e.documents.Create(ctx, payload)
		if err != nil {
			return err
		}
		if err := e.mappings.Save(ctx, localID, reference.RemoteID, entity); err != nil {
			return fmt.Errorf("document %s created but mapping not saved: %w", reference.RemoteID, err)
		}
		e.logger.Info("document created", append(fields, zap.String(logFieldRemoteID, reference.RemoteID))...)
		return nil
	}, fields...)
	if err != nil {
		return OutcomeSkipped, err
	}
	return OutcomeCreated, nil
}

