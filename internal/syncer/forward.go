package syncer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MarcoPoloResearchLab/notesync/internal/ids"
	"github.com/MarcoPoloResearchLab/notesync/internal/notes"
	"github.com/MarcoPoloResearchLab/notesync/internal/rerum"
	"github.com/MarcoPoloResearchLab/notesync/internal/syncstate"
	"github.com/MarcoPoloResearchLab/notesync/internal/transform"
	"go.uber.org/zap"
)

const (
	skipAlreadySynced     = "already_synced"
	skipUnknownCreator    = "unknown_creator"
	skipUnknownAuthor     = "unknown_author"
	skipUnknownNote       = "unknown_note"
	skipLocalNewer        = "local_newer"
	logFieldRecordID      = "record_id"
	logFieldRemoteID      = "remote_id"
	logFieldEntity        = "entity"
	logFieldReason        = "reason"
	logFieldDirection     = "direction"
	forwardSkipLogMessage = "document skipped"
)

// ForwardConfig describes the dependencies of a ForwardExecutor.
type ForwardConfig struct {
	Documents DocumentStore
	Notes     NoteStore
	Users     UserDirectory
	Cursor    CursorStore
	Mappings  MappingStore
	Threads   ids.Generator
	Gate      Gate
	Clock     func() time.Time
	Logger    *zap.Logger
}

// ForwardExecutor imports document-store notes and comments into the
// relational store.
type ForwardExecutor struct {
	documents DocumentStore
	notes     NoteStore
	users     UserDirectory
	cursor    CursorStore
	mappings  MappingStore
	threads   ids.Generator
	gate      Gate
	clock     func() time.Time
	logger    *zap.Logger
	staged    *stagedRows
}

// NewForwardExecutor validates dependencies and returns a ForwardExecutor.
func NewForwardExecutor(cfg ForwardConfig) (*ForwardExecutor, error) {
	switch {
	case cfg.Documents == nil:
		return nil, newServiceError(opForwardNew, reasonMissingDependency, errMissingDocuments)
	case cfg.Notes == nil:
		return nil, newServiceError(opForwardNew, reasonMissingDependency, errMissingNotes)
	case cfg.Users == nil:
		return nil, newServiceError(opForwardNew, reasonMissingDependency, errMissingUsers)
	case cfg.Cursor == nil:
		return nil, newServiceError(opForwardNew, reasonMissingDependency, errMissingCursor)
	case cfg.Mappings == nil:
		return nil, newServiceError(opForwardNew, reasonMissingDependency, errMissingMappings)
	}
	threads := cfg.Threads
	if threads == nil {
		threads = ids.NewUUIDGenerator()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &ForwardExecutor{
		documents: cfg.Documents,
		notes:     cfg.Notes,
		users:     cfg.Users,
		cursor:    cfg.Cursor,
		mappings:  cfg.Mappings,
		threads:   threads,
		gate:      cfg.Gate,
		clock:     clock,
		logger:    logger.With(zap.String(logFieldDirection, string(DirectionForward))),
		staged:    newStagedRows(),
	}, nil
}

// Direction identifies the executor.
func (e *ForwardExecutor) Direction() Direction {
	return DirectionForward
}

// Preflight has nothing to verify for imports.
func (e *ForwardExecutor) Preflight() error {
	return nil
}

// SyncNotes fetches the latest note documents and upserts them. The cursor
// advances to the batch start time once the whole batch has been processed.
// Notes start a run, so rows staged by a previous dry run are dropped here.
func (e *ForwardExecutor) SyncNotes(ctx context.Context, full bool) (Stats, error) {
	e.staged.reset()
	return e.syncEntity(ctx, full, syncstate.EntityNote, rerum.TypeNote, opForwardNotes, e.UpsertNotes)
}

// SyncComments fetches the latest comment documents and upserts them.
func (e *ForwardExecutor) SyncComments(ctx context.Context, full bool) (Stats, error) {
	return e.syncEntity(ctx, full, syncstate.EntityComment, rerum.TypeComment, opForwardComments, e.UpsertComments)
}

type upsertFunc func(ctx context.Context, documents []rerum.Document, since *time.Time) (Stats, error)

func (e *ForwardExecutor) syncEntity(ctx context.Context, full bool, entity syncstate.Entity, documentType, operation string, upsert upsertFunc) (Stats, error) {
	batchStart := e.clock().UTC()

	var since *time.Time
	if !full {
		last, err := e.cursor.LastSyncTime(ctx, entity)
		if err != nil {
			logError(e.logger, operation, reasonCursorRead, err)
			return Stats{}, newServiceError(operation, reasonCursorRead, err)
		}
		since = last
	}

	documents, err := e.documents.QueryAll(ctx, rerum.LatestVersionsFilter(documentType))
	if err != nil {
		logError(e.logger, operation, reasonQueryFailed, err)
		return Stats{}, newServiceError(operation, reasonQueryFailed, err)
	}
	e.logger.Info("documents fetched",
		zap.String(logFieldEntity, string(entity)),
		zap.Int("count", len(documents)),
		zap.Bool("incremental", since != nil),
	)

	stats, err := upsert(ctx, documents, since)
	if err != nil {
		return stats, newServiceError(operation, reasonInterrupted, err)
	}

	if e.gate.DryRun() {
		e.logger.Info("dry run: cursor not advanced", zap.String(logFieldEntity, string(entity)), zap.Bool("dry_run", true))
		return stats, nil
	}
	if err := e.cursor.UpdateLastSyncTime(ctx, entity, batchStart); err != nil {
		logError(e.logger, operation, reasonCursorWrite, err)
		return stats, newServiceError(operation, reasonCursorWrite, err)
	}
	return stats, nil
}

// UpsertNotes applies note documents in order. Documents not modified after
// since are skipped; a nil since processes everything.
func (e *ForwardExecutor) UpsertNotes(ctx context.Context, documents []rerum.Document, since *time.Time) (Stats, error) {
	return processBatch(ctx, e.logger, opForwardNotes, documents, documentLabel, func(ctx context.Context, document rerum.Document) (Outcome, error) {
		return e.upsertNote(ctx, document, since)
	})
}

// UpsertComments applies comment documents in order.
func (e *ForwardExecutor) UpsertComments(ctx context.Context, documents []rerum.Document, since *time.Time) (Stats, error) {
	return processBatch(ctx, e.logger, opForwardComments, documents, documentLabel, func(ctx context.Context, document rerum.Document) (Outcome, error) {
		return e.upsertComment(ctx, document, since)
	})
}

func (e *ForwardExecutor) upsertNote(ctx context.Context, document rerum.Document, since *time.Time) (Outcome, error) {
	result := transform.NoteFromDocument(document, e.clock())
	if result.Skipped() {
		e.logSkip(syncstate.EntityNote, string(result.Reason), result.Detail)
		return OutcomeSkipped, nil
	}
	row := result.Row
	if alreadySynced(row.ModifiedAt, since) {
		e.logger.Debug(forwardSkipLogMessage, zap.String(logFieldEntity, string(syncstate.EntityNote)), zap.String(logFieldReason, skipAlreadySynced), zap.String(logFieldRecordID, row.Note.ID))
		return OutcomeSkipped, nil
	}

	creatorExists, err := e.users.Exists(ctx, row.Note.CreatorID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if !creatorExists {
		e.logSkip(syncstate.EntityNote, skipUnknownCreator, row.Note.ID,
			zap.String("creator_id", row.Note.CreatorID),
			zap.String("creator", e.users.Describe(ctx, row.Note.CreatorID)),
		)
		return OutcomeSkipped, nil
	}

	existing, err := e.notes.FindNote(ctx, row.Note.ID)
	if err != nil {
		return OutcomeSkipped, err
	}
	var storedMedia []notes.Media
	var storedAudio []notes.Audio
	if existing != nil {
		storedMedia, storedAudio, err = e.notes.NoteChildren(ctx, row.Note.ID)
		if err != nil {
			return OutcomeSkipped, err
		}
	}

	verdict, note := resolveNote(existing, storedMedia, storedAudio, row)
	fields := []zap.Field{zap.String(logFieldRecordID, note.ID), zap.String(logFieldRemoteID, row.RemoteID)}
	switch verdict {
	case decisionLocalNewer:
		e.logSkip(syncstate.EntityNote, skipLocalNewer, note.ID)
		return OutcomeSkipped, nil
	case decisionCreate:
		err = e.gate.Do(ctx, "create note", func(ctx context.Context) error {
			return e.notes.CreateNote(ctx, note, row.Media, row.Audio)
		}, fields...)
	case decisionUpdate:
		err = e.gate.Do(ctx, "update note", func(ctx context.Context) error {
			return e.notes.UpdateNote(ctx, note, row.Media, row.Audio)
		}, fields...)
	}
	if err != nil {
		return OutcomeSkipped, err
	}
	if e.gate.DryRun() {
		e.staged.stageNote(note.ID)
	}

	e.recordImport(ctx, note.ID, row.RemoteID, syncstate.EntityNote)
	return verdict.outcome(), nil
}

func (e *ForwardExecutor) upsertComment(ctx context.Context, document rerum.Document, since *time.Time) (Outcome, error) {
	result := transform.CommentFromDocument(document, e.clock())
	if result.Skipped() {
		e.logSkip(syncstate.EntityComment, string(result.Reason), result.Detail)
		return OutcomeSkipped, nil
	}
	row := result.Row
	comment := row.Comment
	if alreadySynced(row.ModifiedAt, since) {
		e.logger.Debug(forwardSkipLogMessage, zap.String(logFieldEntity, string(syncstate.EntityComment)), zap.String(logFieldReason, skipAlreadySynced), zap.String(logFieldRecordID, comment.ID))
		return OutcomeSkipped, nil
	}

	authorExists, err := e.users.Exists(ctx, comment.AuthorID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if !authorExists {
		e.logSkip(syncstate.EntityComment, skipUnknownAuthor, comment.ID,
			zap.String("author_id", comment.AuthorID),
			zap.String("author", e.users.Describe(ctx, comment.AuthorID)),
		)
		return OutcomeSkipped, nil
	}
	noteExists, err := e.noteExists(ctx, comment.NoteID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if !noteExists {
		e.logSkip(syncstate.EntityComment, skipUnknownNote, comment.ID, zap.String("note_id", comment.NoteID))
		return OutcomeSkipped, nil
	}

	existing, err := e.findComment(ctx, comment.ID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if err := e.resolveThread(ctx, &comment, existing); err != nil {
		return OutcomeSkipped, err
	}

	verdict, resolved := resolveComment(existing, row, comment)
	fields := []zap.Field{zap.String(logFieldRecordID, resolved.ID), zap.String(logFieldRemoteID, row.RemoteID)}
	switch verdict {
	case decisionLocalNewer:
		e.logSkip(syncstate.EntityComment, skipLocalNewer, resolved.ID)
		return OutcomeSkipped, nil
	case decisionCreate:
		err = e.gate.Do(ctx, "create comment", func(ctx context.Context) error {
			return e.notes.CreateComment(ctx, resolved)
		}, fields...)
	case decisionUpdate:
		err = e.gate.Do(ctx, "update comment", func(ctx context.Context) error {
			return e.notes.UpdateComment(ctx, resolved)
		}, fields...)
	}
	if err != nil {
		return OutcomeSkipped, err
	}
	if e.gate.DryRun() {
		e.staged.stageComment(resolved)
	}

	e.recordImport(ctx, resolved.ID, row.RemoteID, syncstate.EntityComment)
	return verdict.outcome(), nil
}

// resolveThread keeps the parent link only when the parent row exists and
// fills in a thread id: the document's own, else the parent's, else the
// stored one, else a fresh id for a new thread. A reply always joins its
// parent's thread, including one written top-level by an earlier run.
func (e *ForwardExecutor) resolveThread(ctx context.Context, comment *notes.Comment, existing *notes.Comment) error {
	var parent *notes.Comment
	if comment.ParentID != nil {
		found, err := e.findComment(ctx, *comment.ParentID)
		if err != nil {
			return err
		}
		if found == nil {
			e.logger.Warn("parent comment not synced; writing reply as top-level",
				zap.String(logFieldRecordID, comment.ID),
				zap.String("parent_id", *comment.ParentID),
			)
			comment.ParentID = nil
		}
		parent = found
	}

	if comment.ThreadID != nil {
		return nil
	}
	switch {
	case parent != nil && parent.ThreadID != nil:
		comment.ThreadID = parent.ThreadID
	case existing != nil && existing.ThreadID != nil:
		comment.ThreadID = existing.ThreadID
	default:
		threadID, err := e.threads.NewID()
		if err != nil {
			return err
		}
		comment.ThreadID = &threadID
	}
	return nil
}

// noteExists also counts notes staged by the current dry run.
func (e *ForwardExecutor) noteExists(ctx context.Context, id string) (bool, error) {
	if e.gate.DryRun() && e.staged.hasNote(id) {
		return true, nil
	}
	return e.notes.NoteExists(ctx, id)
}

// findComment prefers a comment staged by the current dry run over the stored row.
func (e *ForwardExecutor) findComment(ctx context.Context, id string) (*notes.Comment, error) {
	if e.gate.DryRun() {
		if staged := e.staged.comment(id); staged != nil {
			return staged, nil
		}
	}
	return e.notes.FindComment(ctx, id)
}

// recordImport remembers the source document of an imported row so a later
// reverse run overwrites it instead of creating a duplicate.
func (e *ForwardExecutor) recordImport(ctx context.Context, localID, remoteID string, entity syncstate.Entity) {
	if remoteID == "" || e.gate.DryRun() {
		return
	}
	if _, err := e.mappings.SaveIfAbsent(ctx, localID, remoteID, entity); err != nil {
		e.logger.Warn("id mapping not recorded", zap.String(logFieldRecordID, localID), zap.Error(err))
	}
}

func (e *ForwardExecutor) logSkip(entity syncstate.Entity, reason, recordID string, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String(logFieldEntity, string(entity)),
		zap.String(logFieldReason, reason),
		zap.String(logFieldRecordID, recordID),
	}
	e.logger.Info(forwardSkipLogMessage, append(attrs, fields...)...)
}

func alreadySynced(modifiedAt, since *time.Time) bool {
	return since != nil && modifiedAt != nil && !modifiedAt.After(*since)
}

func documentLabel(document rerum.Document) string {
	var probe struct {
		AtID string `json:"@id"`
	}
	if err := json.Unmarshal(document, &probe); err != nil || probe.AtID == "" {
		return "unknown"
	}
	return probe.AtID
}
