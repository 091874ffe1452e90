package notes

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
	errMissingDatabase = errors.New("database handle is required")
	errMissingNoteID   = errors.New("note identifier is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries an "<operation>.<reason>" code for repository failures.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opRepositoryNew      = "notes.repository.new"
	opFindNote           = "notes.find_note"
	opNoteChildren       = "notes.note_children"
	opSaveNote           = "notes.save_note"
	opFindComment        = "notes.find_comment"
	opSaveComment        = "notes.save_comment"
	opListChanged        = "notes.list_changed"
	columnID             = "id"
	columnNoteID         = "noteId"
	columnUpdatedAt      = "updatedAt"
	reasonMissingDB      = "missing_database"
	reasonMissingNoteID  = "missing_note_id"
	reasonQueryFailed    = "query_failed"
	reasonWriteFailed    = "write_failed"
	reasonChildrenFailed = "children_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// RepositoryConfig describes the dependencies of a Repository.
type RepositoryConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Repository reads and writes note, comment, and attachment rows.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRepository validates dependencies and returns a Repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opRepositoryNew, reasonMissingDB, errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Repository{db: cfg.Database, logger: logger}, nil
}

func byID(id string) clause.Expression {
	return clause.Eq{Column: clause.Column{Name: columnID}, Value: id}
}

func byNoteID(noteID string) clause.Expression {
	return clause.Eq{Column: clause.Column{Name: columnNoteID}, Value: noteID}
}

// FindNote returns the note with the given id, or nil when absent.
func (r *Repository) FindNote(ctx context.Context, id string) (*Note, error) {
	var note Note
	err := r.db.WithContext(ctx).Where(byID(id)).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.logError(opFindNote, reasonQueryFailed, err, zap.String("note_id", id))
		return nil, newServiceError(opFindNote, reasonQueryFailed, err)
	}
	return &note, nil
}

// NoteExists reports whether a note row with the given id is present.
func (r *Repository) NoteExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&Note{}).Where(byID(id)).Count(&count).Error; err != nil {
		r.logError(opFindNote, reasonQueryFailed, err, zap.String("note_id", id))
		return false, newServiceError(opFindNote, reasonQueryFailed, err)
	}
	return count > 0, nil
}

// NoteChildren loads the media and audio rows attached to a note.
func (r *Repository) NoteChildren(ctx context.Context, noteID string) ([]Media, []Audio, error) {
	var media []Media
	if err := r.db.WithContext(ctx).Where(byNoteID(noteID)).Order(clause.OrderByColumn{Column: clause.Column{Name: columnID}}).Find(&media).Error; err != nil {
		r.logError(opNoteChildren, reasonQueryFailed, err, zap.String("note_id", noteID))
		return nil, nil, newServiceError(opNoteChildren, reasonQueryFailed, err)
	}
	var audio []Audio
	if err := r.db.WithContext(ctx).Where(byNoteID(noteID)).Order(clause.OrderByColumn{Column: clause.Column{Name: columnID}}).Find(&audio).Error; err != nil {
		r.logError(opNoteChildren, reasonQueryFailed, err, zap.String("note_id", noteID))
		return nil, nil, newServiceError(opNoteChildren, reasonQueryFailed, err)
	}
	return media, audio, nil
}

// CreateNote inserts a note together with its attachments.
func (r *Repository) CreateNote(ctx context.Context, note Note, media []Media, audio []Audio) error {
	return r.writeNote(ctx, note, media, audio, true)
}

// UpdateNote overwrites a note and replaces its attachments wholesale.
func (r *Repository) UpdateNote(ctx context.Context, note Note, media []Media, audio []Audio) error {
	return r.writeNote(ctx, note, media, audio, false)
}

func (r *Repository) writeNote(ctx context.Context, note Note, media []Media, audio []Audio, create bool) error {
	if note.ID == "" {
		return newServiceError(opSaveNote, reasonMissingNoteID, errMissingNoteID)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if create {
			err = tx.Create(&note).Error
		} else {
			err = tx.Save(&note).Error
		}
		if err != nil {
			r.logError(opSaveNote, reasonWriteFailed, err, zap.String("note_id", note.ID))
			return newServiceError(opSaveNote, reasonWriteFailed, err)
		}

		if err := tx.Where(byNoteID(note.ID)).Delete(&Media{}).Error; err != nil {
			return newServiceError(opSaveNote, reasonChildrenFailed, err)
		}
		if err := tx.Where(byNoteID(note.ID)).Delete(&Audio{}).Error; err != nil {
			return newServiceError(opSaveNote, reasonChildrenFailed, err)
		}
		if len(media) > 0 {
			if err := tx.Create(&media).Error; err != nil {
				r.logError(opSaveNote, reasonChildrenFailed, err, zap.String("note_id", note.ID))
				return newServiceError(opSaveNote, reasonChildrenFailed, err)
			}
		}
		if len(audio) > 0 {
			if err := tx.Create(&audio).Error; err != nil {
				r.logError(opSaveNote, reasonChildrenFailed, err, zap.String("note_id", note.ID))
				return newServiceError(opSaveNote, reasonChildrenFailed, err)
			}
		}
		return nil
	})
}

// FindComment returns the comment with the given id, or nil when absent.
func (r *Repository) FindComment(ctx context.Context, id string) (*Comment, error) {
	var comment Comment
	err := r.db.WithContext(ctx).Where(byID(id)).Take(&comment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.logError(opFindComment, reasonQueryFailed, err, zap.String("comment_id", id))
		return nil, newServiceError(opFindComment, reasonQueryFailed, err)
	}
	return &comment, nil
}

// CommentExists reports whether a comment row with the given id is present.
func (r *Repository) CommentExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&Comment{}).Where(byID(id)).Count(&count).Error; err != nil {
		r.logError(opFindComment, reasonQueryFailed, err, zap.String("comment_id", id))
		return false, newServiceError(opFindComment, reasonQueryFailed, err)
	}
	return count > 0, nil
}

// CreateComment inserts a comment row.
func (r *Repository) CreateComment(ctx context.Context, comment Comment) error {
	if err := r.db.WithContext(ctx).Create(&comment).Error; err != nil {
		r.logError(opSaveComment, reasonWriteFailed, err, zap.String("comment_id", comment.ID))
		return newServiceError(opSaveComment, reasonWriteFailed, err)
	}
	return nil
}

// UpdateComment overwrites every column of an existing comment row.
func (r *Repository) UpdateComment(ctx context.Context, comment Comment) error {
	if err := r.db.WithContext(ctx).Save(&comment).Error; err != nil {
		r.logError(opSaveComment, reasonWriteFailed, err, zap.String("comment_id", comment.ID))
		return newServiceError(opSaveComment, reasonWriteFailed, err)
	}
	return nil
}

// NotesUpdatedSince lists notes modified after since, oldest first. A nil
// since lists every note.
func (r *Repository) NotesUpdatedSince(ctx context.Context, since *time.Time) ([]Note, error) {
	var notes []Note
	if err := r.changedSince(ctx, since).Find(&notes).Error; err != nil {
		r.logError(opListChanged, reasonQueryFailed, err, zap.String("entity", "note"))
		return nil, newServiceError(opListChanged, reasonQueryFailed, err)
	}
	return notes, nil
}

// CommentsUpdatedSince lists comments modified after since, oldest first.
func (r *Repository) CommentsUpdatedSince(ctx context.Context, since *time.Time) ([]Comment, error) {
	var comments []Comment
	if err := r.changedSince(ctx, since).Find(&comments).Error; err != nil {
		r.logError(opListChanged, reasonQueryFailed, err, zap.String("entity", "comment"))
		return nil, newServiceError(opListChanged, reasonQueryFailed, err)
	}
	return comments, nil
}

func (r *Repository) changedSince(ctx context.Context, since *time.Time) *gorm.DB {
	query := r.db.WithContext(ctx).Order(clause.OrderByColumn{Column: clause.Column{Name: columnUpdatedAt}})
	if since != nil {
		query = query.Where(clause.Gt{Column: clause.Column{Name: columnUpdatedAt}, Value: since.UTC()})
	}
	return query
}

func (r *Repository) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	r.logger.Error("notes repository error", attrs...)
}
