package transform

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/notesync/internal/ids"
	"github.com/MarcoPoloResearchLab/notesync/internal/notes"
)

// CommentDocument is the loosely typed comment shape found in the document store.
type CommentDocument struct {
	AtID       string          `json:"@id"`
	ID         json.RawMessage `json:"id"`
	NoteID     json.RawMessage `json:"noteId"`
	AuthorID   json.RawMessage `json:"authorId"`
	Creator    json.RawMessage `json:"creator"`
	AuthorName json.RawMessage `json:"authorName"`
	Text       json.RawMessage `json:"text"`
	Position   json.RawMessage `json:"position"`
	ThreadID   json.RawMessage `json:"threadId"`
	ParentID   json.RawMessage `json:"parentId"`
	IsResolved json.RawMessage `json:"isResolved"`
	Resolved   json.RawMessage `json:"resolved"`
	CreatedAt  json.RawMessage `json:"createdAt"`
	UpdatedAt  json.RawMessage `json:"updatedAt"`
	IsArchived json.RawMessage `json:"isArchived"`
	Deleted    json.RawMessage `json:"__deleted"`
	Rerum      *RerumMetadata  `json:"__rerum"`
}

// CommentRow is a comment ready to be written. Comment.ParentID holds the
// upstream parent candidate; the writer keeps it only if that parent exists.
type CommentRow struct {
	Comment    notes.Comment
	RemoteID   string
	ModifiedAt *time.Time
	Defaulted  Defaulted
}

type positionDocument struct {
	From *int `json:"from"`
	To   *int `json:"to"`
}

// CommentFromDocument maps a raw comment document onto a relational row.
func CommentFromDocument(raw json.RawMessage, now time.Time) Result[CommentRow] {
	var document CommentDocument
	if err := json.Unmarshal(raw, &document); err != nil {
		return skip[CommentRow](SkipMalformed, err.Error())
	}
	return CommentFromParsed(document, now)
}

// CommentFromParsed maps a decoded comment document onto a relational row.
func CommentFromParsed(document CommentDocument, now time.Time) Result[CommentRow] {
	remoteID := strings.TrimSpace(document.AtID)
	if remoteID == "" {
		remoteID = looseString(document.ID)
	}
	if isPresent(document.Deleted) || isTrue(document.IsArchived) {
		return skip[CommentRow](SkipArchived, remoteID)
	}

	commentID := ids.Normalize(remoteID)
	if commentID == "" {
		return skip[CommentRow](SkipMissingID, "")
	}

	authorID := ids.NormalizeCreator(firstPresent(document.AuthorID, document.Creator))
	if authorID == "" {
		return skip[CommentRow](SkipMissingAuthor, commentID)
	}

	noteID := ids.NormalizeCreator(document.NoteID)
	if noteID == "" {
		return skip[CommentRow](SkipMissingNote, commentID)
	}

	createdAt, createdDefaulted := timestampOrNow(firstPresent(document.CreatedAt, rerumCreated(document.Rerum)), now)
	modifiedAt := modificationTime(document.UpdatedAt, document.Rerum)
	updatedAt := normalizeTime(now)
	if modifiedAt != nil {
		updatedAt = *modifiedAt
	}

	var parentID *string
	if parent := ids.NormalizeCreator(document.ParentID); parent != "" && parent != commentID {
		parentID = &parent
	}

	row := CommentRow{
		Comment: notes.Comment{
			ID:         commentID,
			NoteID:     noteID,
			AuthorID:   authorID,
			AuthorName: looseString(document.AuthorName),
			Text:       looseString(document.Text),
			Position:   notes.EncodePosition(decodePosition(document.Position)),
			ThreadID:   optionalString(document.ThreadID),
			ParentID:   parentID,
			IsResolved: isTrue(document.IsResolved) || isTrue(document.Resolved),
			CreatedAt:  createdAt,
			UpdatedAt:  updatedAt,
		},
		RemoteID:   remoteID,
		ModifiedAt: modifiedAt,
		Defaulted: Defaulted{
			CreatedAt: createdDefaulted,
			UpdatedAt: modifiedAt == nil,
		},
	}
	return accept(row)
}

func rerumCreated(meta *RerumMetadata) json.RawMessage {
	if meta == nil {
		return nil
	}
	return meta.CreatedAt
}

func decodePosition(raw json.RawMessage) *notes.Position {
	if !isPresent(raw) {
		return nil
	}
	var position positionDocument
	if err := json.Unmarshal(raw, &position); err != nil || position.From == nil || position.To == nil {
		return nil
	}
	if *position.From < 0 || *position.To < *position.From {
		return nil
	}
	return &notes.Position{From: *position.From, To: *position.To}
}
