package syncer

import (
	"time"

	"github.com/MarcoPoloResearchLab/notesync/internal/notes"
	"github.com/MarcoPoloResearchLab/notesync/internal/transform"
)

type decision int

const (
	decisionCreate decision = iota
	decisionUpdate
	decisionUnchanged
	decisionLocalNewer
)

func (d decision) outcome() Outcome {
	switch d {
	case decisionCreate:
		return OutcomeCreated
	case decisionUpdate:
		return OutcomeUpdated
	case decisionUnchanged:
		return OutcomeUnchanged
	default:
		return OutcomeSkipped
	}
}

// resolveNote decides how an incoming note row applies to the stored one and
// returns the row to write. Timestamps the document lacked keep their stored
// values so a re-import of an unchanged document is a no-op.
func resolveNote(existing *notes.Note, existingMedia []notes.Media, existingAudio []notes.Audio, row transform.NoteRow) (decision, notes.Note) {
	incoming := row.Note
	if existing == nil {
		return decisionCreate, incoming
	}
	if row.ModifiedAt != nil && existing.UpdatedAt.After(*row.ModifiedAt) {
		return decisionLocalNewer, *existing
	}

	if row.Defaulted.Time {
		incoming.Time = existing.Time
	}
	if row.Defaulted.CreatedAt {
		incoming.CreatedAt = existing.CreatedAt
	}

	candidate := incoming
	if row.Defaulted.UpdatedAt {
		candidate.UpdatedAt = existing.UpdatedAt
	}
	if sameNote(*existing, candidate) && sameMedia(existingMedia, row.Media) && sameAudio(existingAudio, row.Audio) {
		return decisionUnchanged, *existing
	}
	return decisionUpdate, incoming
}

// resolveComment mirrors resolveNote for comments.
func resolveComment(existing *notes.Comment, row transform.CommentRow, incoming notes.Comment) (decision, notes.Comment) {
	if existing == nil {
		return decisionCreate, incoming
	}
	if row.ModifiedAt != nil && existing.UpdatedAt.After(*row.ModifiedAt) {
		return decisionLocalNewer, *existing
	}

	if row.Defaulted.CreatedAt {
		incoming.CreatedAt = existing.CreatedAt
	}
	candidate := incoming
	if row.Defaulted.UpdatedAt {
		candidate.UpdatedAt = existing.UpdatedAt
	}
	if sameComment(*existing, candidate) {
		return decisionUnchanged, *existing
	}
	return decisionUpdate, incoming
}

func sameNote(a, b notes.Note) bool {
	if a.ID != b.ID || a.Title != b.Title || a.Text != b.Text || a.CreatorID != b.CreatorID {
		return false
	}
	if a.Latitude != b.Latitude || a.Longitude != b.Longitude {
		return false
	}
	if a.IsPublished != b.IsPublished || a.ApprovalRequested != b.ApprovalRequested {
		return false
	}
	if len(a.Tags) != len(b.Tags) {
		return false
	}
	for index := range a.Tags {
		if a.Tags[index] != b.Tags[index] {
			return false
		}
	}
	return sameTime(a.Time, b.Time) && sameTime(a.CreatedAt, b.CreatedAt) && sameTime(a.UpdatedAt, b.UpdatedAt)
}

func sameComment(a, b notes.Comment) bool {
	if a.ID != b.ID || a.NoteID != b.NoteID || a.AuthorID != b.AuthorID || a.AuthorName != b.AuthorName {
		return false
	}
	if a.Text != b.Text || a.IsResolved != b.IsResolved {
		return false
	}
	if !sameOptional(a.ThreadID, b.ThreadID) || !sameOptional(a.ParentID, b.ParentID) {
		return false
	}
	positionA, positionB := a.DecodePosition(), b.DecodePosition()
	if (positionA == nil) != (positionB == nil) {
		return false
	}
	if positionA != nil && *positionA != *positionB {
		return false
	}
	return sameTime(a.CreatedAt, b.CreatedAt) && sameTime(a.UpdatedAt, b.UpdatedAt)
}

func sameMedia(stored, incoming []notes.Media) bool {
	if len(stored) != len(incoming) {
		return false
	}
	byID := make(map[string]notes.Media, len(stored))
	for _, item := range stored {
		byID[item.ID] = item
	}
	for _, item := range incoming {
		if existing, ok := byID[item.ID]; !ok || existing != item {
			return false
		}
	}
	return true
}

func sameAudio(stored, incoming []notes.Audio) bool {
	if len(stored) != len(incoming) {
		return false
	}
	byID := make(map[string]notes.Audio, len(stored))
	for _, item := range stored {
		byID[item.ID] = item
	}
	for _, item := range incoming {
		if existing, ok := byID[item.ID]; !ok || existing != item {
			return false
		}
	}
	return true
}

func sameOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameTime(a, b time.Time) bool {
	return a.UTC().Truncate(time.Microsecond).Equal(b.UTC().Truncate(time.Microsecond))
}
