package transform

import (
	"github.com/MarcoPoloResearchLab/notesync/internal/notes"
	"github.com/MarcoPoloResearchLab/notesync/internal/rerum"
)

// NoteToDocument builds the document-store payload for a note. A non-empty
// remoteID targets an overwrite of that document.
func NoteToDocument(note notes.Note, media []notes.Media, audio []notes.Audio, remoteID string) map[string]any {
	tags := make([]map[string]any, 0, len(note.Tags))
	for _, tag := range note.Tags {
		origin := notes.TagOriginUser
		if tag.Origin == notes.TagOriginAI {
			origin = notes.TagOriginAI
		}
		tags = append(tags, map[string]any{"label": tag.Label, "origin": string(origin)})
	}

	mediaItems := make([]map[string]any, 0, len(media))
	for _, item := range media {
		mediaItems = append(mediaItems, map[string]any{"uri": item.URI, "type": string(item.Type)})
	}

	audioItems := make([]map[string]any, 0, len(audio))
	for _, item := range audio {
		audioItems = append(audioItems, map[string]any{
			"uri":      item.URI,
			"name":     item.Name,
			"duration": item.Duration,
		})
	}

	payload := map[string]any{
		"type":              rerum.TypeNote,
		"title":             note.Title,
		"text":              note.Text,
		"creator":           note.CreatorID,
		"latitude":          note.Latitude,
		"longitude":         note.Longitude,
		"published":         note.IsPublished,
		"approvalRequested": note.ApprovalRequested,
		"tags":              tags,
		"media":             mediaItems,
		"audio":             audioItems,
		"time":              formatTime(note.Time),
		"createdAt":         formatTime(note.CreatedAt),
		"updatedAt":         formatTime(note.UpdatedAt),
	}
	if remoteID != "" {
		payload["@id"] = remoteID
	}
	return payload
}

// CommentRefs carries a comment's references as the document store knows them.
// Empty NoteID or ParentID fall back to the local ids; empty Self creates a new document.
type CommentRefs struct {
	NoteID   string
	ParentID string
	Self     string
}

// CommentToDocument builds the document-store payload for a comment.
func CommentToDocument(comment notes.Comment, refs CommentRefs) map[string]any {
	noteID := refs.NoteID
	if noteID == "" {
		noteID = comment.NoteID
	}
	payload := map[string]any{
		"type":       rerum.TypeComment,
		"noteId":     noteID,
		"authorId":   comment.AuthorID,
		"authorName": comment.AuthorName,
		"text":       comment.Text,
		"position":   nil,
		"threadId":   nil,
		"parentId":   nil,
		"isResolved": comment.IsResolved,
		"createdAt":  formatTime(comment.CreatedAt),
		"updatedAt":  formatTime(comment.UpdatedAt),
	}
	if position := comment.DecodePosition(); position != nil {
		payload["position"] = map[string]any{"from": position.From, "to": position.To}
	}
	if comment.ThreadID != nil {
		payload["threadId"] = *comment.ThreadID
	}
	if comment.ParentID != nil {
		payload["parentId"] = *comment.ParentID
		if refs.ParentID != "" {
			payload["parentId"] = refs.ParentID
		}
	}
	if refs.Self != "" {
		payload["@id"] = refs.Self
	}
	return payload
}
