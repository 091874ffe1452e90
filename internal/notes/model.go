// Package notes holds the relational note and comment tables written by the
// sync engine. The schema is owned by the notes application; the sync engine
// only reads and writes rows.
package notes

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// TagOrigin records who attached a tag to a note.
type TagOrigin string

const (
	// TagOriginUser marks a tag attached by a person.
	TagOriginUser TagOrigin = "user"
	// TagOriginAI marks a tag suggested by the tagging model.
	TagOriginAI TagOrigin = "ai"
)

// Tag is one ordered label attached to a note.
type Tag struct {
	Label  string    `json:"label"`
	Origin TagOrigin `json:"origin"`
}

// Note models the relational note row.
type Note struct {
	ID                string                   `gorm:"column:id;primaryKey"`
	Title             string                   `gorm:"column:title;not null"`
	Text              string                   `gorm:"column:text;type:text;not null"`
	CreatorID         string                   `gorm:"column:creatorId;not null;index"`
	Latitude          string                   `gorm:"column:latitude;not null"`
	Longitude         string                   `gorm:"column:longitude;not null"`
	IsPublished       bool                     `gorm:"column:isPublished;not null"`
	ApprovalRequested bool                     `gorm:"column:approvalRequested;not null"`
	Tags              datatypes.JSONSlice[Tag] `gorm:"column:tags"`
	Time              time.Time                `gorm:"column:time;not null"`
	CreatedAt         time.Time                `gorm:"column:createdAt;not null;autoCreateTime:false"`
	UpdatedAt         time.Time                `gorm:"column:updatedAt;not null;autoUpdateTime:false;index"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "Note"
}

// MediaType distinguishes still images from video clips.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// Media is an image or video attached to a note.
type Media struct {
	ID     string    `gorm:"column:id;primaryKey"`
	NoteID string    `gorm:"column:noteId;not null;index"`
	URI    string    `gorm:"column:uri;not null"`
	Type   MediaType `gorm:"column:type;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Media) TableName() string {
	return "Media"
}

// Audio is a recording attached to a note.
type Audio struct {
	ID       string `gorm:"column:id;primaryKey"`
	NoteID   string `gorm:"column:noteId;not null;index"`
	URI      string `gorm:"column:uri;not null"`
	Name     string `gorm:"column:name;not null"`
	Duration string `gorm:"column:duration;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Audio) TableName() string {
	return "Audio"
}

// Position anchors a comment to a text range within the note body.
type Position struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Comment models the relational comment row.
type Comment struct {
	ID         string         `gorm:"column:id;primaryKey"`
	NoteID     string         `gorm:"column:noteId;not null;index"`
	AuthorID   string         `gorm:"column:authorId;not null;index"`
	AuthorName string         `gorm:"column:authorName;not null"`
	Text       string         `gorm:"column:text;type:text;not null"`
	Position   datatypes.JSON `gorm:"column:position"`
	ThreadID   *string        `gorm:"column:threadId;index"`
	ParentID   *string        `gorm:"column:parentId"`
	IsResolved bool           `gorm:"column:isResolved;not null"`
	CreatedAt  time.Time      `gorm:"column:createdAt;not null;autoCreateTime:false"`
	UpdatedAt  time.Time      `gorm:"column:updatedAt;not null;autoUpdateTime:false;index"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "Comment"
}

// DecodePosition returns the anchored range, or nil when the comment is unanchored.
func (c Comment) DecodePosition() *Position {
	if len(c.Position) == 0 || string(c.Position) == "null" {
		return nil
	}
	var position Position
	if err := json.Unmarshal(c.Position, &position); err != nil {
		return nil
	}
	return &position
}

// EncodePosition converts an optional range into the stored column value.
func EncodePosition(position *Position) datatypes.JSON {
	if position == nil {
		return nil
	}
	encoded, err := json.Marshal(position)
	if err != nil {
		return nil
	}
	return datatypes.JSON(encoded)
}
