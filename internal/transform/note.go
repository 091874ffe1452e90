package transform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/notesync/internal/ids"
	"github.com/MarcoPoloResearchLab/notesync/internal/notes"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// NoteDocument is the loosely typed note shape found in the document store.
// Every field is optional; json.RawMessage fields tolerate mixed upstream types.
type NoteDocument struct {
	AtID              string          `json:"@id"`
	ID                json.RawMessage `json:"id"`
	Creator           json.RawMessage `json:"creator"`
	Title             json.RawMessage `json:"title"`
	Text              json.RawMessage `json:"text"`
	Latitude          json.RawMessage `json:"latitude"`
	Longitude         json.RawMessage `json:"longitude"`
	Published         json.RawMessage `json:"published"`
	ApprovalRequested json.RawMessage `json:"approvalRequested"`
	Tags              json.RawMessage `json:"tags"`
	Media             json.RawMessage `json:"media"`
	Audio             json.RawMessage `json:"audio"`
	Time              json.RawMessage `json:"time"`
	CreatedAt         json.RawMessage `json:"createdAt"`
	UpdatedAt         json.RawMessage `json:"updatedAt"`
	IsArchived        json.RawMessage `json:"isArchived"`
	Deleted           json.RawMessage `json:"__deleted"`
	Rerum             *RerumMetadata  `json:"__rerum"`
}

// RerumMetadata is the store-maintained version metadata.
type RerumMetadata struct {
	CreatedAt     json.RawMessage `json:"createdAt"`
	IsOverwritten json.RawMessage `json:"isOverwritten"`
}

// Defaulted records which timestamps were missing upstream and set to now.
type Defaulted struct {
	Time      bool
	CreatedAt bool
	UpdatedAt bool
}

// NoteRow is a note ready to be written, with its attachments.
type NoteRow struct {
	Note       notes.Note
	Media      []notes.Media
	Audio      []notes.Audio
	RemoteID   string
	ModifiedAt *time.Time
	Defaulted  Defaulted
}

type mediaDocument struct {
	URI  json.RawMessage `json:"uri"`
	Type json.RawMessage `json:"type"`
}

type audioDocument struct {
	URI      json.RawMessage `json:"uri"`
	Name     json.RawMessage `json:"name"`
	Duration json.RawMessage `json:"duration"`
}

type tagDocument struct {
	Label  json.RawMessage `json:"label"`
	Origin json.RawMessage `json:"origin"`
}

// NoteFromDocument maps a raw note document onto a relational row.
func NoteFromDocument(raw json.RawMessage, now time.Time) Result[NoteRow] {
	var document NoteDocument
	if err := json.Unmarshal(raw, &document); err != nil {
		return skip[NoteRow](SkipMalformed, err.Error())
	}
	return NoteFromParsed(document, now)
}

// NoteFromParsed maps a decoded note document onto a relational row.
func NoteFromParsed(document NoteDocument, now time.Time) Result[NoteRow] {
	remoteID := document.remoteID()
	if isPresent(document.Deleted) || isTrue(document.IsArchived) {
		return skip[NoteRow](SkipArchived, remoteID)
	}

	noteID := ids.Normalize(remoteID)
	if noteID == "" {
		return skip[NoteRow](SkipMissingID, "")
	}

	creatorID := ids.NormalizeCreator(document.Creator)
	if creatorID == "" {
		return skip[NoteRow](SkipMissingCreator, noteID)
	}

	var defaulted Defaulted
	eventTime, timeDefaulted := timestampOrNow(document.Time, now)
	createdAt, createdDefaulted := timestampOrNow(firstPresent(document.CreatedAt, document.rerumCreatedAt()), now)
	modifiedAt := document.ModifiedAt()
	updatedAt := normalizeTime(now)
	if modifiedAt != nil {
		updatedAt = *modifiedAt
	}
	defaulted.Time = timeDefaulted
	defaulted.CreatedAt = createdDefaulted
	defaulted.UpdatedAt = modifiedAt == nil

	row := NoteRow{
		Note: notes.Note{
			ID:                noteID,
			Title:             looseString(document.Title),
			Text:              looseString(document.Text),
			CreatorID:         creatorID,
			Latitude:          coordinate(document.Latitude),
			Longitude:         coordinate(document.Longitude),
			IsPublished:       isTrue(document.Published),
			ApprovalRequested: isTrue(document.ApprovalRequested),
			Tags:              decodeTags(document.Tags),
			Time:              eventTime,
			CreatedAt:         createdAt,
			UpdatedAt:         updatedAt,
		},
		Media:      decodeMedia(noteID, document.Media),
		Audio:      decodeAudio(noteID, document.Audio),
		RemoteID:   remoteID,
		ModifiedAt: modifiedAt,
		Defaulted:  defaulted,
	}
	return accept(row)
}

func (d NoteDocument) remoteID() string {
	if id := strings.TrimSpace(d.AtID); id != "" {
		return id
	}
	return looseString(d.ID)
}

func (d NoteDocument) rerumCreatedAt() json.RawMessage {
	if d.Rerum == nil {
		return nil
	}
	return d.Rerum.CreatedAt
}

// ModifiedAt returns the document's last modification time, if it has one:
// the explicit updatedAt, else the store's overwrite stamp, else its
// creation stamp.
func (d NoteDocument) ModifiedAt() *time.Time {
	return modificationTime(d.UpdatedAt, d.Rerum)
}

func modificationTime(updatedAt json.RawMessage, meta *RerumMetadata) *time.Time {
	candidates := []json.RawMessage{updatedAt}
	if meta != nil {
		candidates = append(candidates, meta.IsOverwritten, meta.CreatedAt)
	}
	for _, candidate := range candidates {
		if parsed, ok := parseTimestamp(candidate); ok {
			return &parsed
		}
	}
	return nil
}

func firstPresent(values ...json.RawMessage) json.RawMessage {
	for _, value := range values {
		if isPresent(value) {
			return value
		}
	}
	return nil
}

// coordinate keeps free-text coordinates but drops values that are not numeric.
func coordinate(raw json.RawMessage) string {
	value := looseString(raw)
	if value == "" {
		return ""
	}
	if _, err := strconv.ParseFloat(value, 64); err != nil {
		return ""
	}
	return value
}

func decodeTags(raw json.RawMessage) datatypes.JSONSlice[notes.Tag] {
	tags := datatypes.JSONSlice[notes.Tag]{}
	if !isPresent(raw) {
		return tags
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return tags
	}
	for _, item := range items {
		if label := looseString(item); label != "" {
			tags = append(tags, notes.Tag{Label: label, Origin: notes.TagOriginUser})
			continue
		}
		var tag tagDocument
		if err := json.Unmarshal(item, &tag); err != nil {
			continue
		}
		label := looseString(tag.Label)
		if label == "" {
			continue
		}
		origin := notes.TagOriginUser
		if looseString(tag.Origin) == string(notes.TagOriginAI) {
			origin = notes.TagOriginAI
		}
		tags = append(tags, notes.Tag{Label: label, Origin: origin})
	}
	return tags
}

func decodeMedia(noteID string, raw json.RawMessage) []notes.Media {
	var items []mediaDocument
	if !isPresent(raw) || json.Unmarshal(raw, &items) != nil {
		return nil
	}
	media := make([]notes.Media, 0, len(items))
	for index, item := range items {
		uri := looseString(item.URI)
		if uri == "" {
			continue
		}
		mediaType := notes.MediaTypeImage
		if strings.EqualFold(looseString(item.Type), string(notes.MediaTypeVideo)) {
			mediaType = notes.MediaTypeVideo
		}
		media = append(media, notes.Media{
			ID:     childID(noteID, "media", index, uri),
			NoteID: noteID,
			URI:    uri,
			Type:   mediaType,
		})
	}
	return media
}

func decodeAudio(noteID string, raw json.RawMessage) []notes.Audio {
	var items []audioDocument
	if !isPresent(raw) || json.Unmarshal(raw, &items) != nil {
		return nil
	}
	audio := make([]notes.Audio, 0, len(items))
	for index, item := range items {
		uri := looseString(item.URI)
		if uri == "" {
			continue
		}
		audio = append(audio, notes.Audio{
			ID:       childID(noteID, "audio", index, uri),
			NoteID:   noteID,
			URI:      uri,
			Name:     looseString(item.Name),
			Duration: looseString(item.Duration),
		})
	}
	return audio
}

// childID derives a stable attachment id so repeated imports of the same
// document produce identical rows.
func childID(noteID, kind string, index int, uri string) string {
	name := fmt.Sprintf("%s/%s/%d/%s", noteID, kind, index, uri)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
