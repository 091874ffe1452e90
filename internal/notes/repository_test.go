package notes

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepository(t *testing.T) (*Repository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Note{}, &Media{}, &Audio{}, &Comment{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	repository, err := NewRepository(RepositoryConfig{Database: db})
	if err != nil {
		t.Fatalf("unexpected repository error: %v", err)
	}
	return repository, db
}

func sampleNote(id string, updatedAt time.Time) Note {
	return Note{
		ID:        id,
		Title:     "title " + id,
		Text:      "text",
		CreatorID: "u1",
		Tags:      datatypes.JSONSlice[Tag]{{Label: "walk", Origin: TagOriginUser}},
		Time:      updatedAt,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

func TestNewRepositoryRequiresDatabase(t *testing.T) {
	if _, err := NewRepository(RepositoryConfig{}); err == nil {
		t.Fatalf("expected missing database error")
	}
}

func TestFindNoteReturnsNilWhenAbsent(t *testing.T) {
	repository, _ := newTestRepository(t)
	note, err := repository.FindNote(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if note != nil {
		t.Fatalf("expected nil note, got %#v", note)
	}
}

func TestUpdateNoteReplacesAttachments(t *testing.T) {
	repository, _ := newTestRepository(t)
	testContext := context.Background()
	stamp := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	note := sampleNote("n1", stamp)
	initialMedia := []Media{
		{ID: "m1", NoteID: "n1", URI: "https://cdn/1.jpg", Type: MediaTypeImage},
		{ID: "m2", NoteID: "n1", URI: "https://cdn/2.jpg", Type: MediaTypeImage},
	}
	initialAudio := []Audio{{ID: "a1", NoteID: "n1", URI: "https://cdn/1.mp3", Name: "clip"}}
	if err := repository.CreateNote(testContext, note, initialMedia, initialAudio); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	note.Title = "renamed"
	note.UpdatedAt = stamp.Add(time.Hour)
	replacement := []Media{{ID: "m3", NoteID: "n1", URI: "https://cdn/3.mp4", Type: MediaTypeVideo}}
	if err := repository.UpdateNote(testContext, note, replacement, nil); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	stored, err := repository.FindNote(testContext, "n1")
	if err != nil || stored == nil {
		t.Fatalf("expected stored note, err=%v", err)
	}
	if stored.Title != "renamed" {
		t.Fatalf("expected title to update, got %q", stored.Title)
	}
	if !stored.UpdatedAt.Equal(stamp.Add(time.Hour)) {
		t.Fatalf("expected upstream updatedAt to be kept, got %v", stored.UpdatedAt)
	}
	if len(stored.Tags) != 1 || stored.Tags[0].Label != "walk" {
		t.Fatalf("unexpected tags: %#v", stored.Tags)
	}

	media, audio, err := repository.NoteChildren(testContext, "n1")
	if err != nil {
		t.Fatalf("children failed: %v", err)
	}
	if len(media) != 1 || media[0].ID != "m3" {
		t.Fatalf("expected media to be replaced, got %#v", media)
	}
	if len(audio) != 0 {
		t.Fatalf("expected audio to be cleared, got %#v", audio)
	}
}

func TestCommentLifecycle(t *testing.T) {
	repository, _ := newTestRepository(t)
	testContext := context.Background()
	stamp := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	exists, err := repository.CommentExists(testContext, "c1")
	if err != nil || exists {
		t.Fatalf("expected no comment, exists=%v err=%v", exists, err)
	}

	comment := Comment{
		ID:        "c1",
		NoteID:    "n1",
		AuthorID:  "u1",
		Text:      "first",
		Position:  EncodePosition(&Position{From: 2, To: 5}),
		CreatedAt: stamp,
		UpdatedAt: stamp,
	}
	if err := repository.CreateComment(testContext, comment); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	comment.IsResolved = true
	comment.Position = nil
	if err := repository.UpdateComment(testContext, comment); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	stored, err := repository.FindComment(testContext, "c1")
	if err != nil || stored == nil {
		t.Fatalf("expected stored comment, err=%v", err)
	}
	if !stored.IsResolved {
		t.Fatalf("expected resolved flag to persist")
	}
	if stored.DecodePosition() != nil {
		t.Fatalf("expected position to be cleared, got %#v", stored.DecodePosition())
	}
}

func TestNotesUpdatedSinceFiltersAndOrders(t *testing.T) {
	repository, _ := newTestRepository(t)
	testContext := context.Background()
	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	for index, id := range []string{"n3", "n1", "n2"} {
		var offset time.Duration
		switch id {
		case "n1":
			offset = 0
		case "n2":
			offset = time.Hour
		case "n3":
			offset = 2 * time.Hour
		}
		if err := repository.CreateNote(testContext, sampleNote(id, base.Add(offset)), nil, nil); err != nil {
			t.Fatalf("create %d failed: %v", index, err)
		}
	}

	all, err := repository.NotesUpdatedSince(testContext, nil)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "n1" || all[2].ID != "n3" {
		t.Fatalf("expected oldest-first ordering, got %#v", all)
	}

	since := base
	changed, err := repository.NotesUpdatedSince(testContext, &since)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(changed) != 2 || changed[0].ID != "n2" {
		t.Fatalf("expected strictly newer notes only, got %#v", changed)
	}
}
