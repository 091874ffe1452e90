package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/notesync/internal/database"
	"github.com/MarcoPoloResearchLab/notesync/internal/notes"
	"github.com/MarcoPoloResearchLab/notesync/internal/rerum"
	"github.com/MarcoPoloResearchLab/notesync/internal/syncstate"
	"github.com/MarcoPoloResearchLab/notesync/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const storeBase = "https://store.example/v1/id/"

type fakeDocuments struct {
	mu          sync.Mutex
	byType      map[string][]rerum.Document
	queryErr    error
	tokenErr    error
	created     []map[string]any
	overwritten []map[string]any
	nextID      int
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{byType: make(map[string][]rerum.Document)}
}

func (f *fakeDocuments) set(documentType string, documents ...rerum.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byType[documentType] = documents
}

func (f *fakeDocuments) QueryAll(_ context.Context, filter any) ([]rerum.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	query, _ := filter.(map[string]any)
	documentType, _ := query["type"].(string)
	return f.byType[documentType], nil
}

func (f *fakeDocuments) Create(_ context.Context, payload map[string]any) (rerum.Reference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.created = append(f.created, payload)
	return rerum.Reference{RemoteID: fmt.Sprintf("%screated-%d", storeBase, f.nextID)}, nil
}

func (f *fakeDocuments) Overwrite(_ context.Context, payload map[string]any) (rerum.Reference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overwritten = append(f.overwritten, payload)
	remoteID, _ := payload["@id"].(string)
	return rerum.Reference{RemoteID: remoteID}, nil
}

func (f *fakeDocuments) CheckWriteToken() error {
	return f.tokenErr
}

// recordingNotes counts every mutating call that reaches the relational store.
type recordingNotes struct {
	NoteStore
	mu     sync.Mutex
	writes []string
}

func (r *recordingNotes) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, call)
}

func (r *recordingNotes) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

func (r *recordingNotes) CreateNote(ctx context.Context, note notes.Note, media []notes.Media, audio []notes.Audio) error {
	r.record("create_note:" + note.ID)
	return r.NoteStore.CreateNote(ctx, note, media, audio)
}

func (r *recordingNotes) UpdateNote(ctx context.Context, note notes.Note, media []notes.Media, audio []notes.Audio) error {
	r.record("update_note:" + note.ID)
	return r.NoteStore.UpdateNote(ctx, note, media, audio)
}

func (r *recordingNotes) CreateComment(ctx context.Context, comment notes.Comment) error {
	r.record("create_comment:" + comment.ID)
	return r.NoteStore.CreateComment(ctx, comment)
}

func (r *recordingNotes) UpdateComment(ctx context.Context, comment notes.Comment) error {
	r.record("update_comment:" + comment.ID)
	return r.NoteStore.UpdateComment(ctx, comment)
}

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("thread-%d", s.next), nil
}

type harness struct {
	db            *gorm.DB
	repository    *notes.Repository
	store         *recordingNotes
	documents     *fakeDocuments
	users         *users.Service
	forwardCursor *syncstate.CursorStore
	reverseCursor *syncstate.CursorStore
	mappings      *syncstate.MappingStore
	threads       *sequenceIDs

	mu  sync.Mutex
	now time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = database.Close(db)
	})
	require.NoError(t, db.AutoMigrate(&users.User{}, &notes.Note{}, &notes.Media{}, &notes.Audio{}, &notes.Comment{}))
	require.NoError(t, database.EnsureSyncTables(context.Background(), db, nil))

	h := &harness{
		db:        db,
		documents: newFakeDocuments(),
		threads:   &sequenceIDs{},
		now:       time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC),
	}

	h.repository, err = notes.NewRepository(notes.RepositoryConfig{Database: db})
	require.NoError(t, err)
	h.store = &recordingNotes{NoteStore: h.repository}
	h.users, err = users.NewService(users.ServiceConfig{Database: db})
	require.NoError(t, err)
	h.forwardCursor, err = syncstate.NewCursorStore(syncstate.CursorStoreConfig{Database: db, Key: syncstate.KeyForward, Clock: h.clock})
	require.NoError(t, err)
	h.reverseCursor, err = syncstate.NewCursorStore(syncstate.CursorStoreConfig{Database: db, Key: syncstate.KeyReverse, Clock: h.clock})
	require.NoError(t, err)
	h.mappings, err = syncstate.NewMappingStore(db, h.clock)
	require.NoError(t, err)
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) setNow(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = now
}

func (h *harness) forward(t *testing.T, apply bool) *ForwardExecutor {
	t.Helper()
	executor, err := NewForwardExecutor(ForwardConfig{
		Documents: h.documents,
		Notes:     h.store,
		Users:     h.users,
		Cursor:    h.forwardCursor,
		Mappings:  h.mappings,
		Threads:   h.threads,
		Gate:      NewGate(apply, nil),
		Clock:     h.clock,
	})
	require.NoError(t, err)
	return executor
}

func (h *harness) reverse(t *testing.T, apply bool) *ReverseExecutor {
	t.Helper()
	executor, err := NewReverseExecutor(ReverseConfig{
		Documents: h.documents,
		Notes:     h.store,
		Cursor:    h.reverseCursor,
		Mappings:  h.mappings,
		Gate:      NewGate(apply, nil),
		Clock:     h.clock,
	})
	require.NoError(t, err)
	return executor
}

func (h *harness) seedUser(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, h.db.Create(&users.User{ID: id, Email: id + "@example.com", CreatedAt: h.clock()}).Error)
}

func (h *harness) findNote(t *testing.T, id string) *notes.Note {
	t.Helper()
	note, err := h.repository.FindNote(context.Background(), id)
	require.NoError(t, err)
	return note
}

func (h *harness) findComment(t *testing.T, id string) *notes.Comment {
	t.Helper()
	comment, err := h.repository.FindComment(context.Background(), id)
	require.NoError(t, err)
	return comment
}

func (h *harness) countRows(t *testing.T, model any) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.db.Model(model).Count(&count).Error)
	return count
}

func document(t *testing.T, fields map[string]any) rerum.Document {
	t.Helper()
	encoded, err := json.Marshal(fields)
	require.NoError(t, err)
	return encoded
}
