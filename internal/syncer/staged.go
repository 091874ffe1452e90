package syncer

import (
	"sync"

	"github.com/MarcoPoloResearchLab/notesync/internal/notes"
)

// stagedRows remembers the rows a dry run would have written during the
// current run, so later lookups in that run resolve them like a live run.
type stagedRows struct {
	mu       sync.Mutex
	notes    map[string]struct{}
	comments map[string]notes.Comment
}

func newStagedRows() *stagedRows {
	return &stagedRows{
		notes:    make(map[string]struct{}),
		comments: make(map[string]notes.Comment),
	}
}

func (s *stagedRows) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = make(map[string]struct{})
	s.comments = make(map[string]notes.Comment)
}

func (s *stagedRows) stageNote(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[id] = struct{}{}
}

func (s *stagedRows) hasNote(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.notes[id]
	return ok
}

func (s *stagedRows) stageComment(comment notes.Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[comment.ID] = comment
}

func (s *stagedRows) comment(id string) *notes.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	comment, ok := s.comments[id]
	if !ok {
		return nil
	}
	return &comment
}
