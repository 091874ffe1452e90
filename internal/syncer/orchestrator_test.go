package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/notesync/internal/syncstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type stubExecutor struct {
	direction    Direction
	preflightErr error
	notesErr     error
	noteStats    Stats
	commentStats Stats

	mu    sync.Mutex
	calls []string
	fulls []bool

	block   chan struct{}
	entered chan struct{}
}

func (s *stubExecutor) Direction() Direction {
	return s.direction
}

func (s *stubExecutor) Preflight() error {
	return s.preflightErr
}

func (s *stubExecutor) SyncNotes(ctx context.Context, full bool) (Stats, error) {
	s.mu.Lock()
	s.calls = append(s.calls, string(s.direction)+".note")
	s.fulls = append(s.fulls, full)
	s.mu.Unlock()
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return Stats{}, ctx.Err()
		}
	}
	return s.noteStats, s.notesErr
}

func (s *stubExecutor) SyncComments(_ context.Context, _ bool) (Stats, error) {
	s.mu.Lock()
	s.calls = append(s.calls, string(s.direction)+".comment")
	s.mu.Unlock()
	return s.commentStats, nil
}

func (s *stubExecutor) snapshot() ([]string, []bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...), append([]bool(nil), s.fulls...)
}

type recordingObserver struct {
	mu     sync.Mutex
	events []RunEvent
}

func (r *recordingObserver) Observe(event RunEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		input   string
		want    Direction
		wantErr bool
	}{
		{input: "", want: DirectionForward},
		{input: "forward", want: DirectionForward},
		{input: " Reverse ", want: DirectionReverse},
		{input: "both", want: DirectionBoth},
		{input: "sideways", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDirection(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got)
	}
}

func TestRunBothImportsBeforeExporting(t *testing.T) {
	forward := &stubExecutor{direction: DirectionForward, noteStats: Stats{Created: 2}, commentStats: Stats{Skipped: 1}}
	reverse := &stubExecutor{direction: DirectionReverse, noteStats: Stats{Updated: 1}}
	tables := &callLog{}
	observer := &recordingObserver{}

	orchestrator, err := NewOrchestrator(OrchestratorConfig{
		EnsureTables: func(context.Context) error {
			tables.add("ensure")
			return nil
		},
		Forward:   forward,
		Reverse:   reverse,
		Gate:      NewGate(true, nil),
		Observers: []Observer{observer},
	})
	require.NoError(t, err)

	report, err := orchestrator.Run(context.Background(), Request{Direction: DirectionBoth, Full: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"ensure"}, tables.calls)
	forwardCalls, fulls := forward.snapshot()
	assert.Equal(t, []string{"forward.note", "forward.comment"}, forwardCalls)
	assert.Equal(t, []bool{true}, fulls)
	reverseCalls, _ := reverse.snapshot()
	assert.Equal(t, []string{"reverse.note", "reverse.comment"}, reverseCalls)

	assert.Equal(t, ModeFull, report.Mode)
	assert.False(t, report.DryRun)
	assert.Equal(t, Stats{Created: 2}, report.Entities[EntityKey(DirectionForward, syncstate.EntityNote)])
	assert.Equal(t, Stats{Updated: 1}, report.Entities[EntityKey(DirectionReverse, syncstate.EntityNote)])
	assert.Equal(t, Stats{Created: 2, Updated: 1, Skipped: 1}, report.Totals())

	last, ok := orchestrator.LastReport()
	require.True(t, ok)
	assert.Equal(t, report.StartedAt, last.StartedAt)

	require.Len(t, observer.events, 2)
	assert.Equal(t, EventRunStarted, observer.events[0].Type)
	assert.Equal(t, EventRunFinished, observer.events[1].Type)
}

func TestRunStopsAtFirstFatalError(t *testing.T) {
	failure := errors.New("store unreachable")
	forward := &stubExecutor{direction: DirectionForward, notesErr: failure}
	reverse := &stubExecutor{direction: DirectionReverse}
	orchestrator, err := NewOrchestrator(OrchestratorConfig{Forward: forward, Reverse: reverse})
	require.NoError(t, err)

	report, err := orchestrator.Run(context.Background(), Request{Direction: DirectionBoth})
	require.ErrorIs(t, err, failure)
	assert.Equal(t, "store unreachable", report.Error)
	assert.Equal(t, ModeIncremental, report.Mode)
	assert.True(t, report.DryRun, "a zero gate is a dry run")

	forwardCalls, _ := forward.snapshot()
	assert.Equal(t, []string{"forward.note"}, forwardCalls)
	reverseCalls, _ := reverse.snapshot()
	assert.Empty(t, reverseCalls)
}

func TestRunRejectsFailedPreflight(t *testing.T) {
	reverse := &stubExecutor{direction: DirectionReverse, preflightErr: errors.New("token expired")}
	orchestrator, err := NewOrchestrator(OrchestratorConfig{Reverse: reverse})
	require.NoError(t, err)

	_, err = orchestrator.Run(context.Background(), Request{Direction: DirectionReverse})
	var serviceErr *ServiceError
	require.True(t, errors.As(err, &serviceErr))
	assert.Equal(t, "syncer.run.preflight_failed", serviceErr.Code())
	calls, _ := reverse.snapshot()
	assert.Empty(t, calls)

	_, err = orchestrator.Run(context.Background(), Request{Direction: DirectionForward})
	require.True(t, errors.As(err, &serviceErr))
	assert.Equal(t, "syncer.run.missing_dependency", serviceErr.Code())
}

func TestRunFailsWhenTablesCannotBeEnsured(t *testing.T) {
	forward := &stubExecutor{direction: DirectionForward}
	orchestrator, err := NewOrchestrator(OrchestratorConfig{
		EnsureTables: func(context.Context) error { return errors.New("permission denied") },
		Forward:      forward,
	})
	require.NoError(t, err)

	_, err = orchestrator.Run(context.Background(), Request{})
	require.Error(t, err)
	calls, _ := forward.snapshot()
	assert.Empty(t, calls)
}

func TestRunRejectsOverlap(t *testing.T) {
	forward := &stubExecutor{direction: DirectionForward, block: make(chan struct{}), entered: make(chan struct{}, 1)}
	orchestrator, err := NewOrchestrator(OrchestratorConfig{Forward: forward})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, runErr := orchestrator.Run(context.Background(), Request{})
		done <- runErr
	}()
	<-forward.entered
	assert.True(t, orchestrator.Running())

	_, err = orchestrator.Run(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(forward.block)
	require.NoError(t, <-done)
	assert.False(t, orchestrator.Running())
}

func TestWatchRunsFullThenIncrementalUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	forward := &stubExecutor{
		direction: DirectionForward,
		notesErr:  errors.New("transient"),
		entered:   make(chan struct{}, 8),
	}
	orchestrator, err := NewOrchestrator(OrchestratorConfig{Forward: forward})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- orchestrator.Watch(ctx, Request{Direction: DirectionForward}, 5*time.Millisecond)
	}()

	for range 3 {
		select {
		case <-forward.entered:
		case <-time.After(2 * time.Second):
			t.Fatalf("watch loop stalled")
		}
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("watch loop did not stop after cancellation")
	}

	_, fulls := forward.snapshot()
	require.GreaterOrEqual(t, len(fulls), 3)
	assert.True(t, fulls[0], "the first watch run is a full sync")
	for _, full := range fulls[1:] {
		assert.False(t, full)
	}
}
