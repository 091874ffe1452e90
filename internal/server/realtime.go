package server

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/notesync/internal/syncer"
)

const (
	eventStatus    = "status"
	eventHeartbeat = "heartbeat"
)

// RunDispatcher fans run events out to stream subscribers. Slow subscribers
// miss events rather than block the sync run that publishes them.
type RunDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*runSubscriber
	nextID      int64
	bufferSize  int
}

type runSubscriber struct {
	id     int64
	stream chan syncer.RunEvent
}

// NewRunDispatcher constructs an empty dispatcher.
func NewRunDispatcher() *RunDispatcher {
	return &RunDispatcher{
		subscribers: make(map[int64]*runSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream that lives until ctx is done or cleanup runs.
func (d *RunDispatcher) Subscribe(ctx context.Context) (<-chan syncer.RunEvent, func()) {
	subscriber := &runSubscriber{stream: make(chan syncer.RunEvent, d.bufferSize)}
	d.register(subscriber)

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregister(subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Observe publishes a run event to every subscriber without blocking.
func (d *RunDispatcher) Observe(event syncer.RunEvent) {
	if event.Type == "" {
		return
	}
	d.mu.RLock()
	copies := make([]*runSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()

	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of open streams.
func (d *RunDispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

func (d *RunDispatcher) register(subscriber *runSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	subscriber.id = d.nextID
	d.subscribers[subscriber.id] = subscriber
}

func (d *RunDispatcher) unregister(subscriberID int64) {
	d.mu.Lock()
	delete(d.subscribers, subscriberID)
	d.mu.Unlock()
}
