package syncer

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// Outcome is the result of processing one record.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeCreated
	OutcomeUpdated
	OutcomeUnchanged
)

// Stats tallies the outcomes of one entity batch.
type Stats struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Total returns the number of records seen.
func (s Stats) Total() int {
	return s.Created + s.Updated + s.Unchanged + s.Skipped + s.Errors
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Created += other.Created
	s.Updated += other.Updated
	s.Unchanged += other.Unchanged
	s.Skipped += other.Skipped
	s.Errors += other.Errors
}

func (s *Stats) record(outcome Outcome) {
	switch outcome {
	case OutcomeCreated:
		s.Created++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeUnchanged:
		s.Unchanged++
	default:
		s.Skipped++
	}
}

// processBatch runs work for every item in order. A failing or panicking item
// is logged and counted, and the batch continues. Only context cancellation
// stops the batch early, in which case the context error is returned.
func processBatch[T any](ctx context.Context, logger *zap.Logger, operation string, items []T, identify func(T) string, work func(context.Context, T) (Outcome, error)) (Stats, error) {
	var stats Stats
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		outcome, err := runUnit(ctx, item, work)
		if err != nil {
			stats.Errors++
			logError(logger, operation, "record_failed", err, zap.String("record_id", identify(item)))
			continue
		}
		stats.record(outcome)
	}
	return stats, nil
}

func runUnit[T any](ctx context.Context, item T, work func(context.Context, T) (Outcome, error)) (outcome Outcome, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v\n%s", recovered, debug.Stack())
		}
	}()
	return work(ctx, item)
}
