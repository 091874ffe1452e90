package syncer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestProcessBatchContinuesPastFailures(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	items := []string{"created", "boom", "panic", "skipped", "unchanged", "updated"}

	stats, err := processBatch(context.Background(), zap.New(core), "test.batch", items, func(item string) string { return item },
		func(_ context.Context, item string) (Outcome, error) {
			switch item {
			case "created":
				return OutcomeCreated, nil
			case "updated":
				return OutcomeUpdated, nil
			case "unchanged":
				return OutcomeUnchanged, nil
			case "boom":
				return OutcomeSkipped, errors.New("write failed")
			case "panic":
				panic("unexpected shape")
			default:
				return OutcomeSkipped, nil
			}
		})

	require.NoError(t, err)
	assert.Equal(t, Stats{Created: 1, Updated: 1, Unchanged: 1, Skipped: 1, Errors: 2}, stats)
	assert.Equal(t, 6, stats.Total())

	entries := logs.FilterField(zap.String("record_id", "panic")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "test.batch", entries[0].ContextMap()["operation"])
}

func TestProcessBatchStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	processed := 0

	stats, err := processBatch(ctx, zap.NewNop(), "test.batch", []int{1, 2, 3}, func(int) string { return "" },
		func(context.Context, int) (Outcome, error) {
			processed++
			cancel()
			return OutcomeCreated, nil
		})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, processed)
	assert.Equal(t, Stats{Created: 1}, stats)
}

func TestGateSuppressesWritesInDryRun(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	calls := 0
	write := func(context.Context) error {
		calls++
		return nil
	}

	dryRun := NewGate(false, zap.New(core))
	require.True(t, dryRun.DryRun())
	require.NoError(t, dryRun.Do(context.Background(), "create note", write, zap.String("record_id", "n1")))
	assert.Zero(t, calls)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "dry run: create note", logs.All()[0].Message)
	assert.Equal(t, true, logs.All()[0].ContextMap()["dry_run"])

	live := NewGate(true, nil)
	require.NoError(t, live.Do(context.Background(), "create note", write))
	assert.Equal(t, 1, calls)

	assert.True(t, Gate{}.DryRun())
}
