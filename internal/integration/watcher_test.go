package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qter21/legal-codes-search-api/internal/async"
	"github.com/qter21/legal-codes-search-api/internal/search"
	codesync "github.com/qter21/legal-codes-search-api/internal/sync"
	"github.com/qter21/legal-codes-search-api/internal/watcher"
)

// TestSourceChangeTriggersSync covers the serve loop: a change to the source
// file is debounced, queues an incremental sync, and the new section becomes
// searchable.
func TestSourceChangeTriggersSync(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a synced pipeline with a scheduler and a source watcher
	p := newPipeline(t, corpus)
	p.sync(t, codesync.ModeIncremental)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sched := async.NewScheduler(p.orch.Run, async.SchedulerConfig{})
	sched.Start(ctx)
	defer sched.Stop()

	w, err := watcher.NewSourceWatcher(p.sourcePath, watcher.Options{DebounceWindow: 100 * time.Millisecond})
	require.NoError(t, err)
	go func() { _ = w.Start(ctx) }()
	defer func() { _ = w.Stop() }()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-w.Events():
				if !ok {
					return
				}
				sched.Trigger(codesync.ModeIncremental)
			}
		}
	}()

	// Let the watcher register before writing.
	time.Sleep(200 * time.Millisecond)

	// When: a new section is appended to the export
	f, err := os.OpenFile(p.sourcePath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"document_id":"veh-23152","code":"VEH","section":"23152","title":"Driving under the influence","content":"It is unlawful for a person who is under the influence of any alcoholic beverage to drive a vehicle.","updated_at":"2024-02-01T00:00:00Z"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Then
	require.Eventually(t, func() bool {
		resp, err := p.engine.Search(ctx, search.Request{Query: "VEH 23152"})
		return err == nil && len(resp.Results) > 0 && resp.Results[0].DocumentID == "veh-23152"
	}, 10*time.Second, 100*time.Millisecond)

	last, err := sched.Last()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.GreaterOrEqual(t, last.Committed, 1)
}
