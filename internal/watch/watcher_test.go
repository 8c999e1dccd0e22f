package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mleenorris/ComicMaintainer-sub003/internal/activejob"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/catalog"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/job"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/store/memory"
)

const (
	watchJobID      = "0190b0a2-3333-7ccc-8ccc-5c5c5c5c5c5c"
	otherWatchJobID = "0190b0a2-4444-7ddd-8ddd-6d6d6d6d6d6d"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type fakePuller struct {
	mu    sync.Mutex
	jobs  map[string]catalog.Job
	calls int
}

func (p *fakePuller) Status(_ context.Context, id string) (catalog.Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	got, ok := p.jobs[id]
	if !ok {
		return catalog.Job{}, job.ErrNotFound
	}
	return got, nil
}

func (p *fakePuller) pullCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakePuller) set(j catalog.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs[j.ID] = j
}

type completionRecorder struct {
	mu   sync.Mutex
	jobs []catalog.Job
}

func (c *completionRecorder) record(j catalog.Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, j)
}

func (c *completionRecorder) completed() []catalog.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]catalog.Job, len(c.jobs))
	copy(out, c.jobs)
	return out
}

func newTestWatcher(t *testing.T, cfg Config) (*Watcher, *activejob.Manager, *fakePuller, *completionRecorder) {
	t.Helper()
	st := memory.New()
	pointer := activejob.NewManager(st, systemClock{}, zap.NewNop())
	puller := &fakePuller{jobs: map[string]catalog.Job{}}
	recorder := &completionRecorder{}
	w := NewWatcher(pointer, puller, systemClock{}, recorder.record, cfg, zap.NewNop())
	return w, pointer, puller, recorder
}

func TestWatcher_ResumeWithoutPointerIsNoop(t *testing.T) {
	t.Parallel()

	w, _, puller, _ := newTestWatcher(t, Config{})
	require.NoError(t, w.Resume(context.Background()))
	require.Zero(t, puller.pullCount())

	_, active := w.Snapshot()
	require.False(t, active)
}

func TestWatcher_ResumePullsPointedJob(t *testing.T) {
	t.Parallel()

	w, pointer, puller, _ := newTestWatcher(t, Config{})
	ctx := context.Background()

	puller.set(catalog.Job{ID: watchJobID, Status: catalog.JobStatusRunning, Total: 10, Processed: 4})
	require.NoError(t, pointer.Set(ctx, watchJobID, "Normalize tags"))

	require.NoError(t, w.Resume(ctx))

	view, active := w.Snapshot()
	require.True(t, active)
	require.Equal(t, watchJobID, view.ID)
	require.Equal(t, 4, view.Processed)
}

func TestWatcher_ResumeMalformedPointerClearedSilently(t *testing.T) {
	t.Parallel()

	st := memory.New()
	pointer := activejob.NewManager(st, systemClock{}, zap.NewNop())
	puller := &fakePuller{jobs: map[string]catalog.Job{}}
	w := NewWatcher(pointer, puller, systemClock{}, nil, Config{}, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, activejob.Key, `{"job_id":"definitely-not-a-uuid"}`))

	require.NoError(t, w.Resume(ctx))
	require.Zero(t, puller.pullCount())

	_, err := st.Get(ctx, activejob.Key)
	require.Error(t, err)
}

func TestWatcher_ResumeStalePointerToMissingJob(t *testing.T) {
	t.Parallel()

	w, pointer, _, recorder := newTestWatcher(t, Config{})
	ctx := context.Background()

	require.NoError(t, pointer.Set(ctx, watchJobID, "Normalize tags"))
	require.NoError(t, w.Resume(ctx))

	_, ok, err := pointer.Get(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, recorder.completed())

	_, active := w.Snapshot()
	require.False(t, active)
}

func TestWatcher_PulledTerminalRunsCompletionAndClearsPointer(t *testing.T) {
	t.Parallel()

	w, pointer, puller, recorder := newTestWatcher(t, Config{})
	ctx := context.Background()

	puller.set(catalog.Job{ID: watchJobID, Status: catalog.JobStatusCompleted, Total: 3, Processed: 3, Succeeded: 3})
	require.NoError(t, pointer.Set(ctx, watchJobID, "Normalize tags"))

	require.NoError(t, w.OnConnected(ctx))

	done := recorder.completed()
	require.Len(t, done, 1)
	require.Equal(t, catalog.JobStatusCompleted, done[0].Status)

	_, ok, err := pointer.Get(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	_, active := w.Snapshot()
	require.False(t, active)
}

func TestWatcher_PushedTerminalEventRunsCompletion(t *testing.T) {
	t.Parallel()

	w, pointer, _, recorder := newTestWatcher(t, Config{})
	ctx := context.Background()
	require.NoError(t, pointer.Set(ctx, watchJobID, "Normalize tags"))

	w.ObserveEvent(ctx, catalog.Event{
		Type:      catalog.EventJobUpdated,
		TS:        time.Now().UTC(),
		JobID:     watchJobID,
		Status:    catalog.JobStatusRunning,
		Processed: 1,
		Total:     2,
	})
	_, active := w.Snapshot()
	require.True(t, active)

	w.ObserveEvent(ctx, catalog.Event{
		Type:      catalog.EventJobUpdated,
		TS:        time.Now().UTC(),
		JobID:     watchJobID,
		Status:    catalog.JobStatusCompleted,
		Processed: 2,
		Total:     2,
	})

	require.Len(t, recorder.completed(), 1)
	_, ok, err := pointer.Get(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWatcher_WatchdogPullsAfterSilence(t *testing.T) {
	t.Parallel()

	w, _, puller, _ := newTestWatcher(t, Config{
		Interval:   10 * time.Millisecond,
		StaleAfter: 20 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	puller.set(catalog.Job{ID: watchJobID, Status: catalog.JobStatusRunning, Total: 5, Processed: 2})

	// One push event, then silence; the watchdog must pull on its own.
	w.ObserveEvent(ctx, catalog.Event{
		Type:   catalog.EventJobUpdated,
		TS:     time.Now().UTC(),
		JobID:  watchJobID,
		Status: catalog.JobStatusRunning,
		Total:  5,
	})

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return puller.pullCount() > 0
	}, time.Second, 5*time.Millisecond)

	view, _ := w.Snapshot()
	require.Equal(t, 2, view.Processed, "pulled state replaces the push view")
}

func TestWatcher_ForeignJobEventsDoNotFeedWatchdog(t *testing.T) {
	t.Parallel()

	w, _, puller, _ := newTestWatcher(t, Config{
		Interval:   10 * time.Millisecond,
		StaleAfter: 20 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	puller.set(catalog.Job{ID: watchJobID, Status: catalog.JobStatusRunning, Total: 5, Processed: 3})

	w.ObserveEvent(ctx, catalog.Event{
		Type:   catalog.EventJobUpdated,
		TS:     time.Now().UTC(),
		JobID:  watchJobID,
		Status: catalog.JobStatusRunning,
		Total:  5,
	})

	go w.Run(ctx)

	// A steady stream of events for another job must not keep the
	// tracked job's watchdog fed.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				w.ObserveEvent(ctx, catalog.Event{
					Type:   catalog.EventJobUpdated,
					TS:     time.Now().UTC(),
					JobID:  otherWatchJobID,
					Status: catalog.JobStatusRunning,
					Total:  2,
				})
			}
		}
	}()

	require.Eventually(t, func() bool {
		return puller.pullCount() > 0
	}, time.Second, 5*time.Millisecond)
}

func TestWatcher_PulledStateWinsOverPush(t *testing.T) {
	t.Parallel()

	w, _, puller, _ := newTestWatcher(t, Config{})
	ctx := context.Background()

	// Push says 1/5; the registry already knows 4/5.
	w.ObserveEvent(ctx, catalog.Event{
		Type:      catalog.EventJobUpdated,
		TS:        time.Now().UTC(),
		JobID:     watchJobID,
		Status:    catalog.JobStatusRunning,
		Processed: 1,
		Total:     5,
	})
	puller.set(catalog.Job{ID: watchJobID, Status: catalog.JobStatusRunning, Total: 5, Processed: 4})

	require.NoError(t, w.reconcile(ctx, watchJobID))

	view, active := w.Snapshot()
	require.True(t, active)
	require.Equal(t, 4, view.Processed)
}
