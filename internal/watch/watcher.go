// Package watch implements the observer-side reconciliation protocol.
// The push channel carries no delivery guarantee, so three independent
// triggers, reconnect, a watchdog timer, and session resume, converge on
// one recovery action: pull authoritative status and reconcile.
package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mleenorris/ComicMaintainer-sub003/internal/activejob"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/catalog"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/job"
)

// Puller fetches the authoritative job record.
type Puller interface {
	Status(ctx context.Context, id string) (catalog.Job, error)
}

// CompletionFunc runs the observer's completion handling for a terminal
// job, identical for pushed and pulled terminal states.
type CompletionFunc func(catalog.Job)

// Config controls watchdog cadence.
//   - Interval: how often the watchdog fires (default 15s).
//   - StaleAfter: silence threshold that triggers a pull (default 60s).
type Config struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

const (
	defaultInterval   = 15 * time.Second
	defaultStaleAfter = 60 * time.Second
)

// Watcher keeps one observer session's view of the active job converged
// with the registry.
type Watcher struct {
	pointer    *activejob.Manager
	puller     Puller
	clock      catalog.Clock
	onComplete CompletionFunc
	cfg        Config
	logger     *zap.Logger

	mu        sync.Mutex
	current   catalog.Job
	active    bool
	lastEvent time.Time
}

// NewWatcher constructs a Watcher. onComplete may be nil.
func NewWatcher(
	pointer *activejob.Manager,
	puller Puller,
	clock catalog.Clock,
	onComplete CompletionFunc,
	cfg Config,
	logger *zap.Logger,
) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		pointer:    pointer,
		puller:     puller,
		clock:      clock,
		onComplete: onComplete,
		cfg:        cfg,
		logger:     logger,
	}
}

// Resume is the session-resume trigger: on observer (re)start, read the
// durable pointer and pull if it references a job. A malformed pointer
// is cleared silently by the pointer manager and treated as absent.
func (w *Watcher) Resume(ctx context.Context) error {
	ptr, ok, err := w.pointer.Get(ctx)
	if err != nil || !ok {
		return err
	}
	return w.reconcile(ctx, ptr.JobID)
}

// OnConnected is the channel re-establishment trigger: pull immediately
// when a pointer exists.
func (w *Watcher) OnConnected(ctx context.Context) error {
	return w.Resume(ctx)
}

// ObserveEvent feeds a pushed event into the local view and resets the
// watchdog. A pushed terminal event runs completion handling directly.
func (w *Watcher) ObserveEvent(ctx context.Context, evt catalog.Event) {
	if evt.Type == catalog.EventWatcherStatus {
		return
	}
	w.mu.Lock()
	if w.current.ID == "" || w.current.ID == evt.JobID {
		// Only events for the tracked (or adopted) job count as
		// liveness; chatter about other jobs must not hold off the
		// watchdog pull.
		w.lastEvent = w.clock.Now()
		w.current.ID = evt.JobID
		w.current.Status = evt.Status
		w.current.Processed = evt.Processed
		w.current.Total = evt.Total
		w.current.Succeeded = evt.Succeeded
		w.current.Failed = evt.Failed
		w.active = !evt.Status.Terminal()
	}
	terminal := evt.Terminal() && w.current.ID == evt.JobID
	snapshot := w.current.Clone()
	w.mu.Unlock()

	if terminal {
		w.complete(ctx, snapshot)
	}
}

// Run drives the watchdog trigger until ctx finishes. While a job is
// believed active, silence past the threshold forces a pull.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watcher) tick(ctx context.Context) {
	w.mu.Lock()
	expired := w.active && w.clock.Now().Sub(w.lastEvent) >= w.cfg.StaleAfter
	id := w.current.ID
	w.mu.Unlock()
	if !expired {
		return
	}
	w.logger.Debug("watchdog expired, pulling authoritative status", zap.String("job_id", id))
	if err := w.reconcile(ctx, id); err != nil {
		w.logger.Warn("watchdog reconcile failed", zap.String("job_id", id), zap.Error(err))
	}
}

// reconcile pulls the registry record and replaces the local view; the
// pulled job always wins over locally buffered push state.
func (w *Watcher) reconcile(ctx context.Context, id string) error {
	pulled, err := w.puller.Status(ctx, id)
	if errors.Is(err, job.ErrNotFound) {
		// The job is gone; whatever the pointer referenced is stale.
		w.mu.Lock()
		w.active = false
		w.current = catalog.Job{}
		w.mu.Unlock()
		return w.pointer.Clear(ctx)
	}
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.current = pulled.Clone()
	w.active = !pulled.Status.Terminal()
	w.lastEvent = w.clock.Now()
	snapshot := w.current.Clone()
	w.mu.Unlock()

	if pulled.Status.Terminal() {
		w.complete(ctx, snapshot)
	}
	return nil
}

// complete runs the observer's completion handling and clears the
// pointer, exactly as it would on receiving the terminal push event.
func (w *Watcher) complete(ctx context.Context, finished catalog.Job) {
	if w.onComplete != nil {
		w.onComplete(finished)
	}
	if err := w.pointer.ClearIf(ctx, finished.ID); err != nil {
		w.logger.Warn("clear pointer after completion failed", zap.String("job_id", finished.ID), zap.Error(err))
	}
	w.mu.Lock()
	w.active = false
	w.mu.Unlock()
}

// Snapshot returns the current local view and whether a job is believed
// active.
func (w *Watcher) Snapshot() (catalog.Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current.Clone(), w.active
}
