package job

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mleenorris/ComicMaintainer-sub003/internal/catalog"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/metrics"
)

// Publisher fans a progress event out to observers. A returned error
// means at least one delivery was dropped.
type Publisher interface {
	Publish(evt catalog.Event) error
}

// Invalidator marks a derived cache entry stale after a mutation.
type Invalidator interface {
	Invalidate(ctx context.Context, key string) error
}

// Config controls Executor behavior.
type Config struct {
	// Workers bounds how many jobs execute concurrently.
	Workers int
	// TerminalPublishAttempts bounds the retry loop for the terminal
	// broadcast, the one event whose loss strands observers.
	TerminalPublishAttempts int
	// TerminalPublishBackoff is the fixed delay between those attempts.
	TerminalPublishBackoff time.Duration
	// MutationKey names the cache entry invalidated after item mutations.
	MutationKey string
}

const (
	defaultWorkers          = 2
	defaultTerminalAttempts = 3
	defaultTerminalBackoff  = 250 * time.Millisecond
)

// Executor runs batches on a bounded worker pool disjoint from request
// handlers. Each job is mutated only by the goroutine that owns it.
type Executor struct {
	registry    *Registry
	publisher   Publisher
	processor   catalog.ItemProcessor
	clock       catalog.Clock
	ids         catalog.IDGenerator
	invalidator Invalidator
	cfg         Config
	logger      *zap.Logger

	sem     chan struct{}
	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc

	mu      sync.Mutex
	cancels map[string]*atomic.Bool
}

// NewExecutor constructs an Executor. invalidator may be nil.
func NewExecutor(
	registry *Registry,
	publisher Publisher,
	processor catalog.ItemProcessor,
	clock catalog.Clock,
	ids catalog.IDGenerator,
	invalidator Invalidator,
	cfg Config,
	logger *zap.Logger,
) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.TerminalPublishAttempts <= 0 {
		cfg.TerminalPublishAttempts = defaultTerminalAttempts
	}
	if cfg.TerminalPublishBackoff <= 0 {
		cfg.TerminalPublishBackoff = defaultTerminalBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &Executor{
		registry:    registry,
		publisher:   publisher,
		processor:   processor,
		clock:       clock,
		ids:         ids,
		invalidator: invalidator,
		cfg:         cfg,
		logger:      logger,
		sem:         make(chan struct{}, cfg.Workers),
		baseCtx:     baseCtx,
		stop:        stop,
		cancels:     make(map[string]*atomic.Bool),
	}
}

// Submit creates a Queued job and schedules execution without blocking
// the caller. An empty item list is a no-op success: it returns the
// zero-value id and allocates no registry entry.
func (e *Executor) Submit(ctx context.Context, items []string) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	id, err := e.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	job := catalog.Job{
		ID:            id,
		Status:        catalog.JobStatusQueued,
		Total:         len(items),
		CreatedAt:     e.clock.Now(),
		PerItemErrors: map[string]string{},
	}
	if err := e.registry.Create(ctx, job); err != nil {
		return "", err
	}
	flag := &atomic.Bool{}
	e.mu.Lock()
	e.cancels[id] = flag
	e.mu.Unlock()

	batch := make([]string, len(items))
	copy(batch, items)
	e.wg.Add(1)
	go e.run(id, batch, flag)
	return id, nil
}

// Status returns the durable job record; ErrNotFound covers unknown and
// malformed ids alike.
func (e *Executor) Status(ctx context.Context, id string) (catalog.Job, error) {
	return e.registry.Get(ctx, id)
}

// List returns every stored job record.
func (e *Executor) List(ctx context.Context) ([]catalog.Job, error) {
	return e.registry.List(ctx)
}

// Cancel requests cooperative cancellation. In-flight item work is not
// preempted; the flag is checked between items. Cancelling a terminal
// job is a no-op success.
func (e *Executor) Cancel(ctx context.Context, id string) error {
	job, err := e.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	e.mu.Lock()
	flag, owned := e.cancels[id]
	e.mu.Unlock()
	if owned {
		flag.Store(true)
	}
	// Durable marker reaches the owning process when the cancel request
	// landed on a different worker process.
	return e.registry.RequestCancel(ctx, id)
}

// Shutdown stops accepting item work and waits for in-flight jobs.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.stop()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor shutdown wait: %w", ctx.Err())
	}
}

func (e *Executor) run(id string, items []string, flag *atomic.Bool) {
	defer e.wg.Done()
	select {
	case e.sem <- struct{}{}:
	case <-e.baseCtx.Done():
		return
	}
	defer func() { <-e.sem }()
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctx := e.baseCtx
	job, err := e.registry.Get(ctx, id)
	if err != nil {
		e.logger.Error("load queued job failed", zap.String("job_id", id), zap.Error(err))
		return
	}

	started := e.clock.Now()
	job.Status = catalog.JobStatusRunning
	job.StartedAt = &started
	var controlErr error
	if err := e.registry.Update(ctx, job); err != nil {
		controlErr = err
	} else {
		e.publishProgress(catalog.JobUpdated(job, e.clock.Now()))
	}

	cancelled := false
	for _, item := range items {
		if controlErr != nil {
			break
		}
		if e.cancelObserved(ctx, id, flag) {
			cancelled = true
			break
		}
		job.CurrentItem = item
		itemErr := e.processItem(ctx, item)
		job.Processed++
		var itemErrText string
		if itemErr != nil {
			job.Failed++
			itemErrText = itemErr.Error()
			job.PerItemErrors[item] = itemErrText
			metrics.ObserveItem("failed")
		} else {
			job.Succeeded++
			metrics.ObserveItem("succeeded")
			e.invalidate(ctx, id)
		}
		if err := e.registry.Update(ctx, job); err != nil {
			controlErr = err
			break
		}
		now := e.clock.Now()
		e.publishProgress(catalog.FileProcessed(job, item, itemErrText, now))
		e.publishProgress(catalog.JobUpdated(job, now))
	}

	e.finish(ctx, job, controlErr, cancelled)
	e.mu.Lock()
	delete(e.cancels, id)
	e.mu.Unlock()
}

// cancelObserved checks the local flag first and falls back to the
// durable marker so cancels from sibling processes are honored.
func (e *Executor) cancelObserved(ctx context.Context, id string, flag *atomic.Bool) bool {
	if flag.Load() {
		return true
	}
	requested, err := e.registry.CancelRequested(ctx, id)
	if err != nil {
		e.logger.Warn("cancel marker check failed", zap.String("job_id", id), zap.Error(err))
		return false
	}
	return requested
}

// processItem converts a processor panic into a per-item error; one bad
// item never aborts the batch.
func (e *Executor) processItem(ctx context.Context, item string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("item processing panicked: %v", rec)
		}
	}()
	return e.processor.Process(ctx, item)
}

// finish performs the single terminal transition. Job-level failure is
// reserved for control-loop errors; a batch with failed items still ends
// Completed.
func (e *Executor) finish(ctx context.Context, job catalog.Job, controlErr error, cancelled bool) {
	completed := e.clock.Now()
	switch {
	case controlErr != nil:
		job.Status = catalog.JobStatusFailed
		job.ErrorDetail = controlErr.Error()
	case cancelled:
		job.Status = catalog.JobStatusCancelled
	default:
		job.Status = catalog.JobStatusCompleted
	}
	job.CurrentItem = ""
	job.CompletedAt = &completed

	if err := e.persistTerminal(ctx, job); err != nil {
		e.logger.Error("terminal job update failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	if err := e.registry.ClearCancel(ctx, job.ID); err != nil {
		e.logger.Warn("clear cancel marker failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	e.publishTerminal(catalog.JobUpdated(job, e.clock.Now()))
	metrics.ObserveJob(string(job.Status))
	e.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
		zap.Int("succeeded", job.Succeeded),
		zap.Int("failed", job.Failed),
	)
}

func (e *Executor) persistTerminal(ctx context.Context, job catalog.Job) error {
	var err error
	for attempt := 0; attempt < e.cfg.TerminalPublishAttempts; attempt++ {
		if err = e.registry.Update(ctx, job); err == nil {
			return nil
		}
		if !e.backoff(ctx) {
			break
		}
	}
	return err
}

// publishTerminal retries the terminal broadcast with a bounded attempt
// count. If every attempt fails, observers recover via the pull path; the
// registry already reflects the terminal state.
func (e *Executor) publishTerminal(evt catalog.Event) {
	var err error
	for attempt := 0; attempt < e.cfg.TerminalPublishAttempts; attempt++ {
		if err = e.publisher.Publish(evt); err == nil {
			return
		}
		if attempt < e.cfg.TerminalPublishAttempts-1 && !e.backoff(e.baseCtx) {
			break
		}
	}
	e.logger.Error("terminal broadcast failed after retries",
		zap.String("job_id", evt.JobID),
		zap.Int("attempts", e.cfg.TerminalPublishAttempts),
		zap.Error(err),
	)
}

func (e *Executor) backoff(ctx context.Context) bool {
	timer := time.NewTimer(e.cfg.TerminalPublishBackoff)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// publishProgress is fire-and-forget: losing a non-terminal event only
// delays observers until the next event or watchdog pull.
func (e *Executor) publishProgress(evt catalog.Event) {
	if err := e.publisher.Publish(evt); err != nil {
		e.logger.Debug("progress publish dropped", zap.String("job_id", evt.JobID), zap.Error(err))
	}
}

func (e *Executor) invalidate(ctx context.Context, jobID string) {
	if e.invalidator == nil || e.cfg.MutationKey == "" {
		return
	}
	if err := e.invalidator.Invalidate(ctx, e.cfg.MutationKey); err != nil {
		e.logger.Warn("cache invalidation failed", zap.String("job_id", jobID), zap.Error(err))
	}
}
