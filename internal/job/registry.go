// Package job implements the durable job registry and the batch executor
// that owns each job's mutations.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mleenorris/ComicMaintainer-sub003/internal/activejob"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/catalog"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/store"
)

// ErrNotFound signals an unknown job. Malformed identifiers map to the
// same error: they are expected client artifacts, not anomalies.
var ErrNotFound = errors.New("job not found")

const (
	jobKeyPrefix    = "job/"
	cancelKeyPrefix = "job-cancel/"
)

// Registry persists Job records in the key-value store. Identifiers are
// validated at every read boundary.
type Registry struct {
	store     store.Store
	clock     catalog.Clock
	logger    *zap.Logger
	retention time.Duration
}

// NewRegistry constructs a Registry. retention bounds how long terminal
// jobs are kept before Sweep reclaims them.
func NewRegistry(st store.Store, clock catalog.Clock, retention time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: st, clock: clock, logger: logger, retention: retention}
}

// Create stores a new job record.
func (r *Registry) Create(ctx context.Context, job catalog.Job) error {
	return r.put(ctx, job)
}

// Update replaces a job record.
func (r *Registry) Update(ctx context.Context, job catalog.Job) error {
	return r.put(ctx, job)
}

func (r *Registry) put(ctx context.Context, job catalog.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	if err := r.store.Set(ctx, jobKeyPrefix+job.ID, string(raw)); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// Get loads a job. Unknown and malformed ids both return ErrNotFound,
// with the malformed case logged at debug level only.
func (r *Registry) Get(ctx context.Context, id string) (catalog.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		r.logger.Debug("malformed job id treated as not found", zap.String("job_id", id))
		return catalog.Job{}, ErrNotFound
	}
	row, err := r.store.Get(ctx, jobKeyPrefix+id)
	if errors.Is(err, store.ErrNotFound) {
		return catalog.Job{}, ErrNotFound
	}
	if err != nil {
		return catalog.Job{}, fmt.Errorf("load job %s: %w", id, err)
	}
	var job catalog.Job
	if err := json.Unmarshal([]byte(row.Value), &job); err != nil {
		return catalog.Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	if job.PerItemErrors == nil {
		// omitempty drops the empty map on save; callers mutate it.
		job.PerItemErrors = map[string]string{}
	}
	return job, nil
}

// List returns every stored job.
func (r *Registry) List(ctx context.Context) ([]catalog.Job, error) {
	rows, err := r.store.List(ctx, jobKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]catalog.Job, 0, len(rows))
	for _, row := range rows {
		var job catalog.Job
		if err := json.Unmarshal([]byte(row.Value), &job); err != nil {
			r.logger.Warn("skipping undecodable job row", zap.String("key", row.Key), zap.Error(err))
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

// Delete removes a job record.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, jobKeyPrefix+id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

// RequestCancel stores the durable cancel marker for a job.
func (r *Registry) RequestCancel(ctx context.Context, id string) error {
	if err := r.store.Set(ctx, cancelKeyPrefix+id, "1"); err != nil {
		return fmt.Errorf("request cancel for job %s: %w", id, err)
	}
	return nil
}

// CancelRequested reports whether a cancel marker exists for the job.
func (r *Registry) CancelRequested(ctx context.Context, id string) (bool, error) {
	_, err := r.store.Get(ctx, cancelKeyPrefix+id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check cancel marker for job %s: %w", id, err)
	}
	return true, nil
}

// ClearCancel removes the cancel marker.
func (r *Registry) ClearCancel(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, cancelKeyPrefix+id); err != nil {
		return fmt.Errorf("clear cancel marker for job %s: %w", id, err)
	}
	return nil
}

// Sweep reclaims terminal jobs older than the retention window and
// clears the active-job pointer when the job it references is terminal
// or gone. Non-terminal jobs are never touched.
func (r *Registry) Sweep(ctx context.Context, pointers *activejob.Manager) error {
	jobs, err := r.List(ctx)
	if err != nil {
		return err
	}
	now := r.clock.Now()
	for _, job := range jobs {
		if !job.Status.Terminal() || job.CompletedAt == nil {
			continue
		}
		if now.Sub(*job.CompletedAt) < r.retention {
			continue
		}
		if err := r.Delete(ctx, job.ID); err != nil {
			return err
		}
		if err := r.ClearCancel(ctx, job.ID); err != nil {
			return err
		}
		r.logger.Info("reclaimed terminal job", zap.String("job_id", job.ID))
	}
	if pointers == nil {
		return nil
	}
	ptr, ok, err := pointers.Get(ctx)
	if err != nil || !ok {
		return err
	}
	pointed, err := r.Get(ctx, ptr.JobID)
	if errors.Is(err, ErrNotFound) {
		return pointers.Clear(ctx)
	}
	if err != nil {
		return err
	}
	if pointed.Status.Terminal() {
		return pointers.ClearIf(ctx, ptr.JobID)
	}
	return nil
}
