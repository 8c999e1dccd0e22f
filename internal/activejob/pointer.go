// Package activejob persists the singleton pointer telling observer
// sessions which job to resume watching. Discipline is strict: the
// submitter writes it, anyone reads it, and it is cleared exactly when
// the referenced job goes terminal.
package activejob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mleenorris/ComicMaintainer-sub003/internal/catalog"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/store"
)

// Key is the store row holding the pointer.
const Key = "active-job"

// Manager reads and writes the pointer row.
type Manager struct {
	store  store.Store
	clock  catalog.Clock
	logger *zap.Logger
}

// NewManager constructs a Manager.
func NewManager(st store.Store, clock catalog.Clock, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: st, clock: clock, logger: logger}
}

// Get loads the pointer. A missing row yields ok=false. A row that fails
// to decode, or whose job id is not UUID-shaped, is stale client data:
// it is cleared silently (debug log only) and reported as absent.
func (m *Manager) Get(ctx context.Context) (catalog.ActiveJobPointer, bool, error) {
	row, err := m.store.Get(ctx, Key)
	if errors.Is(err, store.ErrNotFound) {
		return catalog.ActiveJobPointer{}, false, nil
	}
	if err != nil {
		return catalog.ActiveJobPointer{}, false, fmt.Errorf("load active-job pointer: %w", err)
	}
	var ptr catalog.ActiveJobPointer
	if err := json.Unmarshal([]byte(row.Value), &ptr); err != nil {
		m.logger.Debug("clearing undecodable active-job pointer", zap.Error(err))
		return catalog.ActiveJobPointer{}, false, m.Clear(ctx)
	}
	if _, err := uuid.Parse(ptr.JobID); err != nil {
		m.logger.Debug("clearing malformed active-job pointer", zap.String("job_id", ptr.JobID))
		return catalog.ActiveJobPointer{}, false, m.Clear(ctx)
	}
	return ptr, true, nil
}

// Set records the pointer for the given job.
func (m *Manager) Set(ctx context.Context, jobID, title string) error {
	ptr := catalog.ActiveJobPointer{
		JobID:     jobID,
		Title:     title,
		UpdatedAt: m.clock.Now(),
	}
	raw, err := json.Marshal(ptr)
	if err != nil {
		return fmt.Errorf("encode active-job pointer: %w", err)
	}
	if err := m.store.Set(ctx, Key, string(raw)); err != nil {
		return fmt.Errorf("save active-job pointer: %w", err)
	}
	return nil
}

// Clear removes the pointer.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.store.Delete(ctx, Key); err != nil {
		return fmt.Errorf("clear active-job pointer: %w", err)
	}
	return nil
}

// ClearIf removes the pointer only when it references jobID.
func (m *Manager) ClearIf(ctx context.Context, jobID string) error {
	ptr, ok, err := m.Get(ctx)
	if err != nil || !ok {
		return err
	}
	if ptr.JobID != jobID {
		return nil
	}
	return m.Clear(ctx)
}
