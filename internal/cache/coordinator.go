// Package cache coordinates rebuilds of an expensive derived view across
// worker processes. A short TTL lease keeps one invalidation to one
// rebuild; every other caller gets the fresh payload, the immediately
// prior stale one, or a lock-free cold-start build. No caller ever waits
// on another rebuilder.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mleenorris/ComicMaintainer-sub003/internal/catalog"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/metrics"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/store"
)

// Entry is the durable cache record. A stale entry remains a valid
// answer and is never treated as an error.
type Entry struct {
	InputsHash string    `json:"inputs_hash"`
	BuiltAt    time.Time `json:"built_at"`
	Payload    []byte    `json:"payload"`
}

// Builder produces a fresh payload.
type Builder func(ctx context.Context) ([]byte, error)

// Config controls lease behavior.
//   - LockTimeout: the longest a caller waits for the rebuild lease
//     before falling back (default 100ms).
//   - LeaseTTL: lease lifetime; a crashed holder expires and cannot
//     deadlock the system (default 30s).
//   - RetryInterval: polling step while waiting on the lease
//     (default 10ms).
type Config struct {
	LockTimeout   time.Duration
	LeaseTTL      time.Duration
	RetryInterval time.Duration
	Logger        *zap.Logger
}

const (
	defaultLockTimeout   = 100 * time.Millisecond
	defaultLeaseTTL      = 30 * time.Second
	defaultRetryInterval = 10 * time.Millisecond

	entryKeyPrefix = "cache/"
	leasePrefix    = "cache-rebuild/"
)

// Coordinator implements getOrRebuild over the shared store.
type Coordinator struct {
	store  store.Store
	clock  catalog.Clock
	owner  string
	seq    atomic.Int64
	cfg    Config
	logger *zap.Logger
}

// NewCoordinator constructs a Coordinator. owner identifies this process
// instance as the lease holder.
func NewCoordinator(st store.Store, clock catalog.Clock, owner string, cfg Config) *Coordinator {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{store: st, clock: clock, owner: owner, cfg: cfg, logger: logger}
}

// GetOrRebuild returns the cached payload when its inputs hash matches,
// otherwise rebuilds under the lease or degrades per the non-blocking
// rules: stale-serve when another rebuilder holds the lease, lock-free
// build on a cold start.
func (c *Coordinator) GetOrRebuild(ctx context.Context, key, inputsHash string, build Builder) ([]byte, error) {
	entry, found, err := c.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if found && inputsHash != "" && entry.InputsHash == inputsHash {
		return entry.Payload, nil
	}

	holder, acquired, err := c.tryLease(ctx, key)
	if err != nil {
		return nil, err
	}
	if acquired {
		defer c.releaseLease(ctx, key, holder)
		// Another winner may have finished while we waited on the lease.
		if entry, found, err = c.load(ctx, key); err == nil && found && inputsHash != "" && entry.InputsHash == inputsHash {
			return entry.Payload, nil
		}
		return c.rebuild(ctx, key, inputsHash, build)
	}

	if found {
		metrics.ObserveCacheStaleServe()
		c.logger.Debug("serving stale cache entry during rebuild",
			zap.String("key", key), zap.Time("built_at", entry.BuiltAt))
		return entry.Payload, nil
	}

	// Cold start with the lease held elsewhere: duplicated build work is
	// preferred over an availability stall.
	c.logger.Debug("cold-start build without lease", zap.String("key", key))
	return c.rebuild(ctx, key, inputsHash, build)
}

// Invalidate marks the entry stale while keeping its payload available
// for stale-serve. It is called only on explicit mutation events.
func (c *Coordinator) Invalidate(ctx context.Context, key string) error {
	entry, found, err := c.load(ctx, key)
	if err != nil || !found {
		return err
	}
	entry.InputsHash = ""
	return c.save(ctx, key, entry)
}

func (c *Coordinator) rebuild(ctx context.Context, key, inputsHash string, build Builder) ([]byte, error) {
	payload, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebuild cache %q: %w", key, err)
	}
	entry := Entry{InputsHash: inputsHash, BuiltAt: c.clock.Now(), Payload: payload}
	if err := c.save(ctx, key, entry); err != nil {
		// The payload is still good; persisting it is best effort.
		c.logger.Warn("store rebuilt cache entry failed", zap.String("key", key), zap.Error(err))
	}
	metrics.ObserveCacheRebuild()
	return payload, nil
}

func (c *Coordinator) load(ctx context.Context, key string) (Entry, bool, error) {
	row, err := c.store.Get(ctx, entryKeyPrefix+key)
	if errors.Is(err, store.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("load cache %q: %w", key, err)
	}
	var entry Entry
	if err := json.Unmarshal([]byte(row.Value), &entry); err != nil {
		// An undecodable entry is equivalent to a cold cache.
		c.logger.Debug("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (c *Coordinator) save(ctx context.Context, key string, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache %q: %w", key, err)
	}
	if err := c.store.Set(ctx, entryKeyPrefix+key, string(raw)); err != nil {
		return fmt.Errorf("save cache %q: %w", key, err)
	}
	return nil
}

// tryLease polls for the rebuild lease up to the lock timeout. A timeout
// is a normal control-flow branch, not an error. Each call competes
// under its own holder token so concurrent callers within one process
// are serialized the same way sibling processes are.
func (c *Coordinator) tryLease(ctx context.Context, key string) (string, bool, error) {
	holder := c.owner + "/" + strconv.FormatInt(c.seq.Add(1), 10)
	deadline := time.Now().Add(c.cfg.LockTimeout)
	for {
		ok, err := c.store.AcquireLease(ctx, leasePrefix+key, holder, c.cfg.LeaseTTL)
		if err != nil {
			return "", false, fmt.Errorf("acquire rebuild lease %q: %w", key, err)
		}
		if ok {
			return holder, true, nil
		}
		if time.Now().After(deadline) {
			return "", false, nil
		}
		timer := time.NewTimer(c.cfg.RetryInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return "", false, ctx.Err()
		}
	}
}

func (c *Coordinator) releaseLease(ctx context.Context, key, holder string) {
	if err := c.store.ReleaseLease(ctx, leasePrefix+key, holder); err != nil {
		c.logger.Warn("release rebuild lease failed", zap.String("key", key), zap.Error(err))
	}
}

// HashInputs derives a stable hex digest for a set of input parts.
func HashInputs(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
