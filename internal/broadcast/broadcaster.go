// Package broadcast fans progress events out to connected observers over
// buffered channels. Delivery is best effort per channel: a slow or dead
// observer is pruned rather than allowed to block the others.
package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mleenorris/ComicMaintainer-sub003/internal/catalog"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/metrics"
)

// Config controls buffering and per-channel delivery for the Broadcaster.
//   - BufferSize: per-subscriber channel capacity (default 64).
//   - SendTimeout: how long one delivery may wait on a full channel before
//     the subscriber is pruned (default 100ms).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize  int
	SendTimeout time.Duration
	Logger      *zap.Logger
}

const (
	defaultBufferSize  = 64
	defaultSendTimeout = 100 * time.Millisecond
	dropLogInterval    = 5 * time.Second
)

// Broadcaster is a fan-out push channel. It is safe for concurrent use
// and never blocks a publisher past the per-channel send timeout.
type Broadcaster struct {
	cfg    Config
	logger *zap.Logger

	mu   sync.Mutex
	subs map[*Subscription]struct{}

	dropped     atomic.Int64
	dropLimiter rateLimiter
	closed      atomic.Bool
}

// New initializes a Broadcaster ready to accept subscribers.
func New(cfg Config) *Broadcaster {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		cfg:         cfg,
		logger:      logger,
		subs:        make(map[*Subscription]struct{}),
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
}

// Subscription is one observer's receive side. Registration is
// independent of job identity: an empty jobID subscribes to all events.
type Subscription struct {
	jobID string
	ch    chan catalog.Event
	done  chan struct{}
	once  sync.Once
	b     *Broadcaster
}

// C returns the event channel. It is never closed; select on Done to
// detect teardown.
func (s *Subscription) C() <-chan catalog.Event {
	return s.ch
}

// Done is closed when the subscription ends, whether by Close or by a
// publisher pruning the channel.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close unregisters the subscription. Safe to call multiple times.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.b.remove(s)
	})
}

// Subscribe registers a new observer channel. jobID scopes delivery to a
// single job; empty receives every event.
func (b *Broadcaster) Subscribe(jobID string) *Subscription {
	sub := &Subscription{
		jobID: jobID,
		ch:    make(chan catalog.Event, b.cfg.BufferSize),
		done:  make(chan struct{}),
		b:     b,
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish fans the event out to all matching subscribers. A subscriber
// whose channel stays full past the send timeout is pruned. The returned
// error reports that at least one delivery was dropped; callers other
// than the terminal publish site may ignore it.
func (b *Broadcaster) Publish(evt catalog.Event) error {
	if b == nil || b.closed.Load() {
		return nil
	}
	if err := evt.Validate(); err != nil {
		b.logger.Debug("discarding invalid progress event", zap.Error(err))
		return nil
	}

	b.mu.Lock()
	targets := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		if sub.jobID == "" || sub.jobID == evt.JobID || evt.JobID == "" {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	var droppedNow int64
	for _, sub := range targets {
		if !b.deliver(sub, evt) {
			droppedNow++
		}
	}
	if droppedNow == 0 {
		return nil
	}
	metrics.ObserveEventsDropped(droppedNow)
	b.dropped.Add(droppedNow)
	if b.dropLimiter.Allow(time.Now()) {
		count := b.dropped.Swap(0)
		b.logger.Warn("progress events dropped, slow observers pruned", zap.Int64("dropped", count))
	}
	return ErrDropped
}

func (b *Broadcaster) deliver(sub *Subscription, evt catalog.Event) bool {
	select {
	case <-sub.done:
		return true
	case sub.ch <- evt:
		return true
	default:
	}
	timer := time.NewTimer(b.cfg.SendTimeout)
	defer timer.Stop()
	select {
	case <-sub.done:
		return true
	case sub.ch <- evt:
		return true
	case <-timer.C:
		sub.Close()
		return false
	}
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// SubscriberCount reports the number of registered observers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close tears down every subscription and rejects further publishes.
func (b *Broadcaster) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
