// Package dedup suppresses re-delivered workflow events. The transport
// only guarantees at-least-once delivery, so this cache is the sole
// ordering-correctness safeguard on the inbound path.
package dedup

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/kvnkishore11/AgenticKanban-sub008/internal/events"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/stage"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/task"
)

const (
	// DefaultTTL is how long a fingerprint suppresses re-delivery.
	DefaultTTL = 5 * time.Minute
	// DefaultMaxEntries bounds cache memory.
	DefaultMaxEntries = 1000
	// DefaultSweepDelay is how long the background sweep waits after the
	// high-water mark is crossed, keeping it off the event-processing path.
	DefaultSweepDelay = 250 * time.Millisecond

	// evictFraction is the share of capacity dropped (oldest first) when
	// the bound is exceeded.
	evictFraction = 0.2
	// highWaterFraction is the fill level that schedules a background
	// TTL sweep.
	highWaterFraction = 0.8
)

// Resolver reports the current stage of the task owning an external ID.
// Used for the stage-mismatch override: a content-identical resend after
// client state loss is only distinguishable from a true duplicate by the
// divergence between recorded state and the stage the event claims.
type Resolver interface {
	CurrentStage(externalID string) (task.Stage, bool)
}

// Options configures a Deduplicator.
type Options struct {
	TTL        time.Duration
	MaxEntries int
	SweepDelay time.Duration
}

type entry struct {
	fp     uint64
	seenAt time.Time
}

// Deduplicator tracks content fingerprints of recently seen events.
// Entries live in an explicit insertion-ordered list so oldest-first
// eviction is well-defined instead of leaning on map iteration order.
type Deduplicator struct {
	mu           sync.Mutex
	entries      map[uint64]*list.Element
	order        *list.List
	ttl          time.Duration
	max          int
	sweepDelay   time.Duration
	sweepPending bool
	sweepTimer   *time.Timer
	resolver     Resolver
	logger       *slog.Logger
	closed       bool

	now func() time.Time // test hook
}

// New creates a deduplicator. The resolver may be nil, which disables the
// stage-mismatch override.
func New(resolver Resolver, opts Options, logger *slog.Logger) *Deduplicator {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.SweepDelay <= 0 {
		opts.SweepDelay = DefaultSweepDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{
		entries:    make(map[uint64]*list.Element),
		order:      list.New(),
		ttl:        opts.TTL,
		max:        opts.MaxEntries,
		sweepDelay: opts.SweepDelay,
		resolver:   resolver,
		logger:     logger,
		now:        time.Now,
	}
}

// IsDuplicate reports whether the event was already seen within the TTL
// window, recording the fingerprint on first sighting. Stage-progress
// events whose encoded target stage disagrees with the task's recorded
// stage are treated as legitimate re-applications: the timestamp is
// refreshed and the event passes through.
func (d *Deduplicator) IsDuplicate(ev events.Inbound) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Self-heal structural corruption (possible after deserializing
	// persisted state): fail open rather than closed.
	if d.entries == nil || d.order == nil {
		d.logger.Warn("dedup cache corrupted, resetting")
		d.entries = make(map[uint64]*list.Element)
		d.order = list.New()
	}

	fp := Fingerprint(ev)
	now := d.now()

	if el, ok := d.entries[fp]; ok {
		e := el.Value.(*entry)
		if now.Sub(e.seenAt) <= d.ttl {
			if d.stageMismatch(ev) {
				e.seenAt = now
				d.order.MoveToBack(el)
				return false
			}
			return true
		}
		// Expired: drop and treat as a first sighting.
		d.order.Remove(el)
		delete(d.entries, fp)
	}

	d.record(fp, now)
	return false
}

// stageMismatch reports whether a status event encodes a target stage that
// differs from the resolved task's current stage.
func (d *Deduplicator) stageMismatch(ev events.Inbound) bool {
	if d.resolver == nil {
		return false
	}
	su, ok := ev.(*events.StatusUpdate)
	if !ok {
		return false
	}
	target, ok := stage.FromStepText(su.CurrentStep)
	if !ok {
		return false
	}
	current, found := d.resolver.CurrentStage(su.AdwID())
	return found && current != target
}

// record must be called with the lock held.
func (d *Deduplicator) record(fp uint64, now time.Time) {
	el := d.order.PushBack(&entry{fp: fp, seenAt: now})
	d.entries[fp] = el

	if len(d.entries) > d.max {
		d.evictOldest()
	}
	if float64(len(d.entries)) > float64(d.max)*highWaterFraction &&
		!d.sweepPending && !d.closed {
		d.sweepPending = true
		d.sweepTimer = time.AfterFunc(d.sweepDelay, d.sweep)
	}
}

// evictOldest drops the oldest ~20% of capacity by insertion recency.
// Must be called with the lock held.
func (d *Deduplicator) evictOldest() {
	n := int(float64(d.max) * evictFraction)
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		front := d.order.Front()
		if front == nil {
			return
		}
		e := front.Value.(*entry)
		d.order.Remove(front)
		delete(d.entries, e.fp)
	}
	d.logger.Debug("dedup cache evicted oldest entries", "evicted", n, "size", len(d.entries))
}

// sweep removes all entries older than the TTL. It runs off the
// event-processing path, scheduled once the cache crosses the high-water
// mark.
func (d *Deduplicator) sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sweepPending = false
	if d.closed || d.order == nil {
		return
	}

	now := d.now()
	removed := 0
	for el := d.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if now.Sub(e.seenAt) > d.ttl {
			d.order.Remove(el)
			delete(d.entries, e.fp)
			removed++
		}
		el = next
	}
	if removed > 0 {
		d.logger.Debug("dedup cache swept expired entries", "removed", removed, "size", len(d.entries))
	}
}

// Reset clears the cache. Called on transport reconnect: duplicate state
// across a reconnect is assumed stale, so all subsequent events are fresh.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[uint64]*list.Element)
	d.order = list.New()
}

// Size returns the number of cached fingerprints.
func (d *Deduplicator) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Close stops any scheduled sweep.
func (d *Deduplicator) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.sweepTimer != nil {
		d.sweepTimer.Stop()
	}
}
