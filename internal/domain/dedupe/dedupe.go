// Package dedupe tracks identifiers that were already seen.
//
// The service uses it twice: interaction ids are recorded on ingest so client
// retries do not double count signals, and user ids are recorded while a
// single-user precompute task is in flight so concurrent cache misses
// enqueue one task instead of many. In-flight markers can be given a TTL so
// a task lost in transit does not block the user forever.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Deduper records seen IDs.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so it can be recorded again.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper keeps ids in insertion order. When bounded, the oldest id
// is evicted first.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List
	maxSize int           // <= 0 means unbounded
	ttl     time.Duration // <= 0 means ids never expire
	now     func() time.Time
	size    atomic.Int64
}

type record struct {
	id string
	at time.Time
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 50_000,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]*list.Element)
	d.order = list.New()
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.dropExpired(now)
	if el, ok := d.seen[id]; ok {
		rec := el.Value.(*record)
		if d.ttl <= 0 || now.Sub(rec.at) < d.ttl {
			return true
		}
		// Expired: record again as if new.
		rec.at = now
		d.order.MoveToBack(el)
		return false
	}
	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}
	d.seen[id] = d.order.PushBack(&record{id: id, at: now})
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	el, ok := d.seen[id]
	if !ok {
		return
	}
	d.order.Remove(el)
	delete(d.seen, id)
	d.size.Add(-1)
}

// evictOldest must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	front := d.order.Front()
	if front == nil {
		return
	}
	d.order.Remove(front)
	delete(d.seen, front.Value.(*record).id)
	d.size.Add(-1)
}

// dropExpired must be called with d.mu held. Records stay ordered by the
// time they were last recorded, so expired ones are at the front.
func (d *inMemoryDeduper) dropExpired(now time.Time) {
	if d.ttl <= 0 {
		return
	}
	for front := d.order.Front(); front != nil; front = d.order.Front() {
		if now.Sub(front.Value.(*record).at) < d.ttl {
			return
		}
		d.order.Remove(front)
		delete(d.seen, front.Value.(*record).id)
		d.size.Add(-1)
	}
}

func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
