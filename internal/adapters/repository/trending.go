package repository

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/okian/voyage/internal/domain/types"
)

// Treap-based trending index.
//
// Ordering: trending score DESC, then destination id ASC (deterministic).
// "less" means ranks earlier, so in-order traversal yields the trending list
// from hottest to coldest. Node sizes give Rank in O(log n).

type node struct {
	id    string
	score float64
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less reports whether (aScore, aID) ranks before (bScore, bID).
func less(aScore float64, aID string, bScore float64, bID string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, score float64, prio uint64) *node {
	if n == nil {
		return &node{id: id, score: score, prio: prio, size: 1}
	}
	if less(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, score float64) *node {
	if n == nil {
		return nil
	}
	switch {
	case score == n.score && id == n.id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, score)
		}
	case less(score, id, n.score, n.id):
		n.left = deleteNode(n.left, id, score)
	default:
		n.right = deleteNode(n.right, id, score)
	}
	fix(n)
	return n
}

// collectTopN appends up to limit ids in rank order.
func collectTopN(n *node, limit int, out *[]*node) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, n)
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

// rankOf returns the 1-based position of (id, score).
func rankOf(n *node, id string, score float64) int {
	rank := 0
	for n != nil {
		switch {
		case n.id == id && n.score == score:
			return rank + nsize(n.left) + 1
		case less(score, id, n.score, n.id):
			n = n.left
		default:
			rank += nsize(n.left) + 1
			n = n.right
		}
	}
	return 0
}

// trendingSnapshot is an immutable top-K view published after each batch.
type trendingSnapshot struct {
	top []types.TrendingEntry
}

// TrendingIndex orders destinations by persisted trending score.
type TrendingIndex struct {
	mu       sync.RWMutex
	root     *node
	byID     map[string]float64
	names    map[string][2]string // id -> name, slug
	topSize  int
	snapshot atomic.Pointer[trendingSnapshot]
}

// NewTrendingIndex creates an index that caches the leading topSize entries.
func NewTrendingIndex(topSize int) *TrendingIndex {
	if topSize <= 0 {
		topSize = 100
	}
	t := &TrendingIndex{
		byID:    make(map[string]float64),
		names:   make(map[string][2]string),
		topSize: topSize,
	}
	t.snapshot.Store(&trendingSnapshot{})
	return t
}

// Describe records display fields for a destination.
func (t *TrendingIndex) Describe(id, name, slug string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.names[id] = [2]string{name, slug}
	if _, ok := t.byID[id]; ok {
		t.publishLocked()
	}
}

// Set places id at score, replacing any previous score.
func (t *TrendingIndex) Set(id string, score float64) {
	t.mu.Lock()
	t.setLocked(id, score)
	t.publishLocked()
	t.mu.Unlock()
}

// SetAll applies a batch of scores and publishes one snapshot.
func (t *TrendingIndex) SetAll(scores map[string]float64) {
	t.mu.Lock()
	for id, s := range scores {
		t.setLocked(id, s)
	}
	t.publishLocked()
	t.mu.Unlock()
}

func (t *TrendingIndex) setLocked(id string, score float64) {
	if old, ok := t.byID[id]; ok {
		if old == score {
			return
		}
		t.root = deleteNode(t.root, id, old)
	}
	t.byID[id] = score
	t.root = insert(t.root, id, score, rand.Uint64()) //nolint:gosec // treap priority, not security
}

// Remove drops id from the index.
func (t *TrendingIndex) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old, ok := t.byID[id]
	if !ok {
		return
	}
	t.root = deleteNode(t.root, id, old)
	delete(t.byID, id)
	delete(t.names, id)
	t.publishLocked()
}

func (t *TrendingIndex) entry(n *node, rank int) types.TrendingEntry {
	meta := t.names[n.id]
	return types.TrendingEntry{
		Rank:          rank,
		DestinationID: n.id,
		Name:          meta[0],
		Slug:          meta[1],
		TrendingScore: n.score,
	}
}

// publishLocked must be called with t.mu held.
func (t *TrendingIndex) publishLocked() {
	nodes := make([]*node, 0, t.topSize)
	collectTopN(t.root, t.topSize, &nodes)
	top := make([]types.TrendingEntry, len(nodes))
	for i, n := range nodes {
		top[i] = t.entry(n, i+1)
	}
	t.snapshot.Store(&trendingSnapshot{top: top})
}

// TopN returns the n hottest destinations. Requests within the cached window
// are served from the snapshot without locking.
func (t *TrendingIndex) TopN(n int) ([]types.TrendingEntry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	if snap := t.snapshot.Load(); n <= t.topSize || len(snap.top) < t.topSize {
		top := snap.top
		if n > len(top) {
			n = len(top)
		}
		out := make([]types.TrendingEntry, n)
		copy(out, top[:n])
		return out, nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	nodes := make([]*node, 0, n)
	collectTopN(t.root, n, &nodes)
	out := make([]types.TrendingEntry, len(nodes))
	for i, nd := range nodes {
		out[i] = t.entry(nd, i+1)
	}
	return out, nil
}

// Rank returns the 1-based trending position of id.
func (t *TrendingIndex) Rank(id string) (types.TrendingEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	score, ok := t.byID[id]
	if !ok {
		return types.TrendingEntry{}, ErrNotFound
	}
	meta := t.names[id]
	return types.TrendingEntry{
		Rank:          rankOf(t.root, id, score),
		DestinationID: id,
		Name:          meta[0],
		Slug:          meta[1],
		TrendingScore: score,
	}, nil
}

// Score returns the stored score, zero when unknown.
func (t *TrendingIndex) Score(id string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byID[id]
}

// Len returns the number of indexed destinations.
func (t *TrendingIndex) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}
