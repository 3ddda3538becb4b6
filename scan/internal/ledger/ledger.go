// Package ledger tracks which (element, content) pairs have already
// been processed during a timeline session.
//
// The dedup key is the composite of CDP backend node identity and
// content fingerprint. A node the page unmounts and remounts comes
// back with a fresh backend ID and is admitted again; a recycled node
// that keeps its identity but receives new content forms a new pair
// and is also admitted. Virtualized timelines do both.
package ledger

import (
	"sync"

	"github.com/verifily/vigil/badge"
	"github.com/verifily/vigil/fingerprint"
)

// ElementID is a CDP backend node ID. Stable for the lifetime of a live
// node, never reused within a page session.
type ElementID = badge.ElementID

type pair struct {
	id ElementID
	fp fingerprint.Identity
}

// Ledger is a bounded admit-once set of (element, fingerprint) pairs.
// Safe for concurrent use.
type Ledger struct {
	mu    sync.Mutex
	seen  map[pair]struct{}
	order []pair
	cap   int
}

// New creates a Ledger holding at most capacity entries; older entries
// are evicted FIFO. capacity <= 0 means 10000.
func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &Ledger{
		seen: make(map[pair]struct{}),
		cap:  capacity,
	}
}

// Admit records the (id, fp) pair and reports whether it is new. True
// exactly once per pair: a second call with the same element and the
// same content returns false, while the same element carrying changed
// content is admitted again.
func (l *Ledger) Admit(id ElementID, fp fingerprint.Identity) bool {
	k := pair{id: id, fp: fp}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[k]; ok {
		return false
	}
	l.seen[k] = struct{}{}
	l.order = append(l.order, k)

	for len(l.order) > l.cap {
		evict := l.order[0]
		l.order = l.order[1:]
		delete(l.seen, evict)
	}
	return true
}

// Seen reports whether the (id, fp) pair was already admitted.
func (l *Ledger) Seen(id ElementID, fp fingerprint.Identity) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[pair{id: id, fp: fp}]
	return ok
}

// Len returns the number of tracked pairs.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
