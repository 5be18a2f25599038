// Package itemlock provides process-wide per-identifier mutual exclusion
// for the critical sections that check, create, and route work for a
// single item.
package itemlock

import (
	"sync"

	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/modsagraphy/universa/hashid"
)

// entry is a refcounted mutex: the table only holds an entry while at
// least one goroutine is waiting on or holding it, so the table does not
// grow unboundedly as items finish processing.
type entry struct {
	mu  deadlock.Mutex
	ref int
}

// Table is a process-wide mapping from HashId to a mutex.
type Table struct {
	mu      sync.Mutex
	entries map[hashid.ID]*entry
}

// New creates an empty Table.
func New() *Table {
	return &Table{entries: make(map[hashid.ID]*entry)}
}

// Do runs fn under the per-id lock for id. Concurrent calls for the same id
// are serialized; calls for distinct ids proceed in parallel. The lock is
// released on every exit path, including a panic inside fn.
func (t *Table) Do(id hashid.ID, fn func()) {
	e := t.acquire(id)
	defer t.release(id, e)
	fn()
}

func (t *Table) acquire(id hashid.ID) *entry {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		e = &entry{}
		t.entries[id] = e
	}
	e.ref++
	t.mu.Unlock()

	e.mu.Lock()
	return e
}

func (t *Table) release(id hashid.ID, e *entry) {
	e.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	e.ref--
	if e.ref == 0 {
		// No other goroutine is waiting on this entry; safe to evict so the
		// table does not grow unboundedly across the node's lifetime.
		delete(t.entries, id)
	}
}
