// Package store provides the in-memory row table and simulated clock behind
// the record twin. A Table keeps rows keyed by GUID and hands them back in
// the order they were first written.
package store

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type row[T any] struct {
	seq  uint64
	data T
}

// Table is a concurrency-safe set of rows of type T keyed by id.
type Table[T any] struct {
	entity string
	keys   atomic.Uint64

	mu   sync.RWMutex
	rows map[string]row[T]
	seq  uint64
}

// New returns an empty table for entity. The entity name is folded into
// generated keys, so tables for different entities never share a key.
func New[T any](entity string) *Table[T] {
	return &Table[T]{entity: entity, rows: map[string]row[T]{}}
}

// Entity returns the entity name the table was created for.
func (t *Table[T]) Entity() string { return t.entity }

// NextID returns the next generated key. Keys are name-based GUIDs, so the
// n-th key of an "account" table is the same on every run and after Reset.
func (t *Table[T]) NextID() string {
	n := t.keys.Add(1)
	name := fmt.Sprintf("recordtwin:%s:%d", t.entity, n)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// Put writes data under id. A replaced row keeps its position.
func (t *Table[T]) Put(id string, data T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.rows[id]; ok {
		t.rows[id] = row[T]{seq: cur.seq, data: data}
		return
	}
	t.seq++
	t.rows[id] = row[T]{seq: t.seq, data: data}
}

// Insert writes data under id unless the id is taken, and reports whether
// it did.
func (t *Table[T]) Insert(id string, data T) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, taken := t.rows[id]; taken {
		return false
	}
	t.seq++
	t.rows[id] = row[T]{seq: t.seq, data: data}
	return true
}

// Get returns the row stored under id.
func (t *Table[T]) Get(id string) (T, bool) {
	t.mu.RLock()
	r, ok := t.rows[id]
	t.mu.RUnlock()
	return r.data, ok
}

// Update replaces the row under id with fn's result while holding the write
// lock. It reports false, and never calls fn, when id is absent.
func (t *Table[T]) Update(id string, fn func(T) T) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rows[id]
	if !ok {
		var zero T
		return zero, false
	}
	r.data = fn(r.data)
	t.rows[id] = r
	return r.data, true
}

// Delete removes the row under id and reports whether there was one.
func (t *Table[T]) Delete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.rows[id]
	delete(t.rows, id)
	return ok
}

// List returns every row, oldest first.
func (t *Table[T]) List() []T {
	t.mu.RLock()
	ordered := make([]row[T], 0, len(t.rows))
	for _, r := range t.rows {
		ordered = append(ordered, r)
	}
	t.mu.RUnlock()

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })
	out := make([]T, len(ordered))
	for i, r := range ordered {
		out[i] = r.data
	}
	return out
}

// Count returns the number of rows.
func (t *Table[T]) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Reset drops every row and restarts key generation.
func (t *Table[T]) Reset() {
	t.mu.Lock()
	t.rows = map[string]row[T]{}
	t.seq = 0
	t.mu.Unlock()
	t.keys.Store(0)
}

// Snapshot returns the rows keyed by id.
func (t *Table[T]) Snapshot() map[string]T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]T, len(t.rows))
	for id, r := range t.rows {
		out[id] = r.data
	}
	return out
}

// LoadSnapshot replaces the table's rows with rows. Since a map carries no
// order, loaded rows are ordered by id.
func (t *Table[T]) LoadSnapshot(rows map[string]T) {
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = make(map[string]row[T], len(ids))
	for i, id := range ids {
		t.rows[id] = row[T]{seq: uint64(i + 1), data: rows[id]}
	}
	t.seq = uint64(len(ids))
}
