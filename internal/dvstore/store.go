// Package dvstore holds the record twin's tables: one insertion-ordered
// table of rows per entity type, created on first write.
package dvstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wondertwin-ai/recordtwin/internal/fetchxml"
	"github.com/wondertwin-ai/recordtwin/internal/record"
	pkgstore "github.com/wondertwin-ai/recordtwin/pkg/store"
)

// System attributes maintained by the store on every row.
const (
	AttrCreatedOn     = "createdon"
	AttrModifiedOn    = "modifiedon"
	AttrVersionNumber = "versionnumber"
	AttrOwnerID       = "_ownerid_value"
)

// PrimaryKey returns the primary key attribute of an entity, e.g. "accountid".
func PrimaryKey(entity string) string {
	return strings.ToLower(entity) + "id"
}

// MemoryStore holds all twin state in memory.
type MemoryStore struct {
	Clock *pkgstore.Clock

	mu      sync.RWMutex
	tables  map[string]*pkgstore.Table[record.Payload]
	version atomic.Int64
}

// New creates a new MemoryStore with empty state.
func New() *MemoryStore {
	return &MemoryStore{
		Clock:  pkgstore.NewClock(),
		tables: make(map[string]*pkgstore.Table[record.Payload]),
	}
}

// table returns the table for entity, creating it when create is set.
func (s *MemoryStore) table(entity string, create bool) *pkgstore.Table[record.Payload] {
	entity = strings.ToLower(entity)
	s.mu.RLock()
	t, ok := s.tables[entity]
	s.mu.RUnlock()
	if ok || !create {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[entity]; ok {
		return t
	}
	t = pkgstore.New[record.Payload](entity)
	s.tables[entity] = t
	return t
}

// Entities returns the entity types that have a table, sorted.
func (s *MemoryStore) Entities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tables))
	for name := range s.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasEntity reports whether a table exists for entity.
func (s *MemoryStore) HasEntity(entity string) bool {
	return s.table(entity, false) != nil
}

func (s *MemoryStore) timestamp() string {
	return s.Clock.Now().UTC().Format(time.RFC3339)
}

// Create inserts a new row. The primary key is taken from the payload when
// present, otherwise generated. Creating an existing key fails with
// record.ErrConflict.
func (s *MemoryStore) Create(entity string, payload record.Payload, owner string) (record.Payload, error) {
	t := s.table(entity, true)
	pk := PrimaryKey(entity)

	row := s.prepare(entity, payload)
	now := s.timestamp()
	row[AttrCreatedOn] = now
	row[AttrModifiedOn] = now
	row[AttrVersionNumber] = s.version.Add(1)
	if owner != "" {
		row[AttrOwnerID] = owner
	}

	if raw, ok := row[pk]; ok && raw != nil {
		id, err := record.ParseID(fmt.Sprint(raw))
		if err != nil {
			return nil, err
		}
		row[pk] = id
		if !t.Insert(id, row) {
			return nil, fmt.Errorf("%w: %s with id %s already exists", record.ErrConflict, entity, id)
		}
		return row.Clone(), nil
	}

	for {
		id := t.NextID()
		row[pk] = id
		if t.Insert(id, row) {
			return row.Clone(), nil
		}
	}
}

// Get returns a copy of one row.
func (s *MemoryStore) Get(entity, id string) (record.Payload, error) {
	t := s.table(entity, false)
	if t == nil {
		return nil, notFound(entity, id)
	}
	row, ok := t.Get(record.NormalizeID(id))
	if !ok {
		return nil, notFound(entity, id)
	}
	return row.Clone(), nil
}

// Update merges patch into an existing row and returns the result. When the
// row does not exist and upsert is set, the row is created with id and
// created reports true; otherwise it fails with record.ErrNotFound.
func (s *MemoryStore) Update(entity, id string, patch record.Payload, upsert bool, owner string) (row record.Payload, created bool, err error) {
	id = record.NormalizeID(id)
	pk := PrimaryKey(entity)
	t := s.table(entity, upsert)
	if t != nil {
		changes := s.prepare(entity, patch)
		delete(changes, pk)
		delete(changes, AttrCreatedOn)
		delete(changes, AttrVersionNumber)
		updated, ok := t.Update(id, func(cur record.Payload) record.Payload {
			next := cur.Clone()
			for k, v := range changes {
				next[k] = v
			}
			next[AttrModifiedOn] = s.timestamp()
			next[AttrVersionNumber] = s.version.Add(1)
			return next
		})
		if ok {
			return updated.Clone(), false, nil
		}
	}
	if !upsert {
		return nil, false, notFound(entity, id)
	}

	withID := patch.Clone()
	if withID == nil {
		withID = record.Payload{}
	}
	withID[pk] = id
	row, err = s.Create(entity, withID, owner)
	if err != nil {
		return nil, false, err
	}
	return row, true, nil
}

// Delete removes one row.
func (s *MemoryStore) Delete(entity, id string) error {
	t := s.table(entity, false)
	if t == nil || !t.Delete(record.NormalizeID(id)) {
		return notFound(entity, id)
	}
	return nil
}

// List returns copies of all rows of entity in insertion order.
func (s *MemoryStore) List(entity string) []map[string]any {
	t := s.table(entity, false)
	if t == nil {
		return []map[string]any{}
	}
	rows := t.List()
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Clone())
	}
	return out
}

// Count returns the number of rows of entity.
func (s *MemoryStore) Count(entity string) int {
	t := s.table(entity, false)
	if t == nil {
		return 0
	}
	return t.Count()
}

// Query evaluates a FetchXML query against the rows of its entity.
func (s *MemoryStore) Query(q *fetchxml.Fetch) (fetchxml.Result, error) {
	return q.Evaluate(s.List(q.Entity.Name), PrimaryKey(q.Entity.Name))
}

// prepare copies payload, dropping OData annotations and turning
// "nav@odata.bind": "/sets(id)" lookups into "_nav_value" attributes.
func (s *MemoryStore) prepare(entity string, payload record.Payload) record.Payload {
	row := make(record.Payload, len(payload))
	for k, v := range payload {
		if nav, ok := strings.CutSuffix(k, "@odata.bind"); ok {
			if ref, ok := v.(string); ok {
				if open := strings.LastIndex(ref, "("); open >= 0 && strings.HasSuffix(ref, ")") {
					row["_"+strings.ToLower(nav)+"_value"] = record.NormalizeID(ref[open+1 : len(ref)-1])
				}
			}
			continue
		}
		if strings.Contains(k, "@") {
			continue
		}
		row[k] = v
	}
	return row
}

func notFound(entity, id string) error {
	return fmt.Errorf("%w: %s With Id = %s Does Not Exist", record.ErrNotFound, entity, id)
}

// Snapshot returns the full state keyed by entity type then id.
func (s *MemoryStore) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]record.Payload, len(s.tables))
	for name, t := range s.tables {
		out[name] = t.Snapshot()
	}
	return out
}

// LoadState replaces the full state. Each entity maps either ids to rows or
// is a list of rows; rows without a primary key get a generated one.
func (s *MemoryStore) LoadState(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	tables := make(map[string]map[string]record.Payload, len(raw))
	lists := make(map[string][]record.Payload)
	for entity, body := range raw {
		entity = strings.ToLower(entity)
		var byID map[string]record.Payload
		if err := json.Unmarshal(body, &byID); err == nil {
			tables[entity] = byID
			continue
		}
		var list []record.Payload
		if err := json.Unmarshal(body, &list); err != nil {
			return fmt.Errorf("entity %q: expected an object keyed by id or a list of rows", entity)
		}
		lists[entity] = list
	}

	s.mu.Lock()
	s.tables = make(map[string]*pkgstore.Table[record.Payload])
	s.mu.Unlock()

	for entity, rows := range tables {
		pk := PrimaryKey(entity)
		normalized := make(map[string]record.Payload, len(rows))
		for id, row := range rows {
			if row == nil {
				row = record.Payload{}
			}
			id = record.NormalizeID(id)
			row[pk] = id
			normalized[id] = row
		}
		s.table(entity, true).LoadSnapshot(normalized)
	}
	for entity, rows := range lists {
		s.table(entity, true)
		for _, row := range rows {
			if _, err := s.Create(entity, row, ""); err != nil {
				return fmt.Errorf("entity %q: %w", entity, err)
			}
		}
	}
	return nil
}

// Reset clears all state.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	s.tables = make(map[string]*pkgstore.Table[record.Payload])
	s.mu.Unlock()
	s.version.Store(0)
	s.Clock.Reset()
}
