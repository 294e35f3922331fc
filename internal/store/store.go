// Package store holds the locally mirrored dataset: one canonical map of
// entities per kind behind an atomically swapped immutable snapshot, plus the
// derived lookup indexes built from it.
//
// Writers (the sync engine and the mutation path) stage every change on a
// copy and swap the whole snapshot in one step; readers take a snapshot once
// and never observe a half-applied batch.
package store

import (
	"fmt"
	"sync"
	"sync/atomic"

	"zenmirror/internal/core"
)

// Store owns the current dataset snapshot. All mutation goes through the
// staging methods below; at most one mutating operation runs at a time.
type Store struct {
	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]
}

// Snapshot is an immutable view of the dataset at one sync generation.
type Snapshot struct {
	version  uint64
	cursor   int64
	entities map[core.Kind]map[string]core.Entity
	idx      index
}

// New creates an empty store with cursor zero.
func New() *Store {
	s := &Store{}
	s.snap.Store(&Snapshot{
		entities: emptyEntities(),
		idx:      newIndex(),
	})
	return s
}

func emptyEntities() map[core.Kind]map[string]core.Entity {
	m := make(map[core.Kind]map[string]core.Entity, len(core.Kinds()))
	for _, kind := range core.Kinds() {
		m[kind] = make(map[string]core.Entity)
	}
	return m
}

// Snapshot returns the current immutable view. The returned snapshot stays
// consistent for as long as the caller holds it.
func (s *Store) Snapshot() *Snapshot { return s.snap.Load() }

// Cursor returns the last successfully applied sync cursor.
func (s *Store) Cursor() int64 { return s.Snapshot().cursor }

// ApplyBatch upserts one batch of records of a single kind. The batch is
// validated up front and applied all-or-nothing: any invalid record leaves
// the store exactly as it was.
func (s *Store) ApplyBatch(kind core.Kind, batch []core.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.snap.Load().stage(&core.Changeset{}, nil, func(st *staging) error {
		return st.upsertBatch(kind, batch)
	})
	if err != nil {
		return err
	}
	s.snap.Store(next)
	return nil
}

// ApplyDelta applies an incremental changeset (one batch per kind plus
// deletions) and advances the cursor, all in a single swap. A cursor smaller
// than the current one is rejected; applying the same delta twice is a no-op
// in effect.
func (s *Store) ApplyDelta(cs *core.Changeset, cursor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	if cursor < cur.cursor {
		return fmt.Errorf("cursor regression: %d < %d", cursor, cur.cursor)
	}
	next, err := cur.stage(cs, &cursor, nil)
	if err != nil {
		return err
	}
	s.snap.Store(next)
	return nil
}

// ReplaceAll discards the current dataset and installs the changeset as the
// new baseline with the given cursor. Used by full sync.
func (s *Store) ReplaceAll(cs *core.Changeset, cursor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := &Snapshot{
		version:  s.snap.Load().version,
		entities: emptyEntities(),
		idx:      newIndex(),
	}
	next, err := fresh.stage(cs, &cursor, nil)
	if err != nil {
		return err
	}
	s.snap.Store(next)
	return nil
}

// Tombstone marks one record deleted at the given logical timestamp. The
// record is retained with its deletion marker, not physically removed.
func (s *Store) Tombstone(kind core.Kind, id string, stamp int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := &core.Changeset{Deletions: []core.Deletion{{ID: id, Object: kind, Stamp: stamp}}}
	next, err := s.snap.Load().stage(cs, nil, nil)
	if err != nil {
		return err
	}
	s.snap.Store(next)
	return nil
}

// staging is a mutable copy-on-write view used while building the next
// snapshot. Kind maps are cloned lazily, so untouched kinds stay shared.
type staging struct {
	base     *Snapshot
	entities map[core.Kind]map[string]core.Entity
	cloned   map[core.Kind]bool
	idx      index
}

func (snap *Snapshot) stage(cs *core.Changeset, cursor *int64, extra func(*staging) error) (*Snapshot, error) {
	st := &staging{
		base:     snap,
		entities: make(map[core.Kind]map[string]core.Entity, len(snap.entities)),
		cloned:   make(map[core.Kind]bool),
		idx:      snap.idx.clone(),
	}
	for kind, m := range snap.entities {
		st.entities[kind] = m
	}

	for _, kind := range core.Kinds() {
		if err := st.upsertBatch(kind, cs.Batch(kind)); err != nil {
			return nil, err
		}
	}
	for _, del := range cs.Deletions {
		if err := st.applyDeletion(del); err != nil {
			return nil, err
		}
	}
	if extra != nil {
		if err := extra(st); err != nil {
			return nil, err
		}
	}

	next := &Snapshot{
		version:  snap.version + 1,
		cursor:   snap.cursor,
		entities: st.entities,
		idx:      st.idx,
	}
	if cursor != nil {
		next.cursor = *cursor
	}
	return next, nil
}

func (st *staging) kindMap(kind core.Kind) map[string]core.Entity {
	if !st.cloned[kind] {
		clone := make(map[string]core.Entity, len(st.entities[kind])+8)
		for id, e := range st.entities[kind] {
			clone[id] = e
		}
		st.entities[kind] = clone
		st.cloned[kind] = true
	}
	return st.entities[kind]
}

func (st *staging) upsertBatch(kind core.Kind, batch []core.Entity) error {
	if len(batch) == 0 {
		return nil
	}
	// Validate the whole batch before touching anything.
	for i, e := range batch {
		if e == nil {
			return fmt.Errorf("%s batch item %d: nil entity", kind, i)
		}
		if e.EntityID() == "" {
			return fmt.Errorf("%s batch item %d: %w", kind, i, core.ErrMissingID)
		}
		if got := kindOf(e); got != kind {
			return fmt.Errorf("%s batch item %d: entity is a %s", kind, i, got)
		}
	}

	m := st.kindMap(kind)
	for _, e := range batch {
		id := e.EntityID()
		// A fresher tombstone wins over a stale upsert so deleted records
		// cannot be resurrected by delta replay.
		if prev, ok := m[id]; ok && prev.Tombstoned() && prev.ChangedAt() > e.ChangedAt() {
			continue
		}
		if tx, ok := e.(core.Transaction); ok {
			tx.Tags = core.NormalizeTags(tx.Tags)
			e = tx
		}
		m[id] = e
		st.idx.upsert(kind, e)
	}
	return nil
}

func (st *staging) applyDeletion(del core.Deletion) error {
	if del.ID == "" {
		return fmt.Errorf("deletion of %s: %w", del.Object, core.ErrMissingID)
	}
	m := st.kindMap(del.Object)
	if tx, ok := m[del.ID].(core.Transaction); ok {
		tx.Deleted = true
		if del.Stamp > tx.Changed {
			tx.Changed = del.Stamp
		}
		m[del.ID] = tx
	} else {
		m[del.ID] = core.Tombstone{Kind: del.Object, ID: del.ID, Stamp: del.Stamp}
	}
	st.idx.remove(del.Object, del.ID)
	return nil
}

func kindOf(e core.Entity) core.Kind {
	switch v := e.(type) {
	case core.Instrument:
		return core.KindInstrument
	case core.Account:
		return core.KindAccount
	case core.Tag:
		return core.KindTag
	case core.Merchant:
		return core.KindMerchant
	case core.Budget:
		return core.KindBudget
	case core.Reminder:
		return core.KindReminder
	case core.Transaction:
		return core.KindTransaction
	case core.Tombstone:
		return v.Kind
	}
	return ""
}
