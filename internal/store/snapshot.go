package store

import (
	"sort"
	"strings"

	"zenmirror/internal/core"
)

// Version identifies the snapshot generation; it changes on every applied
// batch and is usable as a cache key component.
func (snap *Snapshot) Version() uint64 { return snap.version }

// Cursor returns the sync cursor this snapshot was built at.
func (snap *Snapshot) Cursor() int64 { return snap.cursor }

// Get returns the entity of the given kind and ID, tombstones included.
func (snap *Snapshot) Get(kind core.Kind, id string) (core.Entity, bool) {
	e, ok := snap.entities[kind][id]
	return e, ok
}

// Len returns the number of retained records of one kind.
func (snap *Snapshot) Len(kind core.Kind) int { return len(snap.entities[kind]) }

// Accounts returns accounts sorted by title, then ID. With activeOnly set,
// archived accounts are skipped.
func (snap *Snapshot) Accounts(activeOnly bool) []core.Account {
	out := make([]core.Account, 0, len(snap.entities[core.KindAccount]))
	for _, e := range snap.entities[core.KindAccount] {
		acc, ok := e.(core.Account)
		if !ok || (activeOnly && acc.Archive) {
			continue
		}
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Tags returns tags sorted by title, then ID.
func (snap *Snapshot) Tags() []core.Tag {
	out := make([]core.Tag, 0, len(snap.entities[core.KindTag]))
	for _, e := range snap.entities[core.KindTag] {
		if tag, ok := e.(core.Tag); ok {
			out = append(out, tag)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Merchants returns merchants sorted by title, then ID.
func (snap *Snapshot) Merchants() []core.Merchant {
	out := make([]core.Merchant, 0, len(snap.entities[core.KindMerchant]))
	for _, e := range snap.entities[core.KindMerchant] {
		if m, ok := e.(core.Merchant); ok {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Instruments returns instruments sorted by numeric ID.
func (snap *Snapshot) Instruments() []core.Instrument {
	out := make([]core.Instrument, 0, len(snap.entities[core.KindInstrument]))
	for _, e := range snap.entities[core.KindInstrument] {
		if in, ok := e.(core.Instrument); ok {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Instrument looks up a single instrument by numeric ID.
func (snap *Snapshot) Instrument(id int) (core.Instrument, bool) {
	for _, e := range snap.entities[core.KindInstrument] {
		if in, ok := e.(core.Instrument); ok && in.ID == id {
			return in, true
		}
	}
	return core.Instrument{}, false
}

// Budgets returns budgets sorted by month, then tag.
func (snap *Snapshot) Budgets() []core.Budget {
	out := make([]core.Budget, 0, len(snap.entities[core.KindBudget]))
	for _, e := range snap.entities[core.KindBudget] {
		if b, ok := e.(core.Budget); ok {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID() < out[j].EntityID() })
	return out
}

// Reminders returns reminders sorted by ID.
func (snap *Snapshot) Reminders() []core.Reminder {
	out := make([]core.Reminder, 0, len(snap.entities[core.KindReminder]))
	for _, e := range snap.entities[core.KindReminder] {
		if r, ok := e.(core.Reminder); ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Transaction resolves a transaction by ID, tombstoned ones included.
func (snap *Snapshot) Transaction(id string) (core.Transaction, bool) {
	tx, ok := snap.entities[core.KindTransaction][id].(core.Transaction)
	return tx, ok
}

// FindAccounts returns accounts ranked against a title query.
func (snap *Snapshot) FindAccounts(query string) []core.Account {
	matches := snap.idx.findByTitle(core.KindAccount, query)
	out := make([]core.Account, 0, len(matches))
	for _, m := range matches {
		if acc, ok := snap.entities[core.KindAccount][m.ID].(core.Account); ok {
			out = append(out, acc)
		}
	}
	return out
}

// FindTags returns tags ranked against a title query.
func (snap *Snapshot) FindTags(query string) []core.Tag {
	matches := snap.idx.findByTitle(core.KindTag, query)
	out := make([]core.Tag, 0, len(matches))
	for _, m := range matches {
		if tag, ok := snap.entities[core.KindTag][m.ID].(core.Tag); ok {
			out = append(out, tag)
		}
	}
	return out
}

// TxFilter narrows a transaction scan. Zero values mean "no constraint".
type TxFilter struct {
	DateFrom      *core.Date
	DateTo        *core.Date
	Account       string
	Tag           string
	Merchant      string
	Payee         string // case-insensitive substring
	MinAmount     *float64
	MaxAmount     *float64
	Type          core.TransactionType
	Uncategorized bool
	SortDesc      bool
	Limit         int
}

// Transactions returns non-deleted transactions matching the filter, ordered
// by date (ascending by default, descending with SortDesc) with ties broken
// by ID ascending.
func (snap *Snapshot) Transactions(f TxFilter) []core.Transaction {
	refs := snap.idx.txRefs

	// Date window by binary search over the sorted refs.
	lo, hi := 0, len(refs)
	if f.DateFrom != nil {
		lo = sort.Search(len(refs), func(i int) bool {
			return !refs[i].date.Before(*f.DateFrom)
		})
	}
	if f.DateTo != nil {
		hi = sort.Search(len(refs), func(i int) bool {
			return refs[i].date.After(*f.DateTo)
		})
	}
	if lo > hi {
		lo = hi
	}

	var out []core.Transaction
	for _, ref := range refs[lo:hi] {
		tx, ok := snap.entities[core.KindTransaction][ref.id].(core.Transaction)
		if !ok || tx.Deleted {
			continue
		}
		if f.matches(tx) {
			out = append(out, tx)
		}
	}

	if f.SortDesc {
		sort.SliceStable(out, func(i, j int) bool {
			if !out[i].Date.Equal(out[j].Date) {
				return out[i].Date.After(out[j].Date)
			}
			return out[i].ID < out[j].ID
		})
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func (f TxFilter) matches(tx core.Transaction) bool {
	if f.Account != "" && tx.IncomeAccount != f.Account && tx.OutcomeAccount != f.Account {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, id := range tx.Tags {
			if id == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Merchant != "" && (tx.Merchant == nil || *tx.Merchant != f.Merchant) {
		return false
	}
	if f.Payee != "" && !strings.Contains(strings.ToLower(tx.Payee), strings.ToLower(f.Payee)) {
		return false
	}
	amount := tx.Outcome
	if tx.Income > amount {
		amount = tx.Income
	}
	if f.MinAmount != nil && amount < *f.MinAmount {
		return false
	}
	if f.MaxAmount != nil && amount > *f.MaxAmount {
		return false
	}
	if f.Type != "" && tx.Type() != f.Type {
		return false
	}
	if f.Uncategorized && !tx.Uncategorized() {
		return false
	}
	return true
}

// Dangling returns a diagnostic line for every foreign reference that does
// not resolve to a retained record. The sync engine logs these after each
// applied changeset so consistency faults stay visible.
func (snap *Snapshot) Dangling() []string {
	var faults []string
	hasAccount := func(id string) bool {
		_, ok := snap.entities[core.KindAccount][id]
		return ok
	}
	hasTag := func(id string) bool {
		_, ok := snap.entities[core.KindTag][id]
		return ok
	}
	for id, e := range snap.entities[core.KindTransaction] {
		tx, ok := e.(core.Transaction)
		if !ok || tx.Deleted {
			continue
		}
		if tx.IncomeAccount != "" && !hasAccount(tx.IncomeAccount) {
			faults = append(faults, "transaction "+id+": dangling income account "+tx.IncomeAccount)
		}
		if tx.OutcomeAccount != "" && !hasAccount(tx.OutcomeAccount) {
			faults = append(faults, "transaction "+id+": dangling outcome account "+tx.OutcomeAccount)
		}
		for _, tag := range tx.Tags {
			if !hasTag(tag) {
				faults = append(faults, "transaction "+id+": dangling tag "+tag)
			}
		}
		if tx.Merchant != nil {
			if _, ok := snap.entities[core.KindMerchant][*tx.Merchant]; !ok {
				faults = append(faults, "transaction "+id+": dangling merchant "+*tx.Merchant)
			}
		}
	}
	for id, e := range snap.entities[core.KindTag] {
		tag, ok := e.(core.Tag)
		if !ok || tag.Parent == nil {
			continue
		}
		if !hasTag(*tag.Parent) {
			faults = append(faults, "tag "+id+": dangling parent "+*tag.Parent)
		}
	}
	sort.Strings(faults)
	return faults
}

// Export returns the complete snapshot contents as a changeset, tombstones
// expressed as deletions. Feeding the result through ReplaceAll with the
// snapshot's cursor reproduces the snapshot. Slices come out in EntityID
// order so the export is deterministic.
func (snap *Snapshot) Export() *core.Changeset {
	cs := &core.Changeset{}
	for _, kind := range core.Kinds() {
		for _, e := range snap.sortedEntities(kind) {
			switch v := e.(type) {
			case core.Instrument:
				cs.Instruments = append(cs.Instruments, v)
			case core.Account:
				cs.Accounts = append(cs.Accounts, v)
			case core.Tag:
				cs.Tags = append(cs.Tags, v)
			case core.Merchant:
				cs.Merchants = append(cs.Merchants, v)
			case core.Budget:
				cs.Budgets = append(cs.Budgets, v)
			case core.Reminder:
				cs.Reminders = append(cs.Reminders, v)
			case core.Transaction:
				cs.Transactions = append(cs.Transactions, v)
			case core.Tombstone:
				cs.Deletions = append(cs.Deletions, core.Deletion{ID: v.ID, Object: v.Kind, Stamp: v.Stamp})
			}
		}
	}
	return cs
}

func (snap *Snapshot) sortedEntities(kind core.Kind) []core.Entity {
	out := make([]core.Entity, 0, len(snap.entities[kind]))
	for _, e := range snap.entities[kind] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID() < out[j].EntityID() })
	return out
}
