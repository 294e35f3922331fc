package store

import (
	"fmt"
	"reflect"
	"testing"

	"zenmirror/internal/core"
)

func seedChangeset() *core.Changeset {
	instr := 1
	return &core.Changeset{
		Instruments: []core.Instrument{
			{ID: 1, Changed: 100, Title: "Euro", ShortTitle: "EUR", Symbol: "€", Rate: 1},
		},
		Accounts: []core.Account{
			{ID: "acc-main", Changed: 100, Title: "Main", Type: "checking", Instrument: &instr},
			{ID: "acc-cash", Changed: 100, Title: "Wallet", Type: "cash", Instrument: &instr},
		},
		Tags: []core.Tag{
			{ID: "tag-food", Changed: 100, Title: "Food"},
			{ID: "tag-travel", Changed: 100, Title: "Travel"},
		},
		Transactions: []core.Transaction{
			{
				ID: "tx-1", Changed: 100, Date: core.NewDate(2025, 2, 10),
				IncomeAccount: "acc-main", OutcomeAccount: "acc-main",
				IncomeInstrument: 1, OutcomeInstrument: 1,
				Outcome: 42.5, Tags: []string{"tag-food"}, Payee: "Bakery",
			},
		},
	}
}

func TestApplyDeltaIsIdempotent(t *testing.T) {
	s := New()
	cs := seedChangeset()
	if err := s.ApplyDelta(cs, 100); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	first := s.Snapshot()

	if err := s.ApplyDelta(cs, 100); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	second := s.Snapshot()

	if second.Cursor() != first.Cursor() {
		t.Fatalf("cursor moved on replay: %d vs %d", second.Cursor(), first.Cursor())
	}
	for _, kind := range core.Kinds() {
		if first.Len(kind) != second.Len(kind) {
			t.Fatalf("%s count changed on replay: %d vs %d", kind, first.Len(kind), second.Len(kind))
		}
	}
	a, _ := first.Get(core.KindTransaction, "tx-1")
	b, _ := second.Get(core.KindTransaction, "tx-1")
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("transaction diverged on replay:\n%v\n%v", a, b)
	}
}

func TestApplyBatchIsAtomic(t *testing.T) {
	s := New()
	if err := s.ApplyDelta(seedChangeset(), 100); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before := s.Snapshot()

	// Third record is invalid; nothing from the batch may land.
	batch := []core.Entity{
		core.Account{ID: "acc-new1", Changed: 200, Title: "New One"},
		core.Account{ID: "acc-new2", Changed: 200, Title: "New Two"},
		core.Account{ID: "", Changed: 200, Title: "Broken"},
	}
	if err := s.ApplyBatch(core.KindAccount, batch); err == nil {
		t.Fatal("expected error for invalid batch")
	}

	after := s.Snapshot()
	if after.Version() != before.Version() {
		t.Fatalf("snapshot swapped despite failed batch")
	}
	if _, ok := after.Get(core.KindAccount, "acc-new1"); ok {
		t.Fatal("partial batch state leaked into store")
	}
}

func TestApplyBatchRejectsWrongKind(t *testing.T) {
	s := New()
	err := s.ApplyBatch(core.KindAccount, []core.Entity{
		core.Tag{ID: "tag-1", Title: "Not An Account"},
	})
	if err == nil {
		t.Fatal("expected kind mismatch error")
	}
}

func TestCursorNeverRegresses(t *testing.T) {
	s := New()
	if err := s.ApplyDelta(seedChangeset(), 100); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.ApplyDelta(&core.Changeset{}, 150); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := s.ApplyDelta(&core.Changeset{}, 90); err == nil {
		t.Fatal("expected cursor regression to be rejected")
	}
	if got := s.Cursor(); got != 150 {
		t.Fatalf("cursor %d want 150", got)
	}
}

func TestTombstoneBlocksResurrection(t *testing.T) {
	s := New()
	if err := s.ApplyDelta(seedChangeset(), 100); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.Tombstone(core.KindTransaction, "tx-1", 200); err != nil {
		t.Fatalf("tombstone: %v", err)
	}

	snap := s.Snapshot()
	tx, ok := snap.Transaction("tx-1")
	if !ok {
		t.Fatal("tombstoned record should be retained")
	}
	if !tx.Deleted || tx.Changed != 200 {
		t.Fatalf("expected deleted at 200, got %+v", tx)
	}
	if got := snap.Transactions(TxFilter{}); len(got) != 0 {
		t.Fatalf("tombstoned transaction still listed: %v", got)
	}

	// A stale delta (older changed stamp) must not bring it back.
	stale := &core.Changeset{Transactions: []core.Transaction{{
		ID: "tx-1", Changed: 150, Date: core.NewDate(2025, 2, 10),
		IncomeAccount: "acc-main", OutcomeAccount: "acc-main", Outcome: 42.5,
	}}}
	if err := s.ApplyDelta(stale, 210); err != nil {
		t.Fatalf("stale delta: %v", err)
	}
	tx, _ = s.Snapshot().Transaction("tx-1")
	if !tx.Deleted {
		t.Fatal("stale delta resurrected a tombstoned transaction")
	}

	// A fresher delta supersedes the tombstone.
	fresh := &core.Changeset{Transactions: []core.Transaction{{
		ID: "tx-1", Changed: 300, Date: core.NewDate(2025, 2, 10),
		IncomeAccount: "acc-main", OutcomeAccount: "acc-main", Outcome: 42.5,
	}}}
	if err := s.ApplyDelta(fresh, 300); err != nil {
		t.Fatalf("fresh delta: %v", err)
	}
	tx, _ = s.Snapshot().Transaction("tx-1")
	if tx.Deleted {
		t.Fatal("fresher delta should supersede the tombstone")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := New()
	if err := s.ApplyDelta(seedChangeset(), 100); err != nil {
		t.Fatalf("seed: %v", err)
	}
	reader := s.Snapshot()

	update := &core.Changeset{Accounts: []core.Account{
		{ID: "acc-main", Changed: 200, Title: "Renamed"},
	}}
	if err := s.ApplyDelta(update, 200); err != nil {
		t.Fatalf("update: %v", err)
	}

	old, _ := reader.Get(core.KindAccount, "acc-main")
	if old.(core.Account).Title != "Main" {
		t.Fatal("in-flight reader observed a later batch")
	}
	cur, _ := s.Snapshot().Get(core.KindAccount, "acc-main")
	if cur.(core.Account).Title != "Renamed" {
		t.Fatal("new snapshot missing the update")
	}
}

func TestReplaceAllDropsOldRecords(t *testing.T) {
	s := New()
	if err := s.ApplyDelta(seedChangeset(), 100); err != nil {
		t.Fatalf("seed: %v", err)
	}
	fresh := &core.Changeset{Accounts: []core.Account{
		{ID: "acc-other", Changed: 500, Title: "Other"},
	}}
	if err := s.ReplaceAll(fresh, 500); err != nil {
		t.Fatalf("replace: %v", err)
	}
	snap := s.Snapshot()
	if _, ok := snap.Get(core.KindAccount, "acc-main"); ok {
		t.Fatal("full replace kept a stale record")
	}
	if _, ok := snap.Get(core.KindAccount, "acc-other"); !ok {
		t.Fatal("full replace lost the new record")
	}
	if snap.Cursor() != 500 {
		t.Fatalf("cursor %d want 500", snap.Cursor())
	}
}

func februaryStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	cs := seedChangeset()
	cs.Transactions = nil
	// Interleave expenses and incomes over February, with a shared date to
	// exercise the ID tie-break.
	for day := 1; day <= 28; day++ {
		tx := core.Transaction{
			ID:            fmt.Sprintf("tx-%02d", day),
			Changed:       100,
			Date:          core.NewDate(2025, 2, day),
			IncomeAccount: "acc-main", OutcomeAccount: "acc-main",
			Outcome: float64(day),
		}
		if day%5 == 0 {
			tx.Outcome = 0
			tx.Income = float64(day)
		}
		cs.Transactions = append(cs.Transactions, tx)
	}
	cs.Transactions = append(cs.Transactions, core.Transaction{
		ID: "tx-00-tie", Changed: 100, Date: core.NewDate(2025, 2, 14),
		IncomeAccount: "acc-main", OutcomeAccount: "acc-main", Outcome: 7,
	})
	if err := s.ApplyDelta(cs, 100); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s
}

func TestTransactionsFebruaryExpenseWindowDesc(t *testing.T) {
	s := februaryStore(t)
	from := core.NewDate(2025, 2, 1)
	to := core.NewDate(2025, 2, 28)
	got := s.Snapshot().Transactions(TxFilter{
		DateFrom: &from,
		DateTo:   &to,
		Type:     core.TypeExpense,
		SortDesc: true,
	})
	if len(got) == 0 {
		t.Fatal("no transactions matched")
	}
	for i, tx := range got {
		if tx.Type() != core.TypeExpense {
			t.Fatalf("non-expense %s in result", tx.ID)
		}
		if tx.Date.Before(from) || tx.Date.After(to) {
			t.Fatalf("%s outside window: %s", tx.ID, tx.Date)
		}
		if i == 0 {
			continue
		}
		prev := got[i-1]
		if tx.Date.After(prev.Date) {
			t.Fatalf("dates not descending: %s after %s", tx.ID, prev.ID)
		}
		if tx.Date.Equal(prev.Date) && tx.ID < prev.ID {
			t.Fatalf("tie not broken by ID ascending: %s before %s", prev.ID, tx.ID)
		}
	}
	// The tie pair on Feb 14 must appear ID-ascending.
	var tieIdx, dayIdx = -1, -1
	for i, tx := range got {
		switch tx.ID {
		case "tx-00-tie":
			tieIdx = i
		case "tx-14":
			dayIdx = i
		}
	}
	if tieIdx == -1 || dayIdx == -1 || tieIdx > dayIdx {
		t.Fatalf("tie-break order wrong: tx-00-tie at %d, tx-14 at %d", tieIdx, dayIdx)
	}
}

func TestTransactionsFilters(t *testing.T) {
	s := februaryStore(t)
	snap := s.Snapshot()

	if got := snap.Transactions(TxFilter{Type: core.TypeIncome}); len(got) != 5 {
		t.Fatalf("income count %d want 5", len(got))
	}
	min, max := 10.0, 12.0
	got := snap.Transactions(TxFilter{MinAmount: &min, MaxAmount: &max})
	for _, tx := range got {
		amount := tx.Outcome
		if tx.Income > amount {
			amount = tx.Income
		}
		if amount < min || amount > max {
			t.Fatalf("%s amount %f outside [%f, %f]", tx.ID, amount, min, max)
		}
	}
	if got := snap.Transactions(TxFilter{Uncategorized: true}); len(got) == 0 {
		t.Fatal("expected uncategorized transactions")
	}
	if got := snap.Transactions(TxFilter{Limit: 3}); len(got) != 3 {
		t.Fatalf("limit ignored: got %d", len(got))
	}
}

func TestFindAccountsRanksMatches(t *testing.T) {
	s := New()
	cs := &core.Changeset{Accounts: []core.Account{
		{ID: "a1", Changed: 1, Title: "Wallet"},
		{ID: "a2", Changed: 1, Title: "Wallet EUR"},
		{ID: "a3", Changed: 1, Title: "Walet"}, // typo, levenshtein distance 1
		{ID: "a4", Changed: 1, Title: "Savings"},
	}}
	if err := s.ApplyDelta(cs, 1); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got := s.Snapshot().FindAccounts("wallet")
	if len(got) != 3 {
		t.Fatalf("got %d matches, want 3", len(got))
	}
	if got[0].ID != "a1" {
		t.Fatalf("exact match not first: %v", got[0])
	}
	if got[1].ID != "a2" || got[2].ID != "a3" {
		t.Fatalf("unexpected ranking: %v %v", got[1].ID, got[2].ID)
	}
}

func TestDanglingDiagnostics(t *testing.T) {
	s := New()
	cs := seedChangeset()
	cs.Transactions[0].Tags = []string{"tag-food", "tag-missing"}
	if err := s.ApplyDelta(cs, 100); err != nil {
		t.Fatalf("seed: %v", err)
	}
	faults := s.Snapshot().Dangling()
	if len(faults) != 1 {
		t.Fatalf("faults %v, want exactly one", faults)
	}
}
