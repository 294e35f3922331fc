package enrich

import (
	"testing"

	"zenmirror/internal/core"
	"zenmirror/internal/store"
)

func seededSnapshot(t *testing.T, mutate func(cs *core.Changeset)) *store.Snapshot {
	t.Helper()
	instr := 1
	merchant := "m-bakery"
	cs := &core.Changeset{
		Instruments: []core.Instrument{
			{ID: 1, Changed: 10, Title: "Euro", ShortTitle: "EUR", Symbol: "€", Rate: 1},
		},
		Accounts: []core.Account{
			{ID: "acc-main", Changed: 10, Title: "Main Account", Type: "checking", Instrument: &instr},
		},
		Tags: []core.Tag{
			{ID: "tag-food", Changed: 10, Title: "Food"},
			{ID: "tag-coffee", Changed: 10, Title: "Coffee"},
		},
		Merchants: []core.Merchant{
			{ID: "m-bakery", Changed: 10, Title: "Corner Bakery", Tags: []string{"tag-food"}},
		},
		Transactions: []core.Transaction{{
			ID: "tx-1", Changed: 10, Date: core.NewDate(2025, 2, 10),
			IncomeAccount: "acc-main", OutcomeAccount: "acc-main",
			IncomeInstrument: 1, OutcomeInstrument: 1,
			Outcome: 12.5, Tags: []string{"tag-food"}, Merchant: &merchant, Payee: "Corner Bakery",
		}},
	}
	if mutate != nil {
		mutate(cs)
	}
	s := store.New()
	if err := s.ApplyDelta(cs, 10); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s.Snapshot()
}

func TestTransactionFullyResolved(t *testing.T) {
	snap := seededSnapshot(t, nil)
	tx, _ := snap.Transaction("tx-1")

	view := BuildMaps(snap).Transaction(tx)
	if view.IncomeAccount != "Main Account" || view.OutcomeAccount != "Main Account" {
		t.Fatalf("accounts not resolved: %+v", view)
	}
	if view.IncomeCurrency != "€" || view.OutcomeCurrency != "€" {
		t.Fatalf("currencies not resolved: %+v", view)
	}
	if len(view.Tags) != 1 || view.Tags[0] != "Food" {
		t.Fatalf("tags not resolved: %v", view.Tags)
	}
	if view.Merchant != "Corner Bakery" {
		t.Fatalf("merchant not resolved: %q", view.Merchant)
	}
	if view.Type != string(core.TypeExpense) {
		t.Fatalf("type %q", view.Type)
	}
	if len(view.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics: %v", view.Diagnostics)
	}
}

func TestOneSidedTransactionHasNoMissingReferences(t *testing.T) {
	snap := seededSnapshot(t, func(cs *core.Changeset) {
		cs.Transactions[0].IncomeAccount = ""
		cs.Transactions[0].IncomeInstrument = 0
		cs.Transactions[0].Income = 0
	})
	tx, _ := snap.Transaction("tx-1")

	view := BuildMaps(snap).Transaction(tx)
	if view.IncomeAccount != "" || view.IncomeCurrency != "" {
		t.Fatalf("absent income side rendered as %q/%q", view.IncomeAccount, view.IncomeCurrency)
	}
	if view.OutcomeAccount != "Main Account" || view.OutcomeCurrency != "€" {
		t.Fatalf("outcome side degraded: %+v", view)
	}
	if len(view.Diagnostics) != 0 {
		t.Fatalf("absent side is not dangling: %v", view.Diagnostics)
	}
}

func TestDanglingTagDegradesOneFieldOnly(t *testing.T) {
	snap := seededSnapshot(t, func(cs *core.Changeset) {
		cs.Transactions[0].Tags = []string{"tag-food", "tag-ghost"}
	})
	tx, _ := snap.Transaction("tx-1")

	view := BuildMaps(snap).Transaction(tx)
	if len(view.Tags) != 2 || view.Tags[0] != "Food" || view.Tags[1] != Unknown {
		t.Fatalf("tags %v", view.Tags)
	}
	// Everything else still resolves.
	if view.IncomeAccount != "Main Account" || view.IncomeCurrency != "€" {
		t.Fatalf("unrelated fields degraded: %+v", view)
	}
	if len(view.Diagnostics) != 1 {
		t.Fatalf("diagnostics %v, want exactly one", view.Diagnostics)
	}
}

func TestAccountViewResolvesCurrency(t *testing.T) {
	snap := seededSnapshot(t, nil)
	accs := snap.Accounts(false)
	view := BuildMaps(snap).Account(accs[0])
	if view.Currency != "€" {
		t.Fatalf("currency %q", view.Currency)
	}
}

func TestTagViewResolvesParent(t *testing.T) {
	parent := "tag-food"
	snap := seededSnapshot(t, func(cs *core.Changeset) {
		cs.Tags = append(cs.Tags, core.Tag{ID: "tag-bread", Changed: 10, Title: "Bread", Parent: &parent})
	})
	maps := BuildMaps(snap)
	for _, tag := range snap.Tags() {
		if tag.ID != "tag-bread" {
			continue
		}
		view := maps.Tag(tag)
		if view.Parent != "Food" {
			t.Fatalf("parent %q", view.Parent)
		}
		return
	}
	t.Fatal("tag-bread not found")
}

func TestSuggestCategoryFromHistory(t *testing.T) {
	snap := seededSnapshot(t, func(cs *core.Changeset) {
		// Two more bakery transactions tagged food, one tagged coffee.
		for i, tag := range []string{"tag-food", "tag-food", "tag-coffee"} {
			cs.Transactions = append(cs.Transactions, core.Transaction{
				ID: "tx-s" + string(rune('a'+i)), Changed: 10,
				Date:          core.NewDate(2025, 2, 11+i),
				IncomeAccount: "acc-main", OutcomeAccount: "acc-main",
				IncomeInstrument: 1, OutcomeInstrument: 1,
				Outcome: 3, Tags: []string{tag}, Payee: "Corner Bakery",
			})
		}
	})

	got := SuggestCategory(snap, "corner bakery", "")
	if len(got) != 2 {
		t.Fatalf("suggestions %v", got)
	}
	if got[0].Title != "Food" || got[0].Count != 3 {
		t.Fatalf("top suggestion %+v", got[0])
	}
	if got[1].Title != "Coffee" || got[1].Count != 1 {
		t.Fatalf("second suggestion %+v", got[1])
	}
}

func TestSuggestCategoryFallsBackToMerchantHints(t *testing.T) {
	snap := seededSnapshot(t, func(cs *core.Changeset) {
		cs.Transactions = nil
	})
	got := SuggestCategory(snap, "bakery", "")
	if len(got) != 1 || got[0].TagID != "tag-food" || got[0].Count != 0 {
		t.Fatalf("suggestions %v", got)
	}
}

func TestSuggestCategoryByComment(t *testing.T) {
	snap := seededSnapshot(t, func(cs *core.Changeset) {
		cs.Transactions[0].Payee = ""
		cs.Transactions[0].Comment = "weekly groceries run"
	})
	got := SuggestCategory(snap, "", "groceries")
	if len(got) != 1 || got[0].Title != "Food" {
		t.Fatalf("suggestions %v", got)
	}
}
