package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"zenmirror/internal/core"
	"zenmirror/internal/store"
	"zenmirror/internal/sync"
)

// fakeRemote accepts every pushed operation unless rejectID matches. It reads
// the store to echo tombstoned transactions for confirmed deletes.
type fakeRemote struct {
	store     *store.Store
	pushCalls int
	rejectID  string
}

func (f *fakeRemote) FullFetch(ctx context.Context, kinds []core.Kind) (*core.Changeset, int64, error) {
	return &core.Changeset{}, 0, nil
}

func (f *fakeRemote) DeltaFetch(ctx context.Context, cursor int64) (*core.Changeset, int64, error) {
	return &core.Changeset{}, cursor, nil
}

func (f *fakeRemote) Push(ctx context.Context, ops []sync.Operation) ([]sync.PushResult, error) {
	f.pushCalls++
	results := make([]sync.PushResult, len(ops))
	for i, op := range ops {
		results[i].Op = op
		if op.TargetID() == f.rejectID {
			results[i].Err = &core.RemoteRejectedError{Op: string(op.Action), ID: op.TargetID(), Reason: "rejected by server"}
			continue
		}
		switch op.Action {
		case sync.ActionDelete:
			tx, ok := f.store.Snapshot().Transaction(op.ID)
			if !ok {
				results[i].Err = &core.RemoteRejectedError{Op: "delete", ID: op.ID, Reason: "no such transaction"}
				continue
			}
			tx.Deleted = true
			tx.Changed = time.Now().Unix()
			results[i].Transaction = &tx
		default:
			results[i].Transaction = op.Transaction
		}
	}
	return results, nil
}

func seedLedger(t *testing.T) (*Ledger, *fakeRemote) {
	t.Helper()

	instrument := 1
	merchant := "m-bar"
	cs := &core.Changeset{
		Instruments: []core.Instrument{
			{ID: 1, Changed: 100, Title: "Euro", ShortTitle: "EUR", Symbol: "€", Rate: 1},
		},
		Accounts: []core.Account{
			{ID: "a-wallet", Changed: 100, Title: "Wallet", Type: "cash", Instrument: &instrument},
			{ID: "a-bank", Changed: 100, Title: "Bank", Type: "ccard", Instrument: &instrument},
		},
		Tags: []core.Tag{
			{ID: "t-food", Changed: 100, Title: "Food"},
			{ID: "t-coffee", Changed: 100, Title: "Coffee"},
		},
		Merchants: []core.Merchant{
			{ID: "m-bar", Changed: 100, Title: "Corner Bar", Tags: []string{"t-coffee"}},
		},
		Transactions: []core.Transaction{
			{
				ID: "tx-1", Changed: 100, Created: 100,
				Date:           mustDate(t, "2025-02-10"),
				OutcomeAccount: "a-wallet", Outcome: 12.5, OutcomeInstrument: 1,
				Tags:  []string{"t-food"},
				Payee: "Corner Bakery", Merchant: &merchant,
			},
		},
	}

	st := store.New()
	require.NoError(t, st.ReplaceAll(cs, 1000))

	remote := &fakeRemote{store: st}
	return NewLedger(st, sync.NewEngine(st, remote)), remote
}

func mustDate(t *testing.T, s string) core.Date {
	t.Helper()
	d, err := core.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestCreateTransactionReturnsEnrichedView(t *testing.T) {
	l, remote := seedLedger(t)

	view, err := l.CreateTransaction(context.Background(), CreateTransactionParams{
		Date:           "2025-02-15",
		OutcomeAccount: "a-wallet",
		Outcome:        8.40,
		TagIDs:         []string{"t-coffee", "t-coffee"},
		Payee:          "Corner Bar",
	})
	require.NoError(t, err)
	require.Equal(t, 1, remote.pushCalls)

	require.NotEmpty(t, view.ID)
	require.Equal(t, "Wallet", view.OutcomeAccount)
	require.Equal(t, "€", view.OutcomeCurrency)
	require.Equal(t, []string{"Coffee"}, view.Tags)
	require.Empty(t, view.Diagnostics)

	stored, ok := l.store.Snapshot().Transaction(view.ID)
	require.True(t, ok)
	require.Equal(t, []string{"t-coffee"}, stored.Tags, "duplicate tags must collapse")
	require.Equal(t, 1, stored.OutcomeInstrument, "instrument defaults from the account")
}

func TestCreateTransactionUnknownReferenceFailsWithoutRemoteCall(t *testing.T) {
	l, remote := seedLedger(t)

	_, err := l.CreateTransaction(context.Background(), CreateTransactionParams{
		Date:           "2025-02-15",
		OutcomeAccount: "a-nope",
		Outcome:        5,
	})
	require.ErrorIs(t, err, core.ErrNotFound)
	require.Zero(t, remote.pushCalls)

	_, err = l.CreateTransaction(context.Background(), CreateTransactionParams{
		Date:           "not-a-date",
		OutcomeAccount: "a-wallet",
		Outcome:        5,
	})
	require.ErrorIs(t, err, core.ErrInvalidDate)
	require.Zero(t, remote.pushCalls)
}

func TestUpdateTransactionPatchesOnlyGivenFields(t *testing.T) {
	l, _ := seedLedger(t)

	comment := "lunch with team"
	tags := []string{"t-coffee"}
	view, err := l.UpdateTransaction(context.Background(), "tx-1", UpdateTransactionParams{
		Comment: &comment,
		TagIDs:  &tags,
	})
	require.NoError(t, err)
	require.Equal(t, "tx-1", view.ID)
	require.Equal(t, []string{"Coffee"}, view.Tags)
	require.Equal(t, "lunch with team", view.Comment)
	require.Equal(t, "Corner Bakery", view.Payee, "untouched fields keep their value")

	stored, _ := l.store.Snapshot().Transaction("tx-1")
	require.Equal(t, 12.5, stored.Outcome)
	require.Greater(t, stored.Changed, int64(100))
}

func TestUpdateMissingTransactionIsNotFound(t *testing.T) {
	l, remote := seedLedger(t)

	payee := "nobody"
	_, err := l.UpdateTransaction(context.Background(), "tx-ghost", UpdateTransactionParams{Payee: &payee})
	require.ErrorIs(t, err, core.ErrNotFound)
	require.Zero(t, remote.pushCalls)
}

func TestDeleteTransactionReturnsPreDeletionView(t *testing.T) {
	l, _ := seedLedger(t)

	view, err := l.DeleteTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	require.Equal(t, "tx-1", view.ID)
	require.Equal(t, "Corner Bakery", view.Payee)
	require.Equal(t, []string{"Food"}, view.Tags)

	stored, ok := l.store.Snapshot().Transaction("tx-1")
	require.True(t, ok, "deleted transactions are retained as tombstones")
	require.True(t, stored.Deleted)

	listed, err := l.ListTransactions(TransactionQuery{})
	require.NoError(t, err)
	require.Empty(t, listed, "tombstoned transactions never show up in listings")

	_, err = l.DeleteTransaction(context.Background(), "tx-1")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestBulkOperationsFailIndependently(t *testing.T) {
	l, remote := seedLedger(t)
	remote.rejectID = "tx-1" // server refuses the update

	comment := "renamed"
	ops := []BulkOperation{
		{Action: "create", Create: &CreateTransactionParams{
			Date: "2025-02-16", OutcomeAccount: "a-wallet", Outcome: 3,
		}},
		{Action: "update", ID: "tx-1", Update: &UpdateTransactionParams{Comment: &comment}},
		{Action: "create", Create: &CreateTransactionParams{
			Date: "bogus", OutcomeAccount: "a-wallet", Outcome: 3,
		}},
		{Action: "delete", ID: "tx-missing"},
		{Action: "create", Create: &CreateTransactionParams{
			Date: "2025-02-17", IncomeAccount: "a-bank", Income: 100,
		}},
	}

	results, err := l.BulkOperations(context.Background(), ops)
	require.NoError(t, err)
	require.Len(t, results, len(ops))

	require.Empty(t, results[0].Error)
	require.NotNil(t, results[0].Transaction)

	require.Contains(t, results[1].Error, "rejected by server")
	require.Nil(t, results[1].Transaction)

	require.Contains(t, results[2].Error, "date")
	require.Contains(t, results[3].Error, "no such transaction")

	require.Empty(t, results[4].Error)
	require.Equal(t, "income", results[4].Transaction.Type)

	// Only the two confirmed creates landed; the rejected update left tx-1 as it was.
	stored, _ := l.store.Snapshot().Transaction("tx-1")
	require.Empty(t, stored.Comment)
	require.Equal(t, 3, l.store.Snapshot().Len(core.KindTransaction))
}

func TestListTransactionsRejectsBadQuery(t *testing.T) {
	l, _ := seedLedger(t)

	_, err := l.ListTransactions(TransactionQuery{DateFrom: "02/10/2025"})
	require.Error(t, err)
	require.True(t, errors.Is(err, core.ErrInvalidDate))

	_, err = l.ListTransactions(TransactionQuery{Type: "loan"})
	require.Error(t, err)
}

func TestReadsAreCachedPerSnapshotVersion(t *testing.T) {
	l, _ := seedLedger(t)

	first := l.ListAccounts(false)
	second := l.ListAccounts(false)
	require.Equal(t, first, second)
	require.Equal(t, 1, l.cache.Len())

	// A write bumps the snapshot version, so the next read builds a new entry.
	_, err := l.CreateTransaction(context.Background(), CreateTransactionParams{
		Date: "2025-02-20", OutcomeAccount: "a-wallet", Outcome: 1,
	})
	require.NoError(t, err)
	l.ListAccounts(false)
	require.Equal(t, 2, l.cache.Len())
}

func TestEqualAmountFiltersShareOneCacheEntry(t *testing.T) {
	l, _ := seedLedger(t)

	min1, min2 := 10.0, 10.0
	first, err := l.ListTransactions(TransactionQuery{MinAmount: &min1})
	require.NoError(t, err)
	second, err := l.ListTransactions(TransactionQuery{MinAmount: &min2})
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, l.cache.Len())

	// A different bound is a different query, never the cached one.
	min3 := 100.0
	third, err := l.ListTransactions(TransactionQuery{MinAmount: &min3})
	require.NoError(t, err)
	require.Empty(t, third)
	require.Equal(t, 2, l.cache.Len())
}

func TestGetInstrumentAndSuggest(t *testing.T) {
	l, _ := seedLedger(t)

	in, err := l.GetInstrument(1)
	require.NoError(t, err)
	require.Equal(t, "EUR", in.ShortTitle)

	_, err = l.GetInstrument(99)
	require.ErrorIs(t, err, core.ErrNotFound)

	suggestions := l.SuggestCategory("Corner Bakery", "")
	require.NotEmpty(t, suggestions)
	require.Equal(t, "Food", suggestions[0].Title)

	accounts := l.FindAccount("walet")
	require.Len(t, accounts, 1)
	require.Equal(t, "Wallet", accounts[0].Title)
}
