// Package service is the query/mutation façade over the mirrored dataset.
// Reads are pure functions over one store snapshot and never trigger a sync;
// writes round-trip through the sync engine's remote push before the local
// view reflects them.
package service

import (
	"context"
	"fmt"
	"time"

	"zenmirror/internal/cache"
	"zenmirror/internal/core"
	"zenmirror/internal/enrich"
	"zenmirror/internal/store"
	"zenmirror/internal/sync"
)

const (
	cacheSize = 256
	cacheTTL  = 30 * time.Second
)

// Ledger composes the store, sync engine and enrichment into the operation
// surface consumed by the tool dispatcher.
type Ledger struct {
	store  *store.Store
	engine *sync.Engine
	cache  *cache.LRUCache[any]
}

// NewLedger creates the façade over an existing store and engine.
func NewLedger(st *store.Store, eng *sync.Engine) *Ledger {
	return &Ledger{
		store:  st,
		engine: eng,
		cache:  cache.NewLRUCache[any](cacheSize, cacheTTL),
	}
}

// RunCacheJanitor drops expired result-cache entries in the background until
// ctx is done. Without it expired entries still fall out on read or eviction.
func (l *Ledger) RunCacheJanitor(ctx context.Context) {
	l.cache.Janitor(ctx, cacheTTL)
}

// Sync runs one incremental sync.
func (l *Ledger) Sync(ctx context.Context) error { return l.engine.Sync(ctx) }

// FullSync re-downloads the complete dataset.
func (l *Ledger) FullSync(ctx context.Context) error { return l.engine.FullSync(ctx) }

// cached resolves a read through the result cache. Keys embed the snapshot
// version, so entries built from an older snapshot are simply never hit
// again after a sync and age out by TTL.
func cached[T any](l *Ledger, key string, build func() T) T {
	if hit, ok := l.cache.Get(key); ok {
		if v, ok := hit.(T); ok {
			return v
		}
	}
	v := build()
	l.cache.Set(key, v)
	return v
}

// ListAccounts returns enriched accounts, optionally skipping archived ones.
func (l *Ledger) ListAccounts(activeOnly bool) []enrich.AccountView {
	snap := l.store.Snapshot()
	key := fmt.Sprintf("accounts:%d:%t", snap.Version(), activeOnly)
	return cached(l, key, func() []enrich.AccountView {
		maps := enrich.BuildMaps(snap)
		accounts := snap.Accounts(activeOnly)
		out := make([]enrich.AccountView, 0, len(accounts))
		for _, acc := range accounts {
			out = append(out, maps.Account(acc))
		}
		return out
	})
}

// TransactionQuery narrows and orders a transaction listing. Dates use
// YYYY-MM-DD; Type is one of expense, income, transfer, or empty.
type TransactionQuery struct {
	DateFrom      string
	DateTo        string
	AccountID     string
	TagID         string
	MerchantID    string
	Payee         string
	MinAmount     *float64
	MaxAmount     *float64
	Type          string
	Uncategorized bool
	SortDesc      bool
	Limit         int
}

func (q TransactionQuery) filter() (store.TxFilter, error) {
	f := store.TxFilter{
		Account:       q.AccountID,
		Tag:           q.TagID,
		Merchant:      q.MerchantID,
		Payee:         q.Payee,
		MinAmount:     q.MinAmount,
		MaxAmount:     q.MaxAmount,
		Uncategorized: q.Uncategorized,
		SortDesc:      q.SortDesc,
		Limit:         q.Limit,
	}
	if q.DateFrom != "" {
		d, err := core.ParseDate(q.DateFrom)
		if err != nil {
			return f, fmt.Errorf("date_from: %w", err)
		}
		f.DateFrom = &d
	}
	if q.DateTo != "" {
		d, err := core.ParseDate(q.DateTo)
		if err != nil {
			return f, fmt.Errorf("date_to: %w", err)
		}
		f.DateTo = &d
	}
	switch q.Type {
	case "":
	case string(core.TypeExpense), string(core.TypeIncome), string(core.TypeTransfer):
		f.Type = core.TransactionType(q.Type)
	default:
		return f, fmt.Errorf("unknown transaction type %q", q.Type)
	}
	return f, nil
}

// cacheKey identifies the query by value. Pointer fields are formatted
// dereferenced so equal queries share an entry.
func (q TransactionQuery) cacheKey(version uint64) string {
	min, max := "-", "-"
	if q.MinAmount != nil {
		min = fmt.Sprintf("%g", *q.MinAmount)
	}
	if q.MaxAmount != nil {
		max = fmt.Sprintf("%g", *q.MaxAmount)
	}
	return fmt.Sprintf("transactions:%d:%s:%s:%s:%s:%s:%s:%s:%s:%s:%t:%t:%d",
		version, q.DateFrom, q.DateTo, q.AccountID, q.TagID, q.MerchantID,
		q.Payee, min, max, q.Type, q.Uncategorized, q.SortDesc, q.Limit)
}

// ListTransactions returns enriched transactions matching the query, ordered
// by date with ID tie-break.
func (l *Ledger) ListTransactions(q TransactionQuery) ([]enrich.TransactionView, error) {
	f, err := q.filter()
	if err != nil {
		return nil, err
	}
	snap := l.store.Snapshot()
	return cached(l, q.cacheKey(snap.Version()), func() []enrich.TransactionView {
		maps := enrich.BuildMaps(snap)
		txs := snap.Transactions(f)
		out := make([]enrich.TransactionView, 0, len(txs))
		for _, tx := range txs {
			out = append(out, maps.Transaction(tx))
		}
		return out
	}), nil
}

// ListTags returns enriched tags.
func (l *Ledger) ListTags() []enrich.TagView {
	snap := l.store.Snapshot()
	return cached(l, fmt.Sprintf("tags:%d", snap.Version()), func() []enrich.TagView {
		maps := enrich.BuildMaps(snap)
		tags := snap.Tags()
		out := make([]enrich.TagView, 0, len(tags))
		for _, tag := range tags {
			out = append(out, maps.Tag(tag))
		}
		return out
	})
}

// ListMerchants returns enriched merchants.
func (l *Ledger) ListMerchants() []enrich.MerchantView {
	snap := l.store.Snapshot()
	return cached(l, fmt.Sprintf("merchants:%d", snap.Version()), func() []enrich.MerchantView {
		maps := enrich.BuildMaps(snap)
		merchants := snap.Merchants()
		out := make([]enrich.MerchantView, 0, len(merchants))
		for _, mer := range merchants {
			out = append(out, maps.Merchant(mer))
		}
		return out
	})
}

// ListBudgets returns enriched budgets, optionally for one YYYY-MM month.
func (l *Ledger) ListBudgets(month string) ([]enrich.BudgetView, error) {
	var monthDate core.Date
	if month != "" {
		d, err := core.ParseMonth(month)
		if err != nil {
			return nil, fmt.Errorf("month: %w", err)
		}
		monthDate = d
	}
	snap := l.store.Snapshot()
	maps := enrich.BuildMaps(snap)
	var out []enrich.BudgetView
	for _, b := range snap.Budgets() {
		if month != "" && !b.Date.Equal(monthDate) {
			continue
		}
		out = append(out, maps.Budget(b))
	}
	return out, nil
}

// ListReminders returns enriched reminders.
func (l *Ledger) ListReminders() []enrich.ReminderView {
	snap := l.store.Snapshot()
	maps := enrich.BuildMaps(snap)
	reminders := snap.Reminders()
	out := make([]enrich.ReminderView, 0, len(reminders))
	for _, r := range reminders {
		out = append(out, maps.Reminder(r))
	}
	return out
}

// ListInstruments returns all currency instruments.
func (l *Ledger) ListInstruments() []enrich.InstrumentView {
	snap := l.store.Snapshot()
	instruments := snap.Instruments()
	out := make([]enrich.InstrumentView, 0, len(instruments))
	for _, in := range instruments {
		out = append(out, enrich.Instrument(in))
	}
	return out
}

// GetInstrument resolves one instrument by numeric ID.
func (l *Ledger) GetInstrument(id int) (enrich.InstrumentView, error) {
	in, ok := l.store.Snapshot().Instrument(id)
	if !ok {
		return enrich.InstrumentView{}, fmt.Errorf("instrument %d: %w", id, core.ErrNotFound)
	}
	return enrich.Instrument(in), nil
}

// FindAccount returns accounts ranked against a title query (exact, then
// substring, then close-misspelling matches).
func (l *Ledger) FindAccount(title string) []enrich.AccountView {
	snap := l.store.Snapshot()
	maps := enrich.BuildMaps(snap)
	accounts := snap.FindAccounts(title)
	out := make([]enrich.AccountView, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, maps.Account(acc))
	}
	return out
}

// FindTag returns tags ranked against a title query.
func (l *Ledger) FindTag(title string) []enrich.TagView {
	snap := l.store.Snapshot()
	maps := enrich.BuildMaps(snap)
	tags := snap.FindTags(title)
	out := make([]enrich.TagView, 0, len(tags))
	for _, tag := range tags {
		out = append(out, maps.Tag(tag))
	}
	return out
}

// SuggestCategory ranks category tags for a payee and/or comment.
func (l *Ledger) SuggestCategory(payee, comment string) []enrich.Suggestion {
	return enrich.SuggestCategory(l.store.Snapshot(), payee, comment)
}

// Status reports the sync engine state and dataset counters.
func (l *Ledger) Status() map[string]any {
	snap := l.store.Snapshot()
	state, lastErr := l.engine.Status()
	out := map[string]any{
		"state":  string(state),
		"cursor": snap.Cursor(),
	}
	if lastErr != nil {
		out["last_error"] = lastErr.Error()
	}
	counts := make(map[string]int, len(core.Kinds()))
	for _, kind := range core.Kinds() {
		counts[string(kind)] = snap.Len(kind)
	}
	out["records"] = counts
	return out
}
