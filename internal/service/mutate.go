package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"zenmirror/internal/core"
	"zenmirror/internal/enrich"
	"zenmirror/internal/sync"
)

// CreateTransactionParams carries the caller-supplied fields of a new
// transaction. Exactly one account side may be left empty; amounts are
// non-negative and at least one must be positive.
type CreateTransactionParams struct {
	Date           string   `json:"date"`
	OutcomeAccount string   `json:"outcome_account,omitempty"`
	Outcome        float64  `json:"outcome,omitempty"`
	IncomeAccount  string   `json:"income_account,omitempty"`
	Income         float64  `json:"income,omitempty"`
	TagIDs         []string `json:"tags,omitempty"`
	MerchantID     string   `json:"merchant,omitempty"`
	Payee          string   `json:"payee,omitempty"`
	Comment        string   `json:"comment,omitempty"`
}

// UpdateTransactionParams patches an existing transaction. Nil fields keep
// their current value; an empty TagIDs slice clears the tags.
type UpdateTransactionParams struct {
	Date           *string   `json:"date,omitempty"`
	OutcomeAccount *string   `json:"outcome_account,omitempty"`
	Outcome        *float64  `json:"outcome,omitempty"`
	IncomeAccount  *string   `json:"income_account,omitempty"`
	Income         *float64  `json:"income,omitempty"`
	TagIDs         *[]string `json:"tags,omitempty"`
	MerchantID     *string   `json:"merchant,omitempty"`
	Payee          *string   `json:"payee,omitempty"`
	Comment        *string   `json:"comment,omitempty"`
}

// buildCreate turns params into a push-ready transaction. Instruments default
// to the currency of the account on each side.
func (l *Ledger) buildCreate(p CreateTransactionParams) (*core.Transaction, error) {
	date, err := core.ParseDate(p.Date)
	if err != nil {
		return nil, fmt.Errorf("date: %w", err)
	}
	snap := l.store.Snapshot()
	maps := enrich.BuildMaps(snap)

	now := time.Now().Unix()
	tx := core.Transaction{
		ID:             uuid.NewString(),
		Created:        now,
		Changed:        now,
		Date:           date,
		IncomeAccount:  p.IncomeAccount,
		Income:         p.Income,
		OutcomeAccount: p.OutcomeAccount,
		Outcome:        p.Outcome,
		Tags:           core.NormalizeTags(p.TagIDs),
		Payee:          p.Payee,
		Comment:        p.Comment,
	}
	if p.MerchantID != "" {
		merchant := p.MerchantID
		tx.Merchant = &merchant
	}

	for _, accID := range []string{tx.IncomeAccount, tx.OutcomeAccount} {
		if accID == "" {
			continue
		}
		if _, ok := snap.Get(core.KindAccount, accID); !ok {
			return nil, fmt.Errorf("account %s: %w", accID, core.ErrNotFound)
		}
	}
	for _, tagID := range tx.Tags {
		if _, ok := snap.Get(core.KindTag, tagID); !ok {
			return nil, fmt.Errorf("tag %s: %w", tagID, core.ErrNotFound)
		}
	}
	if in, ok := maps.AccountInstrument(tx.IncomeAccount); ok {
		tx.IncomeInstrument = in
	}
	if in, ok := maps.AccountInstrument(tx.OutcomeAccount); ok {
		tx.OutcomeInstrument = in
	}

	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return &tx, nil
}

// buildUpdate loads the current transaction and applies the patch.
func (l *Ledger) buildUpdate(id string, p UpdateTransactionParams) (*core.Transaction, error) {
	snap := l.store.Snapshot()
	tx, ok := snap.Transaction(id)
	if !ok || tx.Deleted {
		return nil, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}

	if p.Date != nil {
		date, err := core.ParseDate(*p.Date)
		if err != nil {
			return nil, fmt.Errorf("date: %w", err)
		}
		tx.Date = date
	}
	if p.IncomeAccount != nil {
		tx.IncomeAccount = *p.IncomeAccount
	}
	if p.Income != nil {
		tx.Income = *p.Income
	}
	if p.OutcomeAccount != nil {
		tx.OutcomeAccount = *p.OutcomeAccount
	}
	if p.Outcome != nil {
		tx.Outcome = *p.Outcome
	}
	if p.TagIDs != nil {
		tx.Tags = core.NormalizeTags(*p.TagIDs)
	}
	if p.MerchantID != nil {
		if *p.MerchantID == "" {
			tx.Merchant = nil
		} else {
			merchant := *p.MerchantID
			tx.Merchant = &merchant
		}
	}
	if p.Payee != nil {
		tx.Payee = *p.Payee
	}
	if p.Comment != nil {
		tx.Comment = *p.Comment
	}
	tx.Changed = time.Now().Unix()

	maps := enrich.BuildMaps(snap)
	if in, ok := maps.AccountInstrument(tx.IncomeAccount); ok {
		tx.IncomeInstrument = in
	}
	if in, ok := maps.AccountInstrument(tx.OutcomeAccount); ok {
		tx.OutcomeInstrument = in
	}

	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return &tx, nil
}

// CreateTransaction validates, pushes and locally applies a new transaction,
// returning its enriched view.
func (l *Ledger) CreateTransaction(ctx context.Context, p CreateTransactionParams) (enrich.TransactionView, error) {
	tx, err := l.buildCreate(p)
	if err != nil {
		return enrich.TransactionView{}, err
	}
	return l.pushOne(ctx, sync.Operation{Action: sync.ActionCreate, Transaction: tx})
}

// UpdateTransaction patches an existing transaction and returns its enriched
// post-update view.
func (l *Ledger) UpdateTransaction(ctx context.Context, id string, p UpdateTransactionParams) (enrich.TransactionView, error) {
	tx, err := l.buildUpdate(id, p)
	if err != nil {
		return enrich.TransactionView{}, err
	}
	return l.pushOne(ctx, sync.Operation{Action: sync.ActionUpdate, Transaction: tx})
}

// DeleteTransaction removes a transaction remotely and locally, returning
// the enriched view of the record as it was before deletion.
func (l *Ledger) DeleteTransaction(ctx context.Context, id string) (enrich.TransactionView, error) {
	snap := l.store.Snapshot()
	tx, ok := snap.Transaction(id)
	if !ok || tx.Deleted {
		return enrich.TransactionView{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	last := enrich.BuildMaps(snap).Transaction(tx)

	results, err := l.engine.Push(ctx, []sync.Operation{{Action: sync.ActionDelete, ID: id}})
	if err != nil {
		return enrich.TransactionView{}, err
	}
	if results[0].Err != nil {
		return enrich.TransactionView{}, results[0].Err
	}
	return last, nil
}

// pushOne runs a single-operation push and enriches the confirmed record.
func (l *Ledger) pushOne(ctx context.Context, op sync.Operation) (enrich.TransactionView, error) {
	results, err := l.engine.Push(ctx, []sync.Operation{op})
	if err != nil {
		return enrich.TransactionView{}, err
	}
	res := results[0]
	if res.Err != nil {
		return enrich.TransactionView{}, res.Err
	}
	maps := enrich.BuildMaps(l.store.Snapshot())
	return maps.Transaction(*res.Transaction), nil
}

// BulkOperation is one step of a bulk mutation request.
type BulkOperation struct {
	Action string                   `json:"action"`
	ID     string                   `json:"id,omitempty"`
	Create *CreateTransactionParams `json:"create,omitempty"`
	Update *UpdateTransactionParams `json:"update,omitempty"`
}

// BulkResult is the per-item outcome of a bulk mutation. Failed items carry
// Error; successful creates and updates carry the enriched transaction.
type BulkResult struct {
	Action      string                  `json:"action"`
	ID          string                  `json:"id"`
	Error       string                  `json:"error,omitempty"`
	Transaction *enrich.TransactionView `json:"transaction,omitempty"`
}

// BulkOperations executes a mixed batch of creates, updates and deletes.
// Items fail independently: a bad item never blocks its neighbours, and the
// result slice always has one entry per input, in order.
func (l *Ledger) BulkOperations(ctx context.Context, ops []BulkOperation) ([]BulkResult, error) {
	results := make([]BulkResult, len(ops))
	send := make([]sync.Operation, 0, len(ops))
	sendIdx := make([]int, 0, len(ops))

	for i, op := range ops {
		results[i].Action = op.Action
		results[i].ID = op.ID

		built, err := l.buildOp(op)
		if err != nil {
			results[i].Error = err.Error()
			continue
		}
		if results[i].ID == "" {
			results[i].ID = built.TargetID()
		}
		send = append(send, built)
		sendIdx = append(sendIdx, i)
	}

	if len(send) > 0 {
		pushed, err := l.engine.Push(ctx, send)
		if err != nil {
			return nil, err
		}
		maps := enrich.BuildMaps(l.store.Snapshot())
		for i, res := range pushed {
			idx := sendIdx[i]
			if res.Err != nil {
				results[idx].Error = res.Err.Error()
				continue
			}
			if res.Op.Action != sync.ActionDelete && res.Transaction != nil {
				view := maps.Transaction(*res.Transaction)
				results[idx].Transaction = &view
			}
		}
	}
	return results, nil
}

func (l *Ledger) buildOp(op BulkOperation) (sync.Operation, error) {
	switch sync.Action(op.Action) {
	case sync.ActionCreate:
		if op.Create == nil {
			return sync.Operation{}, fmt.Errorf("create: missing transaction payload")
		}
		tx, err := l.buildCreate(*op.Create)
		if err != nil {
			return sync.Operation{}, err
		}
		return sync.Operation{Action: sync.ActionCreate, Transaction: tx}, nil
	case sync.ActionUpdate:
		if op.Update == nil {
			return sync.Operation{}, fmt.Errorf("update: missing patch payload")
		}
		tx, err := l.buildUpdate(op.ID, *op.Update)
		if err != nil {
			return sync.Operation{}, err
		}
		return sync.Operation{Action: sync.ActionUpdate, Transaction: tx}, nil
	case sync.ActionDelete:
		if op.ID == "" {
			return sync.Operation{}, fmt.Errorf("delete: %w", core.ErrMissingID)
		}
		return sync.Operation{Action: sync.ActionDelete, ID: op.ID}, nil
	default:
		return sync.Operation{}, fmt.Errorf("unknown operation %q", op.Action)
	}
}
