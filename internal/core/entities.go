package core

import (
	"fmt"
	"strconv"
)

// Kind identifies an entity type in the mirrored dataset.
type Kind string

const (
	KindInstrument  Kind = "instrument"
	KindAccount     Kind = "account"
	KindTag         Kind = "tag"
	KindMerchant    Kind = "merchant"
	KindBudget      Kind = "budget"
	KindReminder    Kind = "reminder"
	KindTransaction Kind = "transaction"
)

// Kinds returns all entity kinds in referential order: entities that others
// point at come first, so a changeset applied in this order never references
// a record that has not been seen yet.
func Kinds() []Kind {
	return []Kind{
		KindInstrument,
		KindAccount,
		KindTag,
		KindMerchant,
		KindBudget,
		KindReminder,
		KindTransaction,
	}
}

// Entity is the common surface of every synced record.
type Entity interface {
	// EntityID returns the record's ID, unique within its kind.
	EntityID() string
	// ChangedAt returns the logical timestamp of the last remote change.
	ChangedAt() int64
	// Tombstoned reports whether the record is a retained deletion marker.
	Tombstoned() bool
}

type (
	// Instrument is a currency with its conversion rate to the base unit.
	Instrument struct {
		ID         int     `json:"id"`
		Changed    int64   `json:"changed"`
		Title      string  `json:"title"`
		ShortTitle string  `json:"shortTitle"`
		Symbol     string  `json:"symbol"`
		Rate       float64 `json:"rate"`
	}

	// Account is a financial account (cash, card, loan, ...).
	Account struct {
		ID         string   `json:"id"`
		Changed    int64    `json:"changed"`
		Title      string   `json:"title"`
		Type       string   `json:"type"`
		Instrument *int     `json:"instrument"`
		Balance    *float64 `json:"balance"`
		InBalance  bool     `json:"inBalance"`
		Archive    bool     `json:"archive"`
	}

	// Tag is a transaction category, optionally nested under a parent tag.
	Tag struct {
		ID          string  `json:"id"`
		Changed     int64   `json:"changed"`
		Title       string  `json:"title"`
		Parent      *string `json:"parent"`
		Icon        *string `json:"icon,omitempty"`
		Color       *int64  `json:"color,omitempty"`
		ShowIncome  bool    `json:"showIncome"`
		ShowOutcome bool    `json:"showOutcome"`
	}

	// Merchant is a known payee, with optional category hints.
	Merchant struct {
		ID      string   `json:"id"`
		Changed int64    `json:"changed"`
		Title   string   `json:"title"`
		Tags    []string `json:"tags,omitempty"`
	}

	// Budget is a planned income/outcome for a tag in a given month.
	// It has no server-side ID; the (month, tag) pair is the key.
	Budget struct {
		Changed int64   `json:"changed"`
		Date    Date    `json:"date"`
		Tag     *string `json:"tag"`
		Income  float64 `json:"income"`
		Outcome float64 `json:"outcome"`
	}

	// Reminder is a recurring transaction template.
	Reminder struct {
		ID                string   `json:"id"`
		Changed           int64    `json:"changed"`
		IncomeAccount     string   `json:"incomeAccount"`
		Income            float64  `json:"income"`
		IncomeInstrument  int      `json:"incomeInstrument"`
		OutcomeAccount    string   `json:"outcomeAccount"`
		Outcome           float64  `json:"outcome"`
		OutcomeInstrument int      `json:"outcomeInstrument"`
		Tags              []string `json:"tag,omitempty"`
		Payee             string   `json:"payee,omitempty"`
		Comment           string   `json:"comment,omitempty"`
		StartDate         Date     `json:"startDate"`
		EndDate           *Date    `json:"endDate,omitempty"`
		Interval          *string  `json:"interval,omitempty"`
		Step              int      `json:"step,omitempty"`
	}

	// Transaction is a money movement between accounts. Income and outcome
	// sides are always both present; one of them may be zero.
	Transaction struct {
		ID                string   `json:"id"`
		Changed           int64    `json:"changed"`
		Created           int64    `json:"created"`
		Deleted           bool     `json:"deleted"`
		Date              Date     `json:"date"`
		IncomeAccount     string   `json:"incomeAccount"`
		Income            float64  `json:"income"`
		IncomeInstrument  int      `json:"incomeInstrument"`
		OutcomeAccount    string   `json:"outcomeAccount"`
		Outcome           float64  `json:"outcome"`
		OutcomeInstrument int      `json:"outcomeInstrument"`
		Tags              []string `json:"tag,omitempty"`
		Merchant          *string  `json:"merchant,omitempty"`
		Payee             string   `json:"payee,omitempty"`
		Comment           string   `json:"comment,omitempty"`
	}

	// Tombstone is a retained deletion marker for kinds that have no native
	// deleted flag. It keeps stale deltas from resurrecting the record.
	Tombstone struct {
		Kind  Kind   `json:"kind"`
		ID    string `json:"id"`
		Stamp int64  `json:"stamp"`
	}
)

// TransactionType classifies a transaction by which sides carry money.
type TransactionType string

const (
	TypeExpense  TransactionType = "expense"
	TypeIncome   TransactionType = "income"
	TypeTransfer TransactionType = "transfer"
)

func (i Instrument) EntityID() string { return strconv.Itoa(i.ID) }
func (i Instrument) ChangedAt() int64 { return i.Changed }
func (i Instrument) Tombstoned() bool { return false }

func (a Account) EntityID() string { return a.ID }
func (a Account) ChangedAt() int64 { return a.Changed }
func (a Account) Tombstoned() bool { return false }

func (t Tag) EntityID() string { return t.ID }
func (t Tag) ChangedAt() int64 { return t.Changed }
func (t Tag) Tombstoned() bool { return false }

func (m Merchant) EntityID() string { return m.ID }
func (m Merchant) ChangedAt() int64 { return m.Changed }
func (m Merchant) Tombstoned() bool { return false }

// EntityID returns the composite (month, tag) key of the budget.
func (b Budget) EntityID() string {
	tag := "none"
	if b.Tag != nil {
		tag = *b.Tag
	}
	return b.Date.String() + "|" + tag
}
func (b Budget) ChangedAt() int64 { return b.Changed }
func (b Budget) Tombstoned() bool { return false }

func (r Reminder) EntityID() string { return r.ID }
func (r Reminder) ChangedAt() int64 { return r.Changed }
func (r Reminder) Tombstoned() bool { return false }

func (t Transaction) EntityID() string { return t.ID }
func (t Transaction) ChangedAt() int64 { return t.Changed }
func (t Transaction) Tombstoned() bool { return t.Deleted }

func (t Tombstone) EntityID() string { return t.ID }
func (t Tombstone) ChangedAt() int64 { return t.Stamp }
func (t Tombstone) Tombstoned() bool { return true }

// Type classifies the transaction as expense, income or transfer.
func (t Transaction) Type() TransactionType {
	switch {
	case t.Income > 0 && t.Outcome > 0 && t.IncomeAccount != t.OutcomeAccount:
		return TypeTransfer
	case t.Income > 0 && t.Outcome == 0:
		return TypeIncome
	default:
		return TypeExpense
	}
}

// Uncategorized reports whether the transaction has no tags.
func (t Transaction) Uncategorized() bool { return len(t.Tags) == 0 }

// NormalizeTags removes duplicate tag IDs while preserving first-seen order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, id := range tags {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Validate checks a transaction before it is pushed to the remote service.
func (t Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("transaction: %w", ErrMissingID)
	}
	if t.Date.IsZero() {
		return fmt.Errorf("transaction %s: %w", t.ID, ErrInvalidDate)
	}
	if t.IncomeAccount == "" && t.OutcomeAccount == "" {
		return fmt.Errorf("transaction %s: %w", t.ID, ErrMissingAccount)
	}
	if t.Income < 0 || t.Outcome < 0 {
		return fmt.Errorf("transaction %s: %w", t.ID, ErrInvalidAmount)
	}
	if t.Income == 0 && t.Outcome == 0 {
		return fmt.Errorf("transaction %s: %w", t.ID, ErrInvalidAmount)
	}
	return nil
}

// Changeset is a set of remote records grouped by kind, plus deletions.
// It is both the full-fetch payload and the incremental delta payload.
type Changeset struct {
	Instruments  []Instrument  `json:"instrument,omitempty"`
	Accounts     []Account     `json:"account,omitempty"`
	Tags         []Tag         `json:"tag,omitempty"`
	Merchants    []Merchant    `json:"merchant,omitempty"`
	Budgets      []Budget      `json:"budget,omitempty"`
	Reminders    []Reminder    `json:"reminder,omitempty"`
	Transactions []Transaction `json:"transaction,omitempty"`
	Deletions    []Deletion    `json:"deletion,omitempty"`
}

// Deletion marks a remote record removed at a logical timestamp.
type Deletion struct {
	ID     string `json:"id"`
	Object Kind   `json:"object"`
	Stamp  int64  `json:"stamp"`
}

// Batch returns the changeset records of one kind as entities.
func (c *Changeset) Batch(kind Kind) []Entity {
	switch kind {
	case KindInstrument:
		return toEntities(c.Instruments)
	case KindAccount:
		return toEntities(c.Accounts)
	case KindTag:
		return toEntities(c.Tags)
	case KindMerchant:
		return toEntities(c.Merchants)
	case KindBudget:
		return toEntities(c.Budgets)
	case KindReminder:
		return toEntities(c.Reminders)
	case KindTransaction:
		return toEntities(c.Transactions)
	}
	return nil
}

// Len returns the total number of records, deletions included.
func (c *Changeset) Len() int {
	n := len(c.Deletions)
	for _, kind := range Kinds() {
		n += len(c.Batch(kind))
	}
	return n
}

func toEntities[E Entity](records []E) []Entity {
	if len(records) == 0 {
		return nil
	}
	out := make([]Entity, len(records))
	for i, r := range records {
		out[i] = r
	}
	return out
}
