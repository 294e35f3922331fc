// Package enrich resolves the internal IDs embedded in synced records
// (accounts, tags, merchants, instruments) into denormalized display views.
//
// Enrichment is a pure function over one store snapshot. A dangling
// reference never fails a read: the affected field is set to the Unknown
// marker and the fault is reported on the view's Diagnostics.
package enrich

import (
	"fmt"

	"zenmirror/internal/core"
	"zenmirror/internal/store"
)

// Unknown substitutes any reference that does not resolve in the snapshot.
const Unknown = "unknown"

// Maps are the lookup tables for one snapshot generation.
type Maps struct {
	accountTitles      map[string]string
	accountInstruments map[string]int
	tagTitles          map[string]string
	merchantTitles     map[string]string
	symbols            map[int]string
	codes              map[int]string
}

// BuildMaps collects lookup tables from a consistent snapshot.
func BuildMaps(snap *store.Snapshot) *Maps {
	m := &Maps{
		accountTitles:      make(map[string]string),
		accountInstruments: make(map[string]int),
		tagTitles:          make(map[string]string),
		merchantTitles:     make(map[string]string),
		symbols:            make(map[int]string),
		codes:              make(map[int]string),
	}
	for _, acc := range snap.Accounts(false) {
		m.accountTitles[acc.ID] = acc.Title
		if acc.Instrument != nil {
			m.accountInstruments[acc.ID] = *acc.Instrument
		}
	}
	for _, tag := range snap.Tags() {
		m.tagTitles[tag.ID] = tag.Title
	}
	for _, mer := range snap.Merchants() {
		m.merchantTitles[mer.ID] = mer.Title
	}
	for _, in := range snap.Instruments() {
		m.symbols[in.ID] = in.Symbol
		m.codes[in.ID] = in.ShortTitle
	}
	return m
}

type (
	// AccountView is an account with its currency resolved.
	AccountView struct {
		ID          string   `json:"id"`
		Title       string   `json:"title"`
		Type        string   `json:"type"`
		Balance     *float64 `json:"balance"`
		Currency    string   `json:"currency"`
		InBalance   bool     `json:"in_balance"`
		Archive     bool     `json:"archive"`
		Diagnostics []string `json:"diagnostics,omitempty"`
	}

	// TransactionView is a transaction with every reference resolved.
	TransactionView struct {
		ID              string   `json:"id"`
		Date            string   `json:"date"`
		Type            string   `json:"type"`
		Income          float64  `json:"income"`
		IncomeAccount   string   `json:"income_account"`
		IncomeCurrency  string   `json:"income_currency"`
		Outcome         float64  `json:"outcome"`
		OutcomeAccount  string   `json:"outcome_account"`
		OutcomeCurrency string   `json:"outcome_currency"`
		Tags            []string `json:"tags"`
		Merchant        string   `json:"merchant,omitempty"`
		Payee           string   `json:"payee,omitempty"`
		Comment         string   `json:"comment,omitempty"`
		Deleted         bool     `json:"deleted,omitempty"`
		Diagnostics     []string `json:"diagnostics,omitempty"`
	}

	// TagView is a tag with its parent resolved.
	TagView struct {
		ID          string   `json:"id"`
		Title       string   `json:"title"`
		Parent      string   `json:"parent,omitempty"`
		Diagnostics []string `json:"diagnostics,omitempty"`
	}

	// MerchantView is a merchant with its tag hints resolved.
	MerchantView struct {
		ID          string   `json:"id"`
		Title       string   `json:"title"`
		Tags        []string `json:"tags,omitempty"`
		Diagnostics []string `json:"diagnostics,omitempty"`
	}

	// BudgetView is a budget with its tag resolved.
	BudgetView struct {
		Month       string   `json:"month"`
		Tag         string   `json:"tag,omitempty"`
		Income      float64  `json:"income"`
		Outcome     float64  `json:"outcome"`
		Diagnostics []string `json:"diagnostics,omitempty"`
	}

	// ReminderView is a reminder template with references resolved.
	ReminderView struct {
		ID             string   `json:"id"`
		Income         float64  `json:"income"`
		IncomeAccount  string   `json:"income_account"`
		Outcome        float64  `json:"outcome"`
		OutcomeAccount string   `json:"outcome_account"`
		Tags           []string `json:"tags"`
		Payee          string   `json:"payee,omitempty"`
		Comment        string   `json:"comment,omitempty"`
		StartDate      string   `json:"start_date"`
		EndDate        string   `json:"end_date,omitempty"`
		Interval       string   `json:"interval,omitempty"`
		Diagnostics    []string `json:"diagnostics,omitempty"`
	}

	// InstrumentView mirrors the instrument record.
	InstrumentView struct {
		ID         int     `json:"id"`
		Title      string  `json:"title"`
		ShortTitle string  `json:"short_title"`
		Symbol     string  `json:"symbol"`
		Rate       float64 `json:"rate"`
	}
)

func (m *Maps) accountName(id string, field string, diags *[]string) string {
	if id == "" {
		return ""
	}
	if title, ok := m.accountTitles[id]; ok {
		return title
	}
	*diags = append(*diags, fmt.Sprintf("%s: dangling account %s", field, id))
	return Unknown
}

func (m *Maps) tagName(id string, field string, diags *[]string) string {
	if title, ok := m.tagTitles[id]; ok {
		return title
	}
	*diags = append(*diags, fmt.Sprintf("%s: dangling tag %s", field, id))
	return Unknown
}

func (m *Maps) symbol(id int, field string, diags *[]string) string {
	if id == 0 {
		return ""
	}
	if sym, ok := m.symbols[id]; ok {
		return sym
	}
	*diags = append(*diags, fmt.Sprintf("%s: dangling instrument %d", field, id))
	return Unknown
}

// AccountInstrument resolves an account's currency instrument, if any.
func (m *Maps) AccountInstrument(id string) (int, bool) {
	in, ok := m.accountInstruments[id]
	return in, ok
}

// Transaction builds the denormalized view of one transaction.
func (m *Maps) Transaction(tx core.Transaction) TransactionView {
	var diags []string
	view := TransactionView{
		ID:              tx.ID,
		Date:            tx.Date.String(),
		Type:            string(tx.Type()),
		Income:          tx.Income,
		IncomeAccount:   m.accountName(tx.IncomeAccount, "income_account", &diags),
		IncomeCurrency:  m.symbol(tx.IncomeInstrument, "income_currency", &diags),
		Outcome:         tx.Outcome,
		OutcomeAccount:  m.accountName(tx.OutcomeAccount, "outcome_account", &diags),
		OutcomeCurrency: m.symbol(tx.OutcomeInstrument, "outcome_currency", &diags),
		Tags:            make([]string, 0, len(tx.Tags)),
		Payee:           tx.Payee,
		Comment:         tx.Comment,
		Deleted:         tx.Deleted,
	}
	for _, id := range tx.Tags {
		view.Tags = append(view.Tags, m.tagName(id, "tags", &diags))
	}
	if tx.Merchant != nil {
		if title, ok := m.merchantTitles[*tx.Merchant]; ok {
			view.Merchant = title
		} else {
			diags = append(diags, fmt.Sprintf("merchant: dangling merchant %s", *tx.Merchant))
			view.Merchant = Unknown
		}
	}
	view.Diagnostics = diags
	return view
}

// Account builds the denormalized view of one account.
func (m *Maps) Account(acc core.Account) AccountView {
	var diags []string
	view := AccountView{
		ID:        acc.ID,
		Title:     acc.Title,
		Type:      acc.Type,
		Balance:   acc.Balance,
		InBalance: acc.InBalance,
		Archive:   acc.Archive,
	}
	if acc.Instrument != nil {
		view.Currency = m.symbol(*acc.Instrument, "currency", &diags)
	}
	view.Diagnostics = diags
	return view
}

// Tag builds the denormalized view of one tag.
func (m *Maps) Tag(tag core.Tag) TagView {
	var diags []string
	view := TagView{ID: tag.ID, Title: tag.Title}
	if tag.Parent != nil {
		view.Parent = m.tagName(*tag.Parent, "parent", &diags)
	}
	view.Diagnostics = diags
	return view
}

// Merchant builds the denormalized view of one merchant.
func (m *Maps) Merchant(mer core.Merchant) MerchantView {
	var diags []string
	view := MerchantView{ID: mer.ID, Title: mer.Title}
	for _, id := range mer.Tags {
		view.Tags = append(view.Tags, m.tagName(id, "tags", &diags))
	}
	view.Diagnostics = diags
	return view
}

// Budget builds the denormalized view of one budget.
func (m *Maps) Budget(b core.Budget) BudgetView {
	var diags []string
	view := BudgetView{
		Month:   b.Date.String(),
		Income:  b.Income,
		Outcome: b.Outcome,
	}
	if b.Tag != nil {
		view.Tag = m.tagName(*b.Tag, "tag", &diags)
	}
	view.Diagnostics = diags
	return view
}

// Reminder builds the denormalized view of one reminder.
func (m *Maps) Reminder(r core.Reminder) ReminderView {
	var diags []string
	view := ReminderView{
		ID:             r.ID,
		Income:         r.Income,
		IncomeAccount:  m.accountName(r.IncomeAccount, "income_account", &diags),
		Outcome:        r.Outcome,
		OutcomeAccount: m.accountName(r.OutcomeAccount, "outcome_account", &diags),
		Tags:           make([]string, 0, len(r.Tags)),
		Payee:          r.Payee,
		Comment:        r.Comment,
		StartDate:      r.StartDate.String(),
	}
	for _, id := range r.Tags {
		view.Tags = append(view.Tags, m.tagName(id, "tags", &diags))
	}
	if r.EndDate != nil {
		view.EndDate = r.EndDate.String()
	}
	if r.Interval != nil {
		view.Interval = *r.Interval
	}
	view.Diagnostics = diags
	return view
}

// Instrument builds the display view of one instrument.
func Instrument(in core.Instrument) InstrumentView {
	return InstrumentView{
		ID:         in.ID,
		Title:      in.Title,
		ShortTitle: in.ShortTitle,
		Symbol:     in.Symbol,
		Rate:       in.Rate,
	}
}
