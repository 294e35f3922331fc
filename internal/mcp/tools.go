package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"zenmirror/internal/service"
)

type listTransactionsArgs struct {
	DateFrom      string   `json:"date_from"`
	DateTo        string   `json:"date_to"`
	Account       string   `json:"account"`
	Tag           string   `json:"tag"`
	Merchant      string   `json:"merchant"`
	Payee         string   `json:"payee"`
	MinAmount     *float64 `json:"min_amount"`
	MaxAmount     *float64 `json:"max_amount"`
	Type          string   `json:"type"`
	Uncategorized bool     `json:"uncategorized"`
	SortDesc      bool     `json:"sort_desc"`
	Limit         int      `json:"limit"`
}

// RegisterTools binds the complete tool surface to the façade. Every tool
// declares a strict parameter schema; arguments that do not match are
// rejected before the façade ever sees them.
func RegisterTools(reg *Registry, ledger *service.Ledger) error {
	type tool struct {
		name        string
		description string
		schema      string
		handler     Handler
	}

	tools := []tool{
		{
			name:        "sync",
			description: "Fetch and apply remote changes since the last sync.",
			schema:      emptySchema,
			handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
				if err := ledger.Sync(ctx); err != nil {
					return nil, err
				}
				return ledger.Status(), nil
			},
		},
		{
			name:        "full_sync",
			description: "Discard local state and re-download the complete dataset.",
			schema:      emptySchema,
			handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
				if err := ledger.FullSync(ctx); err != nil {
					return nil, err
				}
				return ledger.Status(), nil
			},
		},
		{
			name:        "list_accounts",
			description: "List accounts with resolved currencies. Optionally hide archived accounts.",
			schema: `{
				"type": "object",
				"properties": {
					"active_only": {"type": "boolean", "description": "Skip archived accounts"}
				},
				"additionalProperties": false
			}`,
			handler: func(ctx context.Context, args json.RawMessage) (any, error) {
				var p struct {
					ActiveOnly bool `json:"active_only"`
				}
				if err := json.Unmarshal(args, &p); err != nil {
					return nil, err
				}
				accounts := ledger.ListAccounts(p.ActiveOnly)
				return map[string]any{"accounts": accounts, "count": len(accounts)}, nil
			},
		},
		{
			name:        "list_transactions",
			description: "List transactions filtered by date range, account, tag, merchant, payee, amount range, type or missing category. Ordered by date; ties break by ID.",
			schema: `{
				"type": "object",
				"properties": {
					"date_from": {"type": "string", "description": "Inclusive start date, YYYY-MM-DD"},
					"date_to": {"type": "string", "description": "Inclusive end date, YYYY-MM-DD"},
					"account": {"type": "string", "description": "Account ID on either side"},
					"tag": {"type": "string", "description": "Tag ID"},
					"merchant": {"type": "string", "description": "Merchant ID"},
					"payee": {"type": "string", "description": "Case-insensitive payee substring"},
					"min_amount": {"type": "number"},
					"max_amount": {"type": "number"},
					"type": {"type": "string", "enum": ["expense", "income", "transfer"]},
					"uncategorized": {"type": "boolean", "description": "Only transactions without tags"},
					"sort_desc": {"type": "boolean", "description": "Newest first"},
					"limit": {"type": "integer", "minimum": 1}
				},
				"additionalProperties": false
			}`,
			handler: func(ctx context.Context, args json.RawMessage) (any, error) {
				var p listTransactionsArgs
				if err := json.Unmarshal(args, &p); err != nil {
					return nil, err
				}
				txs, err := ledger.ListTransactions(service.TransactionQuery{
					DateFrom:      p.DateFrom,
					DateTo:        p.DateTo,
					AccountID:     p.Account,
					TagID:         p.Tag,
					MerchantID:    p.Merchant,
					Payee:         p.Payee,
					MinAmount:     p.MinAmount,
					MaxAmount:     p.MaxAmount,
					Type:          p.Type,
					Uncategorized: p.Uncategorized,
					SortDesc:      p.SortDesc,
					Limit:         p.Limit,
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{"transactions": txs, "count": len(txs)}, nil
			},
		},
		{
			name:        "list_tags",
			description: "List category tags with parent names resolved.",
			schema:      emptySchema,
			handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
				tags := ledger.ListTags()
				return map[string]any{"tags": tags, "count": len(tags)}, nil
			},
		},
		{
			name:        "list_merchants",
			description: "List known merchants with their category hints resolved.",
			schema:      emptySchema,
			handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
				merchants := ledger.ListMerchants()
				return map[string]any{"merchants": merchants, "count": len(merchants)}, nil
			},
		},
		{
			name:        "list_budgets",
			description: "List budgets, optionally for one month (YYYY-MM).",
			schema: `{
				"type": "object",
				"properties": {
					"month": {"type": "string", "description": "Month filter, YYYY-MM"}
				},
				"additionalProperties": false
			}`,
			handler: func(ctx context.Context, args json.RawMessage) (any, error) {
				var p struct {
					Month string `json:"month"`
				}
				if err := json.Unmarshal(args, &p); err != nil {
					return nil, err
				}
				budgets, err := ledger.ListBudgets(p.Month)
				if err != nil {
					return nil, err
				}
				return map[string]any{"budgets": budgets, "count": len(budgets)}, nil
			},
		},
		{
			name:        "list_reminders",
			description: "List recurring transaction templates.",
			schema:      emptySchema,
			handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
				reminders := ledger.ListReminders()
				return map[string]any{"reminders": reminders, "count": len(reminders)}, nil
			},
		},
		{
			name:        "list_instruments",
			description: "List currency instruments with conversion rates.",
			schema:      emptySchema,
			handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
				instruments := ledger.ListInstruments()
				return map[string]any{"instruments": instruments, "count": len(instruments)}, nil
			},
		},
		{
			name:        "get_instrument",
			description: "Get one currency instrument by numeric ID.",
			schema: `{
				"type": "object",
				"properties": {
					"id": {"type": "integer"}
				},
				"required": ["id"],
				"additionalProperties": false
			}`,
			handler: func(ctx context.Context, args json.RawMessage) (any, error) {
				var p struct {
					ID int `json:"id"`
				}
				if err := json.Unmarshal(args, &p); err != nil {
					return nil, err
				}
				return ledger.GetInstrument(p.ID)
			},
		},
		{
			name:        "find_account",
			description: "Find accounts by title: exact, substring and close-misspelling matches, best first.",
			schema:      titleSchema,
			handler: func(ctx context.Context, args json.RawMessage) (any, error) {
				title, err := titleArg(args)
				if err != nil {
					return nil, err
				}
				accounts := ledger.FindAccount(title)
				return map[string]any{"accounts": accounts, "count": len(accounts)}, nil
			},
		},
		{
			name:        "find_tag",
			description: "Find category tags by title: exact, substring and close-misspelling matches, best first.",
			schema:      titleSchema,
			handler: func(ctx context.Context, args json.RawMessage) (any, error) {
				title, err := titleArg(args)
				if err != nil {
					return nil, err
				}
				tags := ledger.FindTag(title)
				return map[string]any{"tags": tags, "count": len(tags)}, nil
			},
		},
		{
			name:        "suggest_category",
			description: "Suggest category tags for a payee and/or comment, ranked by how often they were used on similar past transactions.",
			schema: `{
				"type": "object",
				"properties": {
					"payee": {"type": "string"},
					"comment": {"type": "string"}
				},
				"additionalProperties": false
			}`,
			handler: func(ctx context.Context, args json.RawMessage) (any, error) {
				var p struct {
					Payee   string `json:"payee"`
					Comment string `json:"comment"`
				}
				if err := json.Unmarshal(args, &p); err != nil {
					return nil, err
				}
				suggestions := ledger.SuggestCategory(p.Payee, p.Comment)
				return map[string]any{"suggestions": suggestions, "count": len(suggestions)}, nil
			},
		},
		{
			name:        "create_transaction",
			description: "Create a transaction. At least one side (income or outcome) must carry an account and a positive amount; instruments default to the account currency.",
			schema: `{
				"type": "object",
				"properties": {
					"date": {"type": "string", "description": "YYYY-MM-DD"},
					"outcome_account": {"type": "string"},
					"outcome": {"type": "number", "minimum": 0},
					"income_account": {"type": "string"},
					"income": {"type": "number", "minimum": 0},
					"tags": {"type": "array", "items": {"type": "string"}},
					"merchant": {"type": "string"},
					"payee": {"type": "string"},
					"comment": {"type": "string"}
				},
				"required": ["date"],
				"additionalProperties": false
			}`,
			handler: func(ctx context.Context, args json.RawMessage) (any, error) {
				var p service.CreateTransactionParams
				if err := json.Unmarshal(args, &p); err != nil {
					return nil, err
				}
				return ledger.CreateTransaction(ctx, p)
			},
		},
		{
			name:        "update_transaction",
			description: "Patch a transaction. Omitted fields keep their value; an empty tags array clears the tags.",
			schema: `{
				"type": "object",
				"properties": {
					"id": {"type": "string"},
					"date": {"type": "string"},
					"outcome_account": {"type": "string"},
					"outcome": {"type": "number", "minimum": 0},
					"income_account": {"type": "string"},
					"income": {"type": "number", "minimum": 0},
					"tags": {"type": "array", "items": {"type": "string"}},
					"merchant": {"type": "string"},
					"payee": {"type": "string"},
					"comment": {"type": "string"}
				},
				"required": ["id"],
				"additionalProperties": false
			}`,
			handler: func(ctx context.Context, args json.RawMessage) (any, error) {
				var p struct {
					ID string `json:"id"`
					service.UpdateTransactionParams
				}
				if err := json.Unmarshal(args, &p); err != nil {
					return nil, err
				}
				return ledger.UpdateTransaction(ctx, p.ID, p.UpdateTransactionParams)
			},
		},
		{
			name:        "delete_transaction",
			description: "Delete a transaction. Returns the record as it was before deletion.",
			schema: `{
				"type": "object",
				"properties": {
					"id": {"type": "string"}
				},
				"required": ["id"],
				"additionalProperties": false
			}`,
			handler: func(ctx context.Context, args json.RawMessage) (any, error) {
				var p struct {
					ID string `json:"id"`
				}
				if err := json.Unmarshal(args, &p); err != nil {
					return nil, err
				}
				return ledger.DeleteTransaction(ctx, p.ID)
			},
		},
		{
			name:        "bulk_operations",
			description: "Run a batch of creates, updates and deletes. Items succeed or fail independently; the result reports one outcome per operation, in order.",
			schema: `{
				"type": "object",
				"properties": {
					"operations": {
						"type": "array",
						"minItems": 1,
						"items": {
							"type": "object",
							"properties": {
								"action": {"type": "string", "enum": ["create", "update", "delete"]},
								"id": {"type": "string"},
								"create": {"type": "object"},
								"update": {"type": "object"}
							},
							"required": ["action"],
							"additionalProperties": false
						}
					}
				},
				"required": ["operations"],
				"additionalProperties": false
			}`,
			handler: func(ctx context.Context, args json.RawMessage) (any, error) {
				var p struct {
					Operations []service.BulkOperation `json:"operations"`
				}
				if err := json.Unmarshal(args, &p); err != nil {
					return nil, err
				}
				results, err := ledger.BulkOperations(ctx, p.Operations)
				if err != nil {
					return nil, err
				}
				return map[string]any{"results": results, "count": len(results)}, nil
			},
		},
	}

	for _, t := range tools {
		if err := reg.Register(t.name, t.description, t.schema, t.handler); err != nil {
			return err
		}
	}
	return nil
}

const emptySchema = `{
	"type": "object",
	"properties": {},
	"additionalProperties": false
}`

const titleSchema = `{
	"type": "object",
	"properties": {
		"title": {"type": "string", "minLength": 1}
	},
	"required": ["title"],
	"additionalProperties": false
}`

func titleArg(args json.RawMessage) (string, error) {
	var p struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("decode title: %w", err)
	}
	return p.Title, nil
}
