// Package storage persists the mirrored dataset to SQLite so the server can
// come back up with its last synced state instead of an empty mirror.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"zenmirror/internal/core"
	"zenmirror/internal/store"

	_ "modernc.org/sqlite"
)

// SQLiteRepository stores one snapshot: every entity as a JSON row plus the
// sync cursor. It implements the sync engine's SnapshotSaver.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// SaveSnapshot replaces the persisted dataset with the snapshot's contents
// in one transaction. Tombstones are kept so a restart cannot resurrect
// records deleted remotely.
func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, snap *store.Snapshot) error {
	cs := snap.Export()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entities`); err != nil {
		return fmt.Errorf("clear entities: %w", err)
	}

	insert, err := tx.PrepareContext(ctx,
		`INSERT INTO entities (kind, id, changed, deleted, data) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer insert.Close()

	rows := 0
	for _, kind := range core.Kinds() {
		for _, e := range cs.Batch(kind) {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encode %s %s: %w", kind, e.EntityID(), err)
			}
			if _, err := insert.ExecContext(ctx, string(kind), e.EntityID(), e.ChangedAt(), e.Tombstoned(), data); err != nil {
				return fmt.Errorf("insert %s %s: %w", kind, e.EntityID(), err)
			}
			rows++
		}
	}
	for _, del := range cs.Deletions {
		data, err := json.Marshal(del)
		if err != nil {
			return fmt.Errorf("encode deletion %s: %w", del.ID, err)
		}
		if _, err := insert.ExecContext(ctx, string(del.Object), del.ID, del.Stamp, true, data); err != nil {
			return fmt.Errorf("insert deletion %s: %w", del.ID, err)
		}
		rows++
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sync_state (id, cursor) VALUES (1, ?)
		 ON CONFLICT (id) DO UPDATE SET cursor = excluded.cursor`, snap.Cursor()); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot save: %w", err)
	}

	slog.InfoContext(ctx, "Snapshot persisted",
		"rows", rows,
		"cursor", snap.Cursor())
	return nil
}

// Load reads the persisted dataset back as a changeset plus the saved
// cursor. An empty database returns an empty changeset and cursor zero.
func (r *SQLiteRepository) Load(ctx context.Context) (*core.Changeset, int64, error) {
	var cursor int64
	err := r.db.QueryRowContext(ctx, `SELECT cursor FROM sync_state WHERE id = 1`).Scan(&cursor)
	if err != nil && err != sql.ErrNoRows {
		return nil, 0, fmt.Errorf("load cursor: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT kind, id, deleted, data FROM entities`)
	if err != nil {
		return nil, 0, fmt.Errorf("load entities: %w", err)
	}
	defer rows.Close()

	cs := &core.Changeset{}
	for rows.Next() {
		var (
			kind    string
			id      string
			deleted bool
			data    []byte
		)
		if err := rows.Scan(&kind, &id, &deleted, &data); err != nil {
			return nil, 0, fmt.Errorf("scan entity row: %w", err)
		}
		if err := decodeRow(cs, core.Kind(kind), deleted, data); err != nil {
			return nil, 0, fmt.Errorf("decode %s %s: %w", kind, id, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("read entity rows: %w", err)
	}
	return cs, cursor, nil
}

// decodeRow routes one persisted row back into the changeset. Transactions
// carry their deleted flag in the payload; every other tombstoned row was
// written as a deletion record.
func decodeRow(cs *core.Changeset, kind core.Kind, deleted bool, data []byte) error {
	if deleted && kind != core.KindTransaction {
		var del core.Deletion
		if err := json.Unmarshal(data, &del); err != nil {
			return err
		}
		cs.Deletions = append(cs.Deletions, del)
		return nil
	}
	switch kind {
	case core.KindInstrument:
		var v core.Instrument
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		cs.Instruments = append(cs.Instruments, v)
	case core.KindAccount:
		var v core.Account
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		cs.Accounts = append(cs.Accounts, v)
	case core.KindTag:
		var v core.Tag
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		cs.Tags = append(cs.Tags, v)
	case core.KindMerchant:
		var v core.Merchant
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		cs.Merchants = append(cs.Merchants, v)
	case core.KindBudget:
		var v core.Budget
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		cs.Budgets = append(cs.Budgets, v)
	case core.KindReminder:
		var v core.Reminder
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		cs.Reminders = append(cs.Reminders, v)
	case core.KindTransaction:
		var v core.Transaction
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		cs.Transactions = append(cs.Transactions, v)
	default:
		return fmt.Errorf("unknown kind %q", kind)
	}
	return nil
}
