// Package sync drives full and incremental synchronization between the
// remote finance service and the local entity store, and stages bulk
// mutations with per-item outcomes.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"

	"golang.org/x/sync/singleflight"

	"zenmirror/internal/core"
	"zenmirror/internal/store"
)

// State is the engine's phase for the current or last attempt.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateFailed  State = "failed"
)

// Client is the remote finance-service collaborator.
type Client interface {
	// FullFetch returns the complete dataset and the server cursor.
	FullFetch(ctx context.Context, kinds []core.Kind) (*core.Changeset, int64, error)
	// DeltaFetch returns changes since cursor and the new cursor. It returns
	// core.ErrStaleCursor when the server no longer recognizes the cursor.
	DeltaFetch(ctx context.Context, cursor int64) (*core.Changeset, int64, error)
	// Push sends mutations and returns one result per operation, in order.
	Push(ctx context.Context, ops []Operation) ([]PushResult, error)
}

// SnapshotSaver persists a store snapshot after successful syncs.
type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, snap *store.Snapshot) error
}

// Publisher emits dataset-change events after successful syncs and writes.
type Publisher interface {
	PublishSyncCompleted(ctx context.Context, cursor int64, applied int) error
	PublishTransactionMutated(ctx context.Context, action, id string) error
}

// Action is a bulk sub-operation verb.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Operation is one sub-operation of a bulk mutation.
type Operation struct {
	Action      Action
	Transaction *core.Transaction // create/update payload
	ID          string            // delete target
}

// TargetID returns the transaction ID the operation refers to.
func (op Operation) TargetID() string {
	if op.Transaction != nil {
		return op.Transaction.ID
	}
	return op.ID
}

// PushResult is the per-item outcome of one operation. Exactly one of
// Transaction (the confirmed remote state) or Err is set.
type PushResult struct {
	Op          Operation
	Transaction *core.Transaction
	Err         error
}

// Engine serializes sync and mutation against the store. Saver and Events
// are optional collaborators; both are best-effort and never fail a sync.
type Engine struct {
	Saver  SnapshotSaver
	Events Publisher

	store  *store.Store
	client Client

	group   singleflight.Group
	mu      gosync.Mutex
	state   State
	lastErr error
}

// NewEngine creates an idle engine over the given store and remote client.
func NewEngine(st *store.Store, client Client) *Engine {
	return &Engine{store: st, client: client, state: StateIdle}
}

// Status returns the engine state and the error of the last failed attempt.
func (e *Engine) Status() (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.lastErr
}

// Sync performs one incremental sync using the store's cursor. Concurrent
// callers are coalesced into a single attempt. On a stale cursor the engine
// falls back to exactly one full sync; that fallback is not an error.
func (e *Engine) Sync(ctx context.Context) error {
	_, err, _ := e.group.Do("sync", func() (any, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		return nil, e.incremental(ctx)
	})
	return err
}

// FullSync discards local state and re-downloads the complete dataset.
func (e *Engine) FullSync(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.full(ctx)
}

// incremental runs a delta sync. Caller holds e.mu.
func (e *Engine) incremental(ctx context.Context) error {
	e.state = StateSyncing
	cursor := e.store.Cursor()

	cs, newCursor, err := e.client.DeltaFetch(ctx, cursor)
	if errors.Is(err, core.ErrStaleCursor) {
		// The baseline cannot be verified; a delta against it must not be
		// applied. Recover with a single full sync instead.
		slog.WarnContext(ctx, "Sync cursor no longer recognized, falling back to full sync",
			"cursor", cursor)
		return e.full(ctx)
	}
	if err != nil {
		return e.fail(ctx, fmt.Errorf("delta fetch: %w", err))
	}

	if err := e.store.ApplyDelta(cs, newCursor); err != nil {
		return e.fail(ctx, fmt.Errorf("apply delta: %w", err))
	}
	e.afterApply(ctx, cs.Len())
	e.state = StateIdle
	e.lastErr = nil

	slog.InfoContext(ctx, "Incremental sync applied",
		"records", cs.Len(),
		"cursor", newCursor)
	return nil
}

// full runs a full sync. Caller holds e.mu.
func (e *Engine) full(ctx context.Context) error {
	e.state = StateSyncing

	cs, cursor, err := e.client.FullFetch(ctx, core.Kinds())
	if err != nil {
		return e.fail(ctx, fmt.Errorf("full fetch: %w", err))
	}
	if err := e.store.ReplaceAll(cs, cursor); err != nil {
		return e.fail(ctx, fmt.Errorf("replace dataset: %w", err))
	}
	e.afterApply(ctx, cs.Len())
	e.state = StateIdle
	e.lastErr = nil

	slog.InfoContext(ctx, "Full sync applied",
		"records", cs.Len(),
		"cursor", cursor)
	return nil
}

func (e *Engine) fail(ctx context.Context, err error) error {
	e.state = StateFailed
	e.lastErr = err
	slog.ErrorContext(ctx, "Sync failed, store left at last known good state", "error", err)
	return err
}

// afterApply persists and announces the freshly swapped snapshot. Both steps
// are best-effort: a failure is logged and the sync still counts as applied.
func (e *Engine) afterApply(ctx context.Context, applied int) {
	snap := e.store.Snapshot()

	if faults := snap.Dangling(); len(faults) > 0 {
		slog.WarnContext(ctx, "Dataset has dangling references after sync",
			"count", len(faults),
			"first", faults[0])
	}
	if e.Saver != nil {
		if err := e.Saver.SaveSnapshot(ctx, snap); err != nil {
			slog.ErrorContext(ctx, "Failed to persist snapshot", "error", err)
		}
	}
	if e.Events != nil {
		if err := e.Events.PublishSyncCompleted(ctx, snap.Cursor(), applied); err != nil {
			slog.ErrorContext(ctx, "Failed to publish sync event", "error", err)
		}
	}
}

// Push sends a batch of mutations to the remote service and applies only the
// confirmed items locally. The batch is not all-or-nothing: the returned
// slice has exactly one outcome per operation, in the order given.
func (e *Engine) Push(ctx context.Context, ops []Operation) ([]PushResult, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	results := make([]PushResult, len(ops))
	valid := make([]int, 0, len(ops)) // indexes of ops worth sending

	for i, op := range ops {
		results[i].Op = op
		if err := validateOp(op); err != nil {
			results[i].Err = err
			continue
		}
		valid = append(valid, i)
	}

	if len(valid) > 0 {
		send := make([]Operation, len(valid))
		for i, idx := range valid {
			send[i] = ops[idx]
		}
		remote, err := e.client.Push(ctx, send)
		if err != nil {
			return nil, e.fail(ctx, fmt.Errorf("push: %w", err))
		}
		if len(remote) != len(send) {
			return nil, e.fail(ctx, fmt.Errorf("push: got %d results for %d operations", len(remote), len(send)))
		}
		for i, idx := range valid {
			results[idx] = remote[i]
		}
	}

	// Apply confirmed entities as one batch; rejected items stay absent.
	var confirmed []core.Entity
	for _, res := range results {
		if res.Err == nil && res.Transaction != nil {
			confirmed = append(confirmed, *res.Transaction)
		}
	}
	if len(confirmed) > 0 {
		if err := e.store.ApplyBatch(core.KindTransaction, confirmed); err != nil {
			return nil, e.fail(ctx, fmt.Errorf("apply confirmed writes: %w", err))
		}
		e.afterApply(ctx, len(confirmed))
	}
	if e.Events != nil {
		for _, res := range results {
			if res.Err != nil {
				continue
			}
			if err := e.Events.PublishTransactionMutated(ctx, string(res.Op.Action), res.Op.TargetID()); err != nil {
				slog.ErrorContext(ctx, "Failed to publish mutation event", "error", err)
			}
		}
	}
	e.state = StateIdle
	e.lastErr = nil
	return results, nil
}

func validateOp(op Operation) error {
	switch op.Action {
	case ActionCreate, ActionUpdate:
		if op.Transaction == nil {
			return fmt.Errorf("%s: missing transaction payload", op.Action)
		}
		return op.Transaction.Validate()
	case ActionDelete:
		if op.ID == "" {
			return fmt.Errorf("delete: %w", core.ErrMissingID)
		}
		return nil
	default:
		return fmt.Errorf("unknown operation %q", op.Action)
	}
}
