package zenapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"zenmirror/internal/core"
	"zenmirror/internal/sync"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Options{
		BaseURL:    srv.URL,
		Token:      "secret-token",
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestDeltaFetchSendsCursorAndAuth(t *testing.T) {
	var got diffRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v8/diff/" {
			t.Errorf("path = %q, want /v8/diff/", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret-token" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(diffResponse{
			ServerTimestamp: 2000,
			Changeset: core.Changeset{
				Accounts: []core.Account{{ID: "a1", Changed: 1500, Title: "Wallet"}},
			},
		})
	})

	cs, cursor, err := c.DeltaFetch(context.Background(), 1000)
	if err != nil {
		t.Fatalf("DeltaFetch: %v", err)
	}
	if got.ServerTimestamp != 1000 {
		t.Errorf("sent cursor = %d, want 1000", got.ServerTimestamp)
	}
	if cursor != 2000 {
		t.Errorf("cursor = %d, want 2000", cursor)
	}
	if len(cs.Accounts) != 1 || cs.Accounts[0].ID != "a1" {
		t.Errorf("changeset accounts = %+v", cs.Accounts)
	}
}

func TestFullFetchForcesAllKinds(t *testing.T) {
	var got diffRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(diffResponse{ServerTimestamp: 500})
	})

	_, _, err := c.FullFetch(context.Background(), core.Kinds())
	if err != nil {
		t.Fatalf("FullFetch: %v", err)
	}
	if got.ServerTimestamp != 0 {
		t.Errorf("full fetch sent cursor %d, want 0", got.ServerTimestamp)
	}
	if len(got.ForceFetch) != len(core.Kinds()) {
		t.Errorf("forceFetch = %v", got.ForceFetch)
	}
}

func TestGoneMapsToStaleCursor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})

	_, _, err := c.DeltaFetch(context.Background(), 1000)
	if !errors.Is(err, core.ErrStaleCursor) {
		t.Fatalf("err = %v, want ErrStaleCursor", err)
	}
}

func TestServerErrorBecomesTransportErrorAfterRetries(t *testing.T) {
	attempts := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, `{"message":"maintenance"}`, http.StatusServiceUnavailable)
	})

	_, _, err := c.DeltaFetch(context.Background(), 1000)
	var terr *core.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	if terr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d", terr.StatusCode)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want initial try plus one retry", attempts)
	}
}

func TestTransientErrorRecoversWithinRetryBudget(t *testing.T) {
	attempts := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(diffResponse{ServerTimestamp: 900})
	})

	_, cursor, err := c.DeltaFetch(context.Background(), 800)
	if err != nil {
		t.Fatalf("DeltaFetch: %v", err)
	}
	if cursor != 900 {
		t.Errorf("cursor = %d, want 900", cursor)
	}
}

func TestPushRejectionIsPerItem(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req diffRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Transactions) == 1 && req.Transactions[0].Payee == "bad" {
			http.Error(w, `{"message":"payee not allowed"}`, http.StatusUnprocessableEntity)
			return
		}
		json.NewEncoder(w).Encode(diffResponse{
			ServerTimestamp: 3000,
			Changeset:       core.Changeset{Transactions: req.Transactions},
		})
	})

	date, _ := core.ParseDate("2025-03-01")
	good := &core.Transaction{ID: "tx-good", Date: date, OutcomeAccount: "a1", Outcome: 5}
	bad := &core.Transaction{ID: "tx-bad", Date: date, OutcomeAccount: "a1", Outcome: 5, Payee: "bad"}

	results, err := c.Push(context.Background(), []sync.Operation{
		{Action: sync.ActionCreate, Transaction: good},
		{Action: sync.ActionCreate, Transaction: bad},
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if results[0].Err != nil || results[0].Transaction == nil {
		t.Errorf("good item: %+v", results[0])
	}

	var rejected *core.RemoteRejectedError
	if !errors.As(results[1].Err, &rejected) {
		t.Fatalf("bad item err = %v, want RemoteRejectedError", results[1].Err)
	}
	if rejected.ID != "tx-bad" || rejected.Reason != "payee not allowed" {
		t.Errorf("rejection = %+v", rejected)
	}
}

func TestPushDeleteSynthesizesTombstone(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req diffRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Deletions) != 1 || req.Deletions[0].ID != "tx-1" {
			t.Errorf("deletions = %+v", req.Deletions)
		}
		json.NewEncoder(w).Encode(diffResponse{ServerTimestamp: 4000})
	})

	results, err := c.Push(context.Background(), []sync.Operation{
		{Action: sync.ActionDelete, ID: "tx-1"},
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	tx := results[0].Transaction
	if tx == nil || !tx.Deleted || tx.ID != "tx-1" || tx.Changed != 4000 {
		t.Errorf("tombstone = %+v", tx)
	}
}
