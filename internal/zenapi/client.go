// Package zenapi talks the ZenMoney diff protocol: one POST endpoint that
// both fetches changes since a cursor and pushes local mutations, with the
// server timestamp as the cursor.
package zenapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"zenmirror/internal/core"
	"zenmirror/internal/sync"
)

const diffPath = "/v8/diff/"

// Options configures a Client. Zero values get sensible defaults; Token and
// BaseURL are required.
type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Client implements the sync engine's remote collaborator over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewClient creates a diff-protocol client.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("zenapi: base URL is required")
	}
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, fmt.Errorf("zenapi: token is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 3 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}, nil
}

// diffRequest is the wire payload of the diff endpoint. The embedded
// changeset carries pushed records; a fetch sends it empty.
type diffRequest struct {
	CurrentClientTimestamp int64       `json:"currentClientTimestamp"`
	ServerTimestamp        int64       `json:"serverTimestamp"`
	ForceFetch             []core.Kind `json:"forceFetch,omitempty"`
	core.Changeset
}

type diffResponse struct {
	ServerTimestamp int64 `json:"serverTimestamp"`
	core.Changeset
}

// FullFetch downloads the complete dataset for the given kinds.
func (c *Client) FullFetch(ctx context.Context, kinds []core.Kind) (*core.Changeset, int64, error) {
	resp, err := c.doDiff(ctx, "full fetch", diffRequest{
		CurrentClientTimestamp: time.Now().Unix(),
		ForceFetch:             kinds,
	})
	if err != nil {
		return nil, 0, err
	}
	return &resp.Changeset, resp.ServerTimestamp, nil
}

// DeltaFetch downloads changes since cursor. A cursor the server no longer
// recognizes (HTTP 410) surfaces as core.ErrStaleCursor.
func (c *Client) DeltaFetch(ctx context.Context, cursor int64) (*core.Changeset, int64, error) {
	resp, err := c.doDiff(ctx, "delta fetch", diffRequest{
		CurrentClientTimestamp: time.Now().Unix(),
		ServerTimestamp:        cursor,
	})
	if err != nil {
		return nil, 0, err
	}
	return &resp.Changeset, resp.ServerTimestamp, nil
}

// Push sends each operation as its own diff request so one rejected item
// cannot poison its neighbours. Rejections (HTTP 422) become per-item
// errors; transport failures abort the whole batch.
func (c *Client) Push(ctx context.Context, ops []sync.Operation) ([]sync.PushResult, error) {
	results := make([]sync.PushResult, len(ops))
	for i, op := range ops {
		results[i].Op = op

		req := diffRequest{
			CurrentClientTimestamp: time.Now().Unix(),
		}
		switch op.Action {
		case sync.ActionDelete:
			req.Deletions = []core.Deletion{{
				ID:     op.ID,
				Object: core.KindTransaction,
				Stamp:  time.Now().Unix(),
			}}
		default:
			req.Transactions = []core.Transaction{*op.Transaction}
		}

		resp, err := c.doDiff(ctx, fmt.Sprintf("push %s", op.Action), req)
		if err != nil {
			var rejected *core.RemoteRejectedError
			if errors.As(err, &rejected) {
				rejected.Op = string(op.Action)
				rejected.ID = op.TargetID()
				results[i].Err = rejected
				continue
			}
			return nil, err
		}
		results[i].Transaction = confirmed(op, resp)
	}
	return results, nil
}

// confirmed extracts the server's post-write record for the operation,
// synthesizing a tombstone when the server confirms a delete silently.
func confirmed(op sync.Operation, resp *diffResponse) *core.Transaction {
	id := op.TargetID()
	for _, tx := range resp.Transactions {
		if tx.ID == id {
			return &tx
		}
	}
	if op.Action == sync.ActionDelete {
		return &core.Transaction{ID: id, Deleted: true, Changed: resp.ServerTimestamp}
	}
	// Server accepted without echoing the record; stamp the sent payload
	// with the server time so it cannot look older than the push.
	tx := *op.Transaction
	tx.Changed = resp.ServerTimestamp
	return &tx
}

// doDiff posts one diff request, retrying transient failures with backoff.
func (c *Client) doDiff(ctx context.Context, op string, payload diffRequest) (*diffResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", op, err)
	}
	url := c.baseURL + diffPath

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1)); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, &core.TransportError{Op: op, Err: err}
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, &core.TransportError{Op: op, Err: readErr}
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			var out diffResponse
			if err := json.Unmarshal(respBody, &out); err != nil {
				return nil, &core.TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
			}
			return &out, nil

		case resp.StatusCode == http.StatusGone:
			return nil, fmt.Errorf("%s: %w", op, core.ErrStaleCursor)

		case resp.StatusCode == http.StatusUnprocessableEntity:
			return nil, &core.RemoteRejectedError{Reason: serverMessage(respBody)}

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1)); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, &core.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", serverMessage(respBody))}

		default:
			return nil, &core.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", serverMessage(respBody))}
		}
	}
}

// serverMessage pulls a human-readable error out of an error response body.
func serverMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return "no details"
}

func (c *Client) retryDelay(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
