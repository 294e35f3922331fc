package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	gosync "sync"
)

const protocolVersion = "2024-11-05"

// maxFrameSize bounds one request line; bulk mutations can get large.
const maxFrameSize = 8 << 20

// Server speaks newline-delimited JSON-RPC 2.0 over a reader/writer pair,
// normally stdin/stdout.
type Server struct {
	name    string
	version string
	reg     *Registry

	in  io.Reader
	out io.Writer
	mu  gosync.Mutex // serializes frames on out
}

func NewServer(name, version string, reg *Registry, in io.Reader, out io.Writer) *Server {
	return &Server{name: name, version: version, reg: reg, in: in, out: out}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Serve reads frames until EOF or context cancellation. Malformed frames get
// an error response; notifications (no id) are processed without a reply.
func (s *Server) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			s.reply(response{JSONRPC: "2.0", ID: json.RawMessage("null"),
				Error: &rpcError{Code: CodeParseError, Message: "parse error"}})
			continue
		}
		if req.ID == nil {
			// Notification; nothing to act on beyond logging.
			slog.DebugContext(ctx, "Notification received", "method", req.Method)
			continue
		}
		s.reply(s.handle(ctx, req))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read frames: %w", err)
	}
	return nil
}

func (s *Server) handle(ctx context.Context, req request) response {
	resp := response{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": s.name, "version": s.version},
		}
		slog.InfoContext(ctx, "Session initialized", "client", clientName(req.Params))

	case "ping":
		resp.Result = map[string]any{}

	case "tools/list":
		tools := s.reg.List()
		listed := make([]map[string]any, 0, len(tools))
		for _, t := range tools {
			listed = append(listed, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"inputSchema": t.InputSchema,
			})
		}
		resp.Result = map[string]any{"tools": listed}

	case "tools/call":
		var params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			resp.Error = &rpcError{Code: CodeInvalidParams, Message: "tools/call needs a tool name"}
			break
		}
		resp.Result, resp.Error = s.call(ctx, params.Name, params.Arguments)

	default:
		resp.Error = &rpcError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
	return resp
}

// call runs one tool. Protocol failures become JSON-RPC errors; domain
// failures become a tool result with isError set, so the agent sees them as
// content it can react to.
func (s *Server) call(ctx context.Context, name string, args json.RawMessage) (any, *rpcError) {
	result, err := s.reg.Call(ctx, name, args)
	if err != nil {
		var callErr *CallError
		if errors.As(err, &callErr) {
			slog.WarnContext(ctx, "Tool call refused", "tool", name, "error", callErr.Message)
			return nil, &rpcError{Code: callErr.Code, Message: callErr.Message}
		}
		slog.WarnContext(ctx, "Tool call failed", "tool", name, "error", err)
		return toolResult(map[string]any{"error": err.Error()}, true), nil
	}
	slog.InfoContext(ctx, "Tool call served", "tool", name)
	return toolResult(result, false), nil
}

// toolResult wraps a value as MCP call content: one JSON-encoded text block.
func toolResult(v any, isError bool) map[string]any {
	text, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		text = []byte(fmt.Sprintf(`{"error": %q}`, err.Error()))
		isError = true
	}
	out := map[string]any{
		"content": []map[string]any{{"type": "text", "text": string(text)}},
	}
	if isError {
		out["isError"] = true
	}
	return out
}

func (s *Server) reply(resp response) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("Failed to encode response", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := s.out.Write(data); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func clientName(params json.RawMessage) string {
	var p struct {
		ClientInfo struct {
			Name string `json:"name"`
		} `json:"clientInfo"`
	}
	if json.Unmarshal(params, &p) == nil && p.ClientInfo.Name != "" {
		return p.ClientInfo.Name
	}
	return "unknown"
}
