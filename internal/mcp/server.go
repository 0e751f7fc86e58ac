package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/iammorganparry/clive/apps/ltm/internal/memory"
	"github.com/iammorganparry/clive/apps/ltm/internal/models"
)

const (
	protocolVersion = "2024-11-05"
	maxMessageBytes = 4 << 20

	// forgetConfidence is the score a lone query match needs before
	// memory_forget deletes it without an explicit id.
	forgetConfidence = 0.9
	forgetCandidates = 5
)

// Server implements an MCP stdio server backed by the in-process memory service.
type Server struct {
	svc     *memory.Service
	agentID string
	version string
	logger  *slog.Logger
}

// NewServer creates an MCP server acting as agentID.
func NewServer(svc *memory.Service, agentID, version string, logger *slog.Logger) *Server {
	return &Server{svc: svc, agentID: agentID, version: version, logger: logger}
}

// Run serves newline-delimited JSON-RPC from in to out. Blocks until in is
// closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageBytes)
	enc := json.NewEncoder(out)

	s.logger.Info("mcp server started", "agent", s.agentID)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			if werr := enc.Encode(errorResponse(json.RawMessage("null"), codeParseError, "parse error: "+err.Error())); werr != nil {
				return werr
			}
			continue
		}

		if resp := s.handleRequest(ctx, &req); resp != nil {
			if err := enc.Encode(resp); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
		}
	}
	return scanner.Err()
}

func (s *Server) handleRequest(ctx context.Context, req *Request) *Response {
	if req.isNotification() {
		s.logger.Debug("mcp notification", "method", req.Method)
		return nil
	}
	if req.JSONRPC != jsonrpcVersion || req.Method == "" {
		return errorResponse(req.ID, codeInvalidRequest, "invalid request")
	}

	switch req.Method {
	case "initialize":
		return result(req.ID, InitializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities:    ServerCapabilities{Tools: &ToolCapabilities{}},
			ServerInfo:      ServerInfo{Name: "ltm", Version: s.version},
		})
	case "tools/list":
		return result(req.ID, ToolsListResult{Tools: ToolDefinitions()})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "ping":
		return result(req.ID, struct{}{})
	default:
		return errorResponse(req.ID, codeMethodNotFound, "method not found: "+req.Method)
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return errorResponse(req.ID, codeInvalidParams, "invalid params: tool name is required")
	}
	args := params.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}

	text, err := s.dispatchTool(ctx, params.Name, args)
	if errors.Is(err, errUnknownTool) {
		return errorResponse(req.ID, codeInvalidParams, err.Error())
	}
	if err != nil {
		s.logger.Warn("mcp tool failed", "tool", params.Name, "error", err)
		return result(req.ID, textResult(err.Error(), true))
	}
	return result(req.ID, textResult(text, false))
}

var errUnknownTool = errors.New("unknown tool")

func (s *Server) dispatchTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	switch name {
	case "memory_recall":
		return s.toolRecall(ctx, args)
	case "memory_store":
		return s.toolStore(ctx, args)
	case "memory_forget":
		return s.toolForget(ctx, args)
	case "memory_update":
		return s.toolUpdate(ctx, args)
	case "memory_list":
		return s.toolList(ctx, args)
	case "memory_stats":
		return s.toolStats(ctx, args)
	default:
		return "", fmt.Errorf("%w: %s", errUnknownTool, name)
	}
}

// --- Tool implementations ---

func (s *Server) toolRecall(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Query    string  `json:"query"`
		Limit    float64 `json:"limit"`
		Scope    string  `json:"scope"`
		Category string  `json:"category"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Limit == 0 {
		args.Limit = 5
	}

	resp, err := s.svc.Recall(ctx, &models.SearchRequest{
		AgentID:  s.agentID,
		Query:    args.Query,
		Limit:    int(args.Limit),
		Scope:    args.Scope,
		Category: models.Category(args.Category),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Results) == 0 {
		return "No relevant memories found.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d memories:\n", len(resp.Results))
	for i, r := range resp.Results {
		fmt.Fprintf(&b, "\n%d. %s (%.0f%%, %s)", i+1, formatEntry(r.Entry), r.Score*100, sourceLabel(r.Sources))
	}
	return b.String(), nil
}

func (s *Server) toolStore(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Text       string   `json:"text"`
		Category   string   `json:"category"`
		Scope      string   `json:"scope"`
		Importance *float64 `json:"importance"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Text) == "" {
		return "", errors.New("text is required")
	}
	if args.Category == "" {
		args.Category = string(models.CategoryOther)
	}

	resp, err := s.svc.Store(ctx, &models.StoreRequest{
		AgentID:    s.agentID,
		Text:       args.Text,
		Category:   models.Category(args.Category),
		Scope:      args.Scope,
		Importance: args.Importance,
	})
	if err != nil {
		return "", err
	}

	switch {
	case resp.Skipped:
		return fmt.Sprintf("Not stored (%s).", resp.SkipReason), nil
	case resp.Deduplicated:
		return fmt.Sprintf("Already remembered as [%s] in %s.", shortID(resp.ID), resp.Scope), nil
	case resp.NearDuplicateID != "":
		return fmt.Sprintf("Stored [%s] in %s. Similar to [%s] (%.0f%%), consider memory_update instead.",
			shortID(resp.ID), resp.Scope, shortID(resp.NearDuplicateID), resp.NearDupSimilarity*100), nil
	default:
		return fmt.Sprintf("Stored [%s] in %s.", shortID(resp.ID), resp.Scope), nil
	}
}

func (s *Server) toolForget(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		MemoryID string `json:"memoryId"`
		Query    string `json:"query"`
		Scope    string `json:"scope"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}

	if args.MemoryID != "" {
		if err := s.svc.Forget(ctx, s.agentID, args.MemoryID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Forgot [%s].", shortID(args.MemoryID)), nil
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", errors.New("memoryId or query is required")
	}

	resp, err := s.svc.Recall(ctx, &models.SearchRequest{
		AgentID: s.agentID,
		Query:   args.Query,
		Limit:   forgetCandidates,
		Scope:   args.Scope,
	})
	if err != nil {
		return "", err
	}
	switch {
	case len(resp.Results) == 0:
		return "No matching memories found.", nil
	case len(resp.Results) == 1 && resp.Results[0].Score > forgetConfidence:
		id := resp.Results[0].Entry.ID
		if err := s.svc.Forget(ctx, s.agentID, id); err != nil {
			return "", err
		}
		return fmt.Sprintf("Forgot [%s]: %s", shortID(id), resp.Results[0].Entry.Text), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d candidates, call memory_forget again with a memoryId:\n", len(resp.Results))
	for _, r := range resp.Results {
		fmt.Fprintf(&b, "\n- %s", formatEntry(r.Entry))
	}
	return b.String(), nil
}

func (s *Server) toolUpdate(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		MemoryID   string   `json:"memoryId"`
		Text       *string  `json:"text"`
		Category   *string  `json:"category"`
		Importance *float64 `json:"importance"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.MemoryID == "" {
		return "", errors.New("memoryId is required")
	}
	if args.Text == nil && args.Category == nil && args.Importance == nil {
		return "", errors.New("nothing to update: pass text, category or importance")
	}

	patch := models.EntryPatch{Text: args.Text, Importance: args.Importance}
	if args.Category != nil {
		c := models.Category(*args.Category)
		patch.Category = &c
	}
	e, err := s.svc.Update(ctx, s.agentID, args.MemoryID, patch)
	if err != nil {
		return "", err
	}
	return "Updated " + formatEntry(*e), nil
}

func (s *Server) toolList(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Scope    string  `json:"scope"`
		Category string  `json:"category"`
		Limit    float64 `json:"limit"`
		Offset   float64 `json:"offset"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Limit == 0 {
		args.Limit = 10
	}

	resp, err := s.svc.List(ctx, &models.ListRequest{
		AgentID:  s.agentID,
		Scope:    args.Scope,
		Category: models.Category(args.Category),
		Limit:    min(int(args.Limit), 50),
		Offset:   int(args.Offset),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Memories) == 0 {
		return "No memories.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d memories (offset %d):\n", len(resp.Memories), resp.Offset)
	for _, e := range resp.Memories {
		fmt.Fprintf(&b, "\n- %s", formatEntry(e))
	}
	return b.String(), nil
}

func (s *Server) toolStats(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Scope string `json:"scope"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}

	stats, err := s.svc.Stats(ctx, s.agentID, args.Scope)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// --- Helpers ---

func decodeArgs(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func result(id json.RawMessage, v any) *Response {
	return &Response{JSONRPC: jsonrpcVersion, ID: id, Result: v}
}

func errorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatEntry(e models.Entry) string {
	return fmt.Sprintf("[%s] [%s:%s] %s", shortID(e.ID), e.Category, e.Scope, e.Text)
}

func sourceLabel(src models.Sources) string {
	switch {
	case src.Reranked != nil:
		return "reranked"
	case src.Fused != nil:
		return "vector+bm25"
	case src.BM25 != nil:
		return "bm25"
	default:
		return "vector"
	}
}
