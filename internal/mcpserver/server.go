// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the mnemo history to LLM clients over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/mnemo/internal/answer"
	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/capture"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/retrieval"
	"github.com/starford/mnemo/internal/service"
	"github.com/starford/mnemo/internal/store"
)

// PrivacyResourceURI is the resource holding the active privacy rules.
const PrivacyResourceURI = "mnemo://privacy"

// Server wraps the MCP server with mnemo tools.
type Server struct {
	mcp *server.MCPServer
	svc *service.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *service.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"mnemo",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_history",
		mcp.WithDescription("Search the user's captured shell commands, clipboard items and notes. "+
			"Mode auto combines meaning-based and keyword search."),
		mcp.WithString("query", mcp.Required(), mcp.Description("What to look for")),
		mcp.WithString("mode", mcp.Description("literal, semantic or auto (default)")),
		mcp.WithString("sources", mcp.Description("Comma-separated source types: clipboard, shell, file, note")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results")),
		mcp.WithString("cwd", mcp.Description("Rank entries captured in or near this directory first")),
		mcp.WithString("since", mcp.Description("RFC3339 time; only entries captured at or after it")),
		mcp.WithString("until", mcp.Description("RFC3339 time; only entries captured before it")),
		mcp.WithString("window", mcp.Description("today, yesterday, week or month")),
	), s.searchHistory)

	s.mcp.AddTool(mcp.NewTool("ask_history",
		mcp.WithDescription("Answer a question using the user's history and the local language model. "+
			"Returns the answer and the ids of the entries it was based on."),
		mcp.WithString("question", mcp.Required(), mcp.Description("Question about past activity")),
		mcp.WithString("cwd", mcp.Description("Rank entries captured in or near this directory first")),
		mcp.WithString("since", mcp.Description("RFC3339 time; only entries captured at or after it")),
		mcp.WithString("until", mcp.Description("RFC3339 time; only entries captured before it")),
		mcp.WithString("window", mcp.Description("today, yesterday, week or month")),
	), s.askHistory)

	s.mcp.AddTool(mcp.NewTool("get_entry",
		mcp.WithDescription("Read one history entry by id."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Entry id")),
	), s.getEntry)

	s.mcp.AddTool(mcp.NewTool("list_recent",
		mcp.WithDescription("List the most recent history entries."),
		mcp.WithString("sources", mcp.Description("Comma-separated source types")),
		mcp.WithNumber("limit", mcp.Description("Number of entries (default 20)")),
	), s.listRecent)

	s.mcp.AddTool(mcp.NewTool("capture_note",
		mcp.WithDescription("Store a note in the history. Privacy rules apply as for any capture."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Note text")),
	), s.captureNote)

	s.mcp.AddTool(mcp.NewTool("get_privacy_rules",
		mcp.WithDescription("Returns the privacy rules that decide which activity is never stored."),
	), s.getPrivacyRules)

	s.mcp.AddResource(
		mcp.NewResource(PrivacyResourceURI, "Privacy rules",
			mcp.WithResourceDescription("Active exclusion patterns by category."),
			mcp.WithMIMEType("application/json"),
		),
		s.readPrivacyResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// intArg reads an optional integer argument. JSON numbers arrive as float64.
func intArg(req mcp.CallToolRequest, key string, def int) (int, error) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return i, nil
	}
	return 0, fmt.Errorf("%s must be an integer", key)
}

func stringArg(req mcp.CallToolRequest, key string) string {
	s, _ := req.GetArguments()[key].(string)
	return s
}

func sourcesArg(req mcp.CallToolRequest) ([]models.SourceType, error) {
	var out []models.SourceType
	for _, part := range strings.Split(stringArg(req, "sources"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		src, err := models.ParseSourceType(part)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

// scopeArgs reads the cwd and time window arguments into q.
func scopeArgs(req mcp.CallToolRequest, q *retrieval.Query) error {
	q.Cwd = stringArg(req, "cwd")
	for key, dst := range map[string]*time.Time{"since": &q.Since, "until": &q.Until} {
		v := stringArg(req, key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fmt.Errorf("%s must be an RFC3339 time", key)
		}
		*dst = t
	}
	return q.SetWindow(stringArg(req, "window"), time.Now())
}

func (s *Server) searchHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mode, err := retrieval.ParseMode(stringArg(req, "mode"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sources, err := sourcesArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit, err := intArg(req, "limit", 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	q := retrieval.Query{Text: query, Mode: mode, Sources: sources, Limit: limit}
	if err := scopeArgs(req, &q); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := s.svc.Search(ctx, q)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	return jsonResult(resp)
}

func (s *Server) askHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var q retrieval.Query
	if err := scopeArgs(req, &q); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ans, err := s.svc.Ask(ctx, question, answer.WithCwd(q.Cwd), answer.WithWindow(q.Since, q.Until))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(ans)
}

func (s *Server) getEntry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := intArg(req, "id", 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if id <= 0 {
		return mcp.NewToolResultError("id is required"), nil
	}
	e, err := s.svc.GetEntry(ctx, int64(id))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %d", id)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(e)
}

func (s *Server) listRecent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sources, err := sourcesArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit, err := intArg(req, "limit", 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries, err := s.svc.ListEntries(ctx, store.ListFilter{Sources: sources, Limit: limit})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(entries)
}

func (s *Server) captureNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := s.svc.Capture(ctx, capture.Event{Content: content, Source: models.SourceNote})
	switch out.Status {
	case capture.StatusStored:
		return mcp.NewToolResultText(fmt.Sprintf("stored: %d", out.ID)), nil
	case capture.StatusDropped:
		if out.Reason == capture.ReasonEmpty {
			return mcp.NewToolResultError("content is empty"), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("not stored: matched %s rule", out.Reason)), nil
	}
	return mcp.NewToolResultError(fmt.Sprintf("capture %s: %s", out.Status, out.Reason)), nil
}

func (s *Server) getPrivacyRules(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.GetPrivacyConfig())
}

func (s *Server) readPrivacyResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	out, err := json.MarshalIndent(s.svc.GetPrivacyConfig(), "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      PrivacyResourceURI,
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}
