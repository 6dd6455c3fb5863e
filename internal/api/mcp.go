package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/poelink/amrlink/internal/store"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Manager *store.Manager
	Monitor Monitor
}

// NewMCPServer creates an MCP server exposing the daemon's diagnostic
// surface: session inventory, effective configuration, and backend
// status, plus an on-demand health probe.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"amrlink",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("amrlink: persistence and backend status daemon for the AMR diagnostic assistant."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List stored chat sessions, most recently updated first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of sessions (default 20)")),
		),
		mcpListSessions(deps),
	)

	s.AddTool(
		mcp.NewTool("get_config",
			mcp.WithDescription("Return the stored assistant configuration. Secrets are redacted."),
		),
		mcpGetConfig(deps),
	)

	s.AddTool(
		mcp.NewTool("get_backend_status",
			mcp.WithDescription("Return the last known backend status record."),
		),
		mcpGetBackendStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("check_backend",
			mcp.WithDescription("Run an immediate backend health check and return the resulting status."),
		),
		mcpCheckBackend(deps),
	)

	return s
}

func mcpListSessions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		st, err := deps.Manager.Get(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("opening store: %v", err)), nil
		}
		sessions, err := st.Sessions(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("listing sessions: %v", err)), nil
		}
		if len(sessions) > limit {
			sessions = sessions[:limit]
		}

		type sessionSummary struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Messages  int    `json:"messages"`
			UpdatedAt string `json:"updatedAt"`
		}

		summaries := make([]sessionSummary, len(sessions))
		for i, sess := range sessions {
			title := sess.Title
			if utf8.RuneCountInString(title) > 60 {
				runes := []rune(title)
				title = string(runes[:60]) + "..."
			}
			summaries[i] = sessionSummary{
				ID:        sess.ID,
				Title:     title,
				Messages:  len(sess.Messages),
				UpdatedAt: time.UnixMilli(sess.UpdatedAt).UTC().Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetConfig(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := deps.Manager.Get(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("opening store: %v", err)), nil
		}
		cfg, err := st.Config(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("reading config: %v", err)), nil
		}
		if cfg == nil {
			return mcpText("null"), nil
		}

		redacted := *cfg
		if redacted.LLM != nil {
			llm := *redacted.LLM
			llm.APIKey = redactSecret(llm.APIKey)
			redacted.LLM = &llm
		}

		b, err := json.Marshal(redacted)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal config: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetBackendStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status, err := deps.Monitor.Status(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("reading status: %v", err)), nil
		}
		b, err := json.Marshal(status)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCheckBackend(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status, err := deps.Monitor.CheckNow(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("health check failed: %v", err)), nil
		}
		b, err := json.Marshal(status)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func redactSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", 6) + s[len(s)-2:]
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
