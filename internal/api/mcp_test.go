package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/poelink/amrlink/internal/blockstore"
	"github.com/poelink/amrlink/internal/store"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *fakeMonitor) {
	t.Helper()
	blocks, err := blockstore.Open(":memory:")
	if err != nil {
		t.Fatalf("blockstore.Open: %v", err)
	}
	t.Cleanup(func() { blocks.Close() })

	manager := store.NewManager(store.Options{Snapshots: blocks})
	t.Cleanup(func() { manager.Close() })

	monitor := &fakeMonitor{}
	return MCPDeps{Manager: manager, Monitor: monitor}, monitor
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestMCPTool_ListSessions(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	st, err := deps.Manager.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := st.CreateSession(context.Background(), []store.Message{
		{Role: store.RoleUser, Content: "机器人M102无法充电"},
		{Role: store.RoleAssistant, Content: "请检查充电桩"},
	}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	handler := mcpListSessions(deps)
	result, err := handler(context.Background(), makeCallToolRequest("list_sessions", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var summaries []struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		Messages  int    `json:"messages"`
		UpdatedAt string `json:"updatedAt"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &summaries); err != nil {
		t.Fatalf("parsing summaries: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(summaries))
	}
	if summaries[0].Title != "机器人M102无法充电" || summaries[0].Messages != 2 {
		t.Errorf("summary = %+v", summaries[0])
	}
	if summaries[0].UpdatedAt == "" {
		t.Error("UpdatedAt not formatted")
	}
}

func TestMCPTool_GetConfigRedactsSecrets(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	st, _ := deps.Manager.Get(context.Background())
	if err := st.SetConfig(context.Background(), store.ConfigDocument{
		Server: store.ServerConfig{Host: "h", Port: "1"},
		LLM:    &store.LLMConfig{APIKey: "sk-123456789", Provider: "openai"},
	}); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	handler := mcpGetConfig(deps)
	result, err := handler(context.Background(), makeCallToolRequest("get_config", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var cfg store.ConfigDocument
	if err := json.Unmarshal([]byte(toolText(t, result)), &cfg); err != nil {
		t.Fatalf("parsing config: %v", err)
	}
	if cfg.LLM == nil {
		t.Fatal("llm section missing")
	}
	if cfg.LLM.APIKey == "sk-123456789" {
		t.Fatal("api key leaked unredacted")
	}
	if cfg.LLM.APIKey != "sk******89" {
		t.Errorf("redacted key = %q", cfg.LLM.APIKey)
	}

	// The stored copy must stay intact.
	stored, _ := st.Config(context.Background())
	if stored.LLM.APIKey != "sk-123456789" {
		t.Errorf("stored key mutated: %q", stored.LLM.APIKey)
	}
}

func TestMCPTool_GetConfigEmpty(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	handler := mcpGetConfig(deps)
	result, err := handler(context.Background(), makeCallToolRequest("get_config", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, result); got != "null" {
		t.Errorf("text = %q, want null", got)
	}
}

func TestMCPTool_CheckBackend(t *testing.T) {
	deps, monitor := newTestMCPDeps(t)
	monitor.status = &store.BackendStatus{Online: true, LastCheck: 42}

	handler := mcpCheckBackend(deps)
	result, err := handler(context.Background(), makeCallToolRequest("check_backend", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if monitor.checks != 1 {
		t.Errorf("checks = %d, want 1", monitor.checks)
	}

	var status store.BackendStatus
	if err := json.Unmarshal([]byte(toolText(t, result)), &status); err != nil {
		t.Fatalf("parsing status: %v", err)
	}
	if !status.Online {
		t.Errorf("status = %+v", status)
	}
}

func TestRedactSecret(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"abc", "***"},
		{"abcd", "****"},
		{"sk-123456789", "sk******89"},
	}
	for _, tt := range tests {
		if got := redactSecret(tt.in); got != tt.want {
			t.Errorf("redactSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
