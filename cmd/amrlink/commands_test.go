package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/poelink/amrlink/internal/api"
	"github.com/poelink/amrlink/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"success":false,"error":"not found"}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestSessionsList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/message": `{"success":true,"data":[{"id":"1735000000000_a1b2c3d4e5f6","title":"排查任务","createdAt":1735000000000,"updatedAt":1735000001000,"messages":[{"role":"user","content":"hi"}]}]}`,
	})

	client := ts.client()
	sessions, err := client.sessions(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].ID != "1735000000000_a1b2c3d4e5f6" {
		t.Errorf("id = %q", sessions[0].ID)
	}
	if len(sessions[0].Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(sessions[0].Messages))
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	var sent api.Request
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &sent); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if sent.Type != "STORAGE_GET_SESSIONS" {
		t.Errorf("type = %q, want STORAGE_GET_SESSIONS", sent.Type)
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", ts.requests[0].Auth)
	}
}

func TestBackendStatus(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/status": `{"success":true,"data":{"online":false,"lastCheck":1735000000000,"checking":false,"error":"no status push received"}}`,
	})

	client := ts.client()
	status, err := client.backendStatus(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status == nil {
		t.Fatal("expected a status record")
	}
	if status.Online {
		t.Error("expected offline")
	}
	if status.Error != "no status push received" {
		t.Errorf("error = %q", status.Error)
	}
}

func TestBackendStatus_NoneRecorded(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/status": `{"success":true,"data":null}`,
	})

	client := ts.client()
	status, err := client.backendStatus(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != nil {
		t.Errorf("expected nil status, got %+v", status)
	}
}

func TestCheckBackend(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/status/check": `{"success":true,"data":{"online":true,"lastCheck":1735000000000,"checking":false}}`,
	})

	client := ts.client()
	status, err := client.checkBackend(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status == nil || !status.Online {
		t.Errorf("expected online status, got %+v", status)
	}
}

func TestMessage_DaemonError(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/message": `{"success":false,"error":"sessionId is required"}`,
	})

	client := ts.client()
	_, err := client.message(ctx, api.Request{Type: "STORAGE_ACTIVATE_SESSION"})
	if err == nil {
		t.Fatal("expected error from failure envelope")
	}
	if !strings.Contains(err.Error(), "sessionId is required") {
		t.Errorf("error = %q, want it to contain the daemon error", err.Error())
	}
}

func TestMessage_DaemonStopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.message(ctx, api.Request{Type: "STORAGE_GET_CONFIG"})
	if err == nil {
		t.Fatal("expected error for stopped daemon")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoTokenOmitsAuthHeader(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/status": `{"success":true,"data":null}`,
	})

	client := ts.client()
	client.token = ""
	if _, err := client.backendStatus(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want empty", ts.requests[0].Auth)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4600
	cfg.Log.Level = "info"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4600" {
			found = true
		}
		if k.Key == "server.token" {
			t.Error("secret key server.token should not appear in ShowAll")
		}
	}
	if !found {
		t.Error("expected to find server.port=4600 in ShowAll output")
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"error", "ERROR"},
		{"", "INFO"},
		{"garbage", "INFO"},
	}
	for _, tt := range tests {
		if got := logLevel(tt.in).String(); got != tt.want {
			t.Errorf("logLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
