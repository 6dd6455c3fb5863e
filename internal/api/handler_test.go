package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/poelink/amrlink/internal/store"
)

func newTestHandler(t *testing.T, token string) (http.Handler, *fakeMonitor) {
	t.Helper()
	rt, monitor := newTestRouter(t)
	return NewHandler(HandlerDeps{Router: rt, Monitor: monitor, Token: token}), monitor
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"status":"ok"}` {
		t.Errorf("body = %s", got)
	}
}

func TestMessageEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, "")

	body := `{"type":"STORAGE_SET_CONFIG","config":{"server":{"protocol":"http","host":"10.0.0.5","port":"8080"}}}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/message", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body)
	}
	resp := decodeEnvelope(t, rec)
	if !resp.Success {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestMessageEndpointBadJSON(t *testing.T) {
	h, _ := newTestHandler(t, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/message", strings.NewReader("{nope")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Success || !strings.HasPrefix(resp.Error, "invalid request body:") {
		t.Errorf("resp = %+v", resp)
	}
}

func TestMessageEndpointMissingType(t *testing.T) {
	h, _ := newTestHandler(t, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/message", strings.NewReader("{}")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Success || resp.Error != "type is required" {
		t.Errorf("resp = %+v", resp)
	}
}

// Dispatch-level failures still travel as HTTP 200 envelopes; the status
// code only reflects transport problems.
func TestMessageEndpointDispatchError(t *testing.T) {
	h, _ := newTestHandler(t, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/message",
		strings.NewReader(`{"type":"STORAGE_ACTIVATE_SESSION"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Success || resp.Error != "sessionId is required" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestStatusEndpoints(t *testing.T) {
	h, monitor := newTestHandler(t, "")
	monitor.status = &store.BackendStatus{Online: true, LastCheck: 42}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if !resp.Success {
		t.Fatalf("error = %q", resp.Error)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/status/check", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("check code = %d", rec.Code)
	}
	if monitor.checks != 1 {
		t.Errorf("checks = %d, want 1", monitor.checks)
	}
}

func TestBearerAuth(t *testing.T) {
	h, _ := newTestHandler(t, "secret-token")

	// Health stays open.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health code = %d", rec.Code)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret-token", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer secret-token", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("code = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
