package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/poelink/amrlink/internal/api"
	"github.com/poelink/amrlink/internal/config"
	"github.com/poelink/amrlink/internal/store"
)

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      cfg.Server.Token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// envelope mirrors api.Response with the payload kept raw so each caller
// can decode its own shape.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (envelope, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return envelope{}, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return envelope{}, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("daemon not reachable, is amrlink running? (%w)", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return envelope{}, fmt.Errorf("decoding response (HTTP %d): %w", resp.StatusCode, err)
	}
	if !env.Success {
		return envelope{}, fmt.Errorf("daemon error: %s", env.Error)
	}
	return env, nil
}

// message posts a request envelope to the daemon's message endpoint.
func (c *apiClient) message(ctx context.Context, req api.Request) (json.RawMessage, error) {
	env, err := c.do(ctx, "POST", "/api/message", req)
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *apiClient) backendStatus(ctx context.Context) (*store.BackendStatus, error) {
	env, err := c.do(ctx, "GET", "/api/status", nil)
	if err != nil {
		return nil, err
	}
	return decodeStatus(env.Data)
}

func (c *apiClient) checkBackend(ctx context.Context) (*store.BackendStatus, error) {
	env, err := c.do(ctx, "POST", "/api/status/check", nil)
	if err != nil {
		return nil, err
	}
	return decodeStatus(env.Data)
}

func (c *apiClient) sessions(ctx context.Context) ([]store.ChatSession, error) {
	data, err := c.message(ctx, api.Request{Type: "STORAGE_GET_SESSIONS"})
	if err != nil {
		return nil, err
	}
	var sessions []store.ChatSession
	if len(data) > 0 {
		if err := json.Unmarshal(data, &sessions); err != nil {
			return nil, fmt.Errorf("decoding sessions: %w", err)
		}
	}
	return sessions, nil
}

func decodeStatus(data json.RawMessage) (*store.BackendStatus, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var status store.BackendStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}
	return &status, nil
}
