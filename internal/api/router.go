package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poelink/amrlink/internal/store"
)

// Request is the message envelope clients post to the daemon. Type selects
// the operation; the remaining fields carry its arguments.
type Request struct {
	Type      string                 `json:"type"`
	Config    *store.ConfigDocument  `json:"config,omitempty"`
	Messages  []store.Message        `json:"messages,omitempty"`
	Sessions  []store.ChatSession    `json:"sessions,omitempty"`
	SessionID string                 `json:"sessionId,omitempty"`
	State     *store.DisclaimerState `json:"state,omitempty"`
	Status    *store.BackendStatus   `json:"status,omitempty"`
	Key       string                 `json:"key,omitempty"`
}

// Response is the uniform reply envelope: success with data, or an error
// string.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Monitor abstracts the backend status monitor for the API layer.
type Monitor interface {
	Connect(ctx context.Context)
	Disconnect()
	Status(ctx context.Context) (*store.BackendStatus, error)
	CheckNow(ctx context.Context) (*store.BackendStatus, error)
	MarkOffline(ctx context.Context)
}

// Router dispatches request envelopes against the store and the monitor.
type Router struct {
	manager *store.Manager
	monitor Monitor
	logger  *slog.Logger
}

func NewRouter(manager *store.Manager, monitor Monitor, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		manager: manager,
		monitor: monitor,
		logger:  logger.With("component", "router"),
	}
}

// Dispatch routes a single request. Storage failures and missing required
// arguments come back as {success:false, error}; everything else is
// {success:true, data}.
func (rt *Router) Dispatch(ctx context.Context, req Request) Response {
	data, err := rt.dispatch(ctx, req)
	if err != nil {
		rt.logger.Warn("request failed", "type", req.Type, "error", err)
		return Response{Success: false, Error: err.Error()}
	}
	return Response{Success: true, Data: data}
}

func (rt *Router) dispatch(ctx context.Context, req Request) (any, error) {
	st, err := rt.manager.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	switch req.Type {
	case "STORAGE_GET_CONFIG":
		return st.Config(ctx)

	case "STORAGE_SET_CONFIG":
		if req.Config == nil {
			return nil, fmt.Errorf("config is required")
		}
		if err := st.SetConfig(ctx, *req.Config); err != nil {
			return nil, err
		}
		rt.applyServerConfig(ctx, req.Config)
		return nil, nil

	case "STORAGE_GET_MESSAGES":
		return st.Messages(ctx)

	case "STORAGE_SET_MESSAGES":
		return nil, st.SetMessages(ctx, req.Messages)

	case "STORAGE_GET_SESSIONS":
		return st.Sessions(ctx)

	case "STORAGE_SET_SESSIONS":
		return nil, st.SetSessions(ctx, req.Sessions)

	case "STORAGE_GET_ACTIVE_SESSION_ID":
		return st.ActiveSessionID(ctx)

	case "STORAGE_SET_ACTIVE_SESSION_ID":
		if req.SessionID == "" {
			return nil, fmt.Errorf("sessionId is required")
		}
		return nil, st.SetActiveSessionID(ctx, req.SessionID)

	case "STORAGE_INIT_SESSIONS":
		return st.InitSessions(ctx)

	case "STORAGE_CREATE_SESSION":
		return st.CreateSession(ctx, req.Messages)

	case "STORAGE_ACTIVATE_SESSION":
		if req.SessionID == "" {
			return nil, fmt.Errorf("sessionId is required")
		}
		return st.ActivateSession(ctx, req.SessionID)

	case "STORAGE_UPDATE_SESSION_MESSAGES":
		if req.SessionID == "" {
			return nil, fmt.Errorf("sessionId is required")
		}
		return nil, st.UpdateSessionMessages(ctx, req.SessionID, req.Messages)

	case "STORAGE_CLEAR_CHAT_HISTORY":
		return nil, st.ClearChatHistory(ctx)

	case "STORAGE_GET_DISCLAIMER_STATE":
		return st.DisclaimerState(ctx)

	case "STORAGE_SET_DISCLAIMER_STATE":
		if req.State == nil {
			return nil, fmt.Errorf("state is required")
		}
		return nil, st.SetDisclaimerState(ctx, *req.State)

	case "STORAGE_GET_LLM_CONFIG":
		cfg, err := st.Config(ctx)
		if err != nil || cfg == nil {
			return nil, err
		}
		return cfg.LLM, nil

	case "STORAGE_GET_BACKEND_STATUS":
		return st.BackendStatus(ctx)

	case "STORAGE_SET_BACKEND_STATUS":
		if req.Status == nil {
			return nil, fmt.Errorf("status is required")
		}
		return nil, st.SetBackendStatus(ctx, *req.Status)

	case "STORAGE_CLEAR_ALL":
		return nil, st.ClearAll(ctx)

	case "STORAGE_GET_ALL_KEYS":
		return st.AllKeys(ctx)

	case "STORAGE_HAS_KEY":
		if req.Key == "" {
			return nil, fmt.Errorf("key is required")
		}
		return st.HasKey(ctx, req.Key)

	case "GET_BACKEND_STATUS":
		return rt.monitor.Status(ctx)

	default:
		return nil, fmt.Errorf("unknown request type: %q", req.Type)
	}
}

// applyServerConfig follows a config save: a usable server config
// (re)connects the monitor, an incomplete one stops it.
func (rt *Router) applyServerConfig(ctx context.Context, cfg *store.ConfigDocument) {
	server := store.NormalizeServer(&cfg.Server)
	if server.IsComplete() {
		rt.monitor.Connect(ctx)
		return
	}
	rt.monitor.Disconnect()
}
