package store

import (
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message. Messages have no identity beyond their
// position in a session; the optional fields are display payloads carried
// through storage opaquely.
type Message struct {
	Role          string          `json:"role"`
	Content       string          `json:"content"`
	Streaming     bool            `json:"streaming,omitempty"`
	DownloadURL   string          `json:"downloadUrl,omitempty"`
	DownloadLabel string          `json:"downloadLabel,omitempty"`
	Timeline      json.RawMessage `json:"timeline,omitempty"`
	RawThirdMsg   json.RawMessage `json:"rawThirdMsg,omitempty"`
}

// ChatSession is one conversation. Timestamps are epoch milliseconds;
// messages are stored as a JSON blob in the session row.
type ChatSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt int64     `json:"createdAt"`
	UpdatedAt int64     `json:"updatedAt"`
	Messages  []Message `json:"messages"`
}

// InitResult is the outcome of the session-startup resolution protocol.
type InitResult struct {
	Sessions        []ChatSession `json:"sessions"`
	ActiveSessionID string        `json:"activeSessionId"`
}

// ServerConfig identifies the backend the assistant talks to.
type ServerConfig struct {
	Protocol string `json:"protocol"`
	Host     string `json:"host"`
	Port     string `json:"port"`
}

// DatabaseConfig holds the AMR database connection settings.
type DatabaseConfig struct {
	Address string `json:"address"`
	User    string `json:"user"`
	Pass    string `json:"pass"`
}

// OpsConfig holds the operations-platform connection settings.
type OpsConfig struct {
	IP   string `json:"ip"`
	Port string `json:"port"`
}

// LLMConfig holds the model-provider settings.
type LLMConfig struct {
	APIKey   string `json:"apiKey"`
	Provider string `json:"provider"`
	BaseURL  string `json:"baseURL,omitempty"`
	Model    string `json:"model,omitempty"`
}

// AppConfig holds UI-level preferences.
type AppConfig struct {
	Theme           string `json:"theme,omitempty"`
	Language        string `json:"language,omitempty"`
	StreamSpeed     int    `json:"streamSpeed,omitempty"`
	AutoSyncCookies bool   `json:"autoSyncCookies,omitempty"`
}

// ConfigDocument is the whole user configuration, written wholesale on
// every save. Callers merge before calling SetConfig; the storage layer
// does not validate shape.
type ConfigDocument struct {
	ConfigID string          `json:"configId,omitempty"`
	Server   ServerConfig    `json:"server"`
	Database *DatabaseConfig `json:"database,omitempty"`
	Ops      *OpsConfig      `json:"ops,omitempty"`
	LLM      *LLMConfig      `json:"llm,omitempty"`
	App      *AppConfig      `json:"app,omitempty"`
}

// BackendStatus is the live online/offline record the status monitor
// continuously overwrites. LastCheck is epoch milliseconds.
type BackendStatus struct {
	Online    bool   `json:"online"`
	LastCheck int64  `json:"lastCheck"`
	Checking  bool   `json:"checking,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DisclaimerState gates access to the main application surface.
type DisclaimerState struct {
	Agreed        bool  `json:"agreed"`
	DontShowAgain bool  `json:"dontShowAgain"`
	UpdatedAt     int64 `json:"updatedAt"`
}
