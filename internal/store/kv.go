package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// --- kv primitives (callers hold s.mu) ---

func (s *Store) kvGet(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) kvSet(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)", key, value)
	return err
}

func (s *Store) kvDelete(key string) error {
	_, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key)
	return err
}

// --- Config ---

// Config returns the stored configuration document, or nil when absent or
// unparseable.
func (s *Store) Config(ctx context.Context) (*ConfigDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok, err := s.kvGet(keyConfig)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var doc ConfigDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, nil
	}
	return &doc, nil
}

// SetConfig overwrites the configuration document wholesale.
func (s *Store) SetConfig(ctx context.Context, doc ConfigDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := s.kvSet(keyConfig, string(data)); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	s.persist(ctx)
	return nil
}

// --- Disclaimer ---

// DisclaimerState returns the stored disclaimer record. A value missing
// any required field, of the wrong shape, or unparseable is treated as
// absent and returns nil.
func (s *Store) DisclaimerState(ctx context.Context) (*DisclaimerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok, err := s.kvGet(keyDisclaimer)
	if err != nil {
		return nil, fmt.Errorf("reading disclaimer state: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var probe struct {
		Agreed        *bool  `json:"agreed"`
		DontShowAgain *bool  `json:"dontShowAgain"`
		UpdatedAt     *int64 `json:"updatedAt"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return nil, nil
	}
	if probe.Agreed == nil || probe.DontShowAgain == nil || probe.UpdatedAt == nil {
		return nil, nil
	}
	return &DisclaimerState{
		Agreed:        *probe.Agreed,
		DontShowAgain: *probe.DontShowAgain,
		UpdatedAt:     *probe.UpdatedAt,
	}, nil
}

// SetDisclaimerState overwrites the disclaimer record.
func (s *Store) SetDisclaimerState(ctx context.Context, state DisclaimerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling disclaimer state: %w", err)
	}
	if err := s.kvSet(keyDisclaimer, string(data)); err != nil {
		return fmt.Errorf("writing disclaimer state: %w", err)
	}
	s.persist(ctx)
	return nil
}

// --- Backend status ---

// BackendStatus returns the last written status record, or nil when absent
// or unparseable.
func (s *Store) BackendStatus(ctx context.Context) (*BackendStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok, err := s.kvGet(keyBackendStatus)
	if err != nil {
		return nil, fmt.Errorf("reading backend status: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var status BackendStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil, nil
	}
	return &status, nil
}

// SetBackendStatus overwrites the status record.
func (s *Store) SetBackendStatus(ctx context.Context, status BackendStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshalling backend status: %w", err)
	}
	if err := s.kvSet(keyBackendStatus, string(data)); err != nil {
		return fmt.Errorf("writing backend status: %w", err)
	}
	s.persist(ctx)
	return nil
}

// --- Introspection & clear operations ---

// AllKeys lists every key currently present in the kv table.
func (s *Store) AllKeys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, "SELECT key FROM kv")
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// HasKey reports whether a kv entry exists for key.
func (s *Store) HasKey(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok, err := s.kvGet(key)
	return ok, err
}

// ClearChatHistory deletes all sessions and the active-session pointer,
// leaving configuration, disclaimer, and status untouched.
func (s *Store) ClearChatHistory(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM sessions"); err != nil {
		return fmt.Errorf("clearing sessions: %w", err)
	}
	if err := s.kvDelete(keyActiveSessionID); err != nil {
		return fmt.Errorf("clearing active session pointer: %w", err)
	}
	s.persist(ctx)
	return nil
}

// ClearAll wipes both tables entirely.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM kv"); err != nil {
		return fmt.Errorf("clearing kv: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM sessions"); err != nil {
		return fmt.Errorf("clearing sessions: %w", err)
	}
	s.persist(ctx)
	return nil
}
