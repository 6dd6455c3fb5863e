package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// LegacyStorage reads and prunes the flat JSON key-value file that
// releases before the embedded database wrote all state into.
type LegacyStorage struct {
	path string
}

// NewLegacyStorage points at the legacy file inside dataDir.
func NewLegacyStorage(dataDir string) *LegacyStorage {
	return &LegacyStorage{path: filepath.Join(dataDir, "legacy_storage.json")}
}

// NewLegacyStorageFile points at an explicit legacy file path.
func NewLegacyStorageFile(path string) *LegacyStorage {
	return &LegacyStorage{path: path}
}

// Get returns the raw values stored under keys. A missing file yields an
// empty map, not an error.
func (l *LegacyStorage) Get(keys []string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("reading legacy storage: %w", err)
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("parsing legacy storage: %w", err)
	}
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := all[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// Remove deletes keys from the legacy file, removing the file itself once
// nothing is left.
func (l *LegacyStorage) Remove(keys []string) error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading legacy storage: %w", err)
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return fmt.Errorf("parsing legacy storage: %w", err)
	}
	for _, k := range keys {
		delete(all, k)
	}
	if len(all) == 0 {
		return os.Remove(l.path)
	}
	next, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("marshalling legacy storage: %w", err)
	}
	return os.WriteFile(l.path, next, 0o600)
}

// migrateFromLegacy is the one-shot import from flat legacy storage into
// the relational store. It only runs when the kv table has no config row.
// Best effort: a failure mid-way leaves whatever was already copied (the
// legacy keys are only removed after a fully successful pass, so a later
// start can retry). Caller holds no lock; runs during Open before the
// store is shared.
func (s *Store) migrateFromLegacy(ctx context.Context) error {
	if s.legacy == nil {
		return nil
	}
	keys := []string{
		keyConfig,
		keyActiveSessionID,
		keyDisclaimer,
		keyBackendStatus,
		keyLegacyMessages,
		keyLegacySessions,
	}
	values, err := s.legacy.Get(keys)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}

	if raw, ok := values[keyConfig]; ok && isJSONObject(raw) {
		if err := s.kvSet(keyConfig, string(raw)); err != nil {
			return fmt.Errorf("migrating config: %w", err)
		}
		s.logger.Info("migrated legacy config")
	}
	if raw, ok := values[keyActiveSessionID]; ok {
		var id string
		if err := json.Unmarshal(raw, &id); err == nil && id != "" {
			if err := s.kvSet(keyActiveSessionID, id); err != nil {
				return fmt.Errorf("migrating active session pointer: %w", err)
			}
		}
	}
	if raw, ok := values[keyDisclaimer]; ok && isJSONObject(raw) {
		if err := s.kvSet(keyDisclaimer, string(raw)); err != nil {
			return fmt.Errorf("migrating disclaimer state: %w", err)
		}
	}
	if raw, ok := values[keyBackendStatus]; ok && isJSONObject(raw) {
		if err := s.kvSet(keyBackendStatus, string(raw)); err != nil {
			return fmt.Errorf("migrating backend status: %w", err)
		}
	}

	var sessions []ChatSession
	if raw, ok := values[keyLegacySessions]; ok {
		if err := json.Unmarshal(raw, &sessions); err != nil {
			sessions = nil
		}
	}
	if len(sessions) > 0 {
		kept := sessions[:0]
		for _, sess := range sessions {
			if sess.ID != "" {
				kept = append(kept, sess)
			}
		}
		if err := s.setSessionsLocked(kept); err != nil {
			return fmt.Errorf("migrating sessions: %w", err)
		}
		s.logger.Info("migrated legacy session list", "count", len(kept))
	} else if raw, ok := values[keyLegacyMessages]; ok {
		var messages []Message
		if err := json.Unmarshal(raw, &messages); err == nil && len(messages) > 0 {
			now := s.clock.Now().UnixMilli()
			session := ChatSession{
				ID:        s.newSessionID(),
				Title:     userMessageTitle(messages),
				CreatedAt: now,
				UpdatedAt: now,
				Messages:  messages,
			}
			if err := s.setSessionsLocked([]ChatSession{session}); err != nil {
				return fmt.Errorf("migrating flat message list: %w", err)
			}
			if err := s.kvSet(keyActiveSessionID, session.ID); err != nil {
				return fmt.Errorf("activating migrated session: %w", err)
			}
			s.logger.Info("migrated legacy flat messages into a session", "id", session.ID)
		}
	}

	s.persist(ctx)
	if err := s.legacy.Remove(keys); err != nil {
		return fmt.Errorf("pruning legacy storage: %w", err)
	}
	return nil
}

func isJSONObject(raw json.RawMessage) bool {
	var m map[string]json.RawMessage
	return json.Unmarshal(raw, &m) == nil
}
