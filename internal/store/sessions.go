package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// defaultSessionTitle is the product's historical fallback title; migrated
// data from shipped releases carries it, so it stays verbatim.
const defaultSessionTitle = "新会话"

const maxTitleRunes = 24

func (s *Store) newSessionID() string {
	return fmt.Sprintf("%d_%s", s.clock.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// deriveSessionTitle builds a session title from the first non-empty user
// message (falling back to the first non-empty message of any role):
// whitespace collapsed, trimmed, truncated to 24 characters.
func deriveSessionTitle(messages []Message) string {
	var basis string
	for _, m := range messages {
		if m.Role == RoleUser && strings.TrimSpace(m.Content) != "" {
			basis = m.Content
			break
		}
	}
	if basis == "" {
		for _, m := range messages {
			if strings.TrimSpace(m.Content) != "" {
				basis = m.Content
				break
			}
		}
	}
	return normalizeTitle(basis)
}

// userMessageTitle is the strict form used by the legacy import: only a
// user message can title the session, otherwise the default applies.
func userMessageTitle(messages []Message) string {
	for _, m := range messages {
		if m.Role == RoleUser && strings.TrimSpace(m.Content) != "" {
			return normalizeTitle(m.Content)
		}
	}
	return defaultSessionTitle
}

func normalizeTitle(basis string) string {
	title := strings.Join(strings.Fields(basis), " ")
	if title == "" {
		return defaultSessionTitle
	}
	if runes := []rune(title); len(runes) > maxTitleRunes {
		return string(runes[:maxTitleRunes])
	}
	return title
}

// --- session primitives (callers hold s.mu) ---

// sessionsLocked returns all sessions ordered by recency. Rows whose
// message blob fails to parse are skipped rather than failing the listing.
func (s *Store) sessionsLocked() ([]ChatSession, error) {
	rows, err := s.db.Query(
		"SELECT id, title, created_at, updated_at, messages_json FROM sessions ORDER BY updated_at DESC, created_at DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []ChatSession
	for rows.Next() {
		var sess ChatSession
		var messagesJSON string
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt, &messagesJSON); err != nil {
			return nil, err
		}
		if messagesJSON == "" {
			messagesJSON = "[]"
		}
		if err := json.Unmarshal([]byte(messagesJSON), &sess.Messages); err != nil {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// setSessionsLocked replaces the whole sessions table.
func (s *Store) setSessionsLocked(sessions []ChatSession) error {
	if _, err := s.db.Exec("DELETE FROM sessions"); err != nil {
		return fmt.Errorf("clearing sessions: %w", err)
	}
	stmt, err := s.db.Prepare(
		"INSERT INTO sessions (id, title, created_at, updated_at, messages_json) VALUES (?, ?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("preparing session insert: %w", err)
	}
	defer stmt.Close()

	for _, sess := range sessions {
		messages := sess.Messages
		if messages == nil {
			messages = []Message{}
		}
		blob, err := json.Marshal(messages)
		if err != nil {
			return fmt.Errorf("marshalling messages for session %s: %w", sess.ID, err)
		}
		if _, err := stmt.Exec(sess.ID, sess.Title, sess.CreatedAt, sess.UpdatedAt, string(blob)); err != nil {
			return fmt.Errorf("inserting session %s: %w", sess.ID, err)
		}
	}
	return nil
}

// setMessagesLocked writes the active session's message blob and bumps its
// updated_at. A missing active pointer is a no-op.
func (s *Store) setMessagesLocked(messages []Message) error {
	activeID, ok, err := s.kvGet(keyActiveSessionID)
	if err != nil || !ok || activeID == "" {
		return err
	}
	if messages == nil {
		messages = []Message{}
	}
	blob, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshalling messages: %w", err)
	}
	_, err = s.db.Exec(
		"UPDATE sessions SET messages_json = ?, updated_at = ? WHERE id = ?",
		string(blob), s.clock.Now().UnixMilli(), activeID,
	)
	return err
}

// messagesLocked returns the active session's messages, or nil when there
// is no active session, no matching row, or an unparseable blob.
func (s *Store) messagesLocked() ([]Message, error) {
	activeID, ok, err := s.kvGet(keyActiveSessionID)
	if err != nil {
		return nil, err
	}
	if !ok || activeID == "" {
		return nil, nil
	}
	var blob string
	err = s.db.QueryRow("SELECT messages_json FROM sessions WHERE id = ?", activeID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var messages []Message
	if err := json.Unmarshal([]byte(blob), &messages); err != nil {
		return nil, nil
	}
	return messages, nil
}

// --- public accessors ---

// Sessions returns all chat sessions ordered by updated_at descending.
func (s *Store) Sessions(ctx context.Context) ([]ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionsLocked()
}

// SetSessions clears and bulk-inserts the full session list.
func (s *Store) SetSessions(ctx context.Context, sessions []ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.setSessionsLocked(sessions); err != nil {
		return err
	}
	s.persist(ctx)
	return nil
}

// ActiveSessionID returns the active-session pointer, or "" when unset.
func (s *Store) ActiveSessionID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, _, err := s.kvGet(keyActiveSessionID)
	return id, err
}

// SetActiveSessionID overwrites the active-session pointer.
func (s *Store) SetActiveSessionID(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kvSet(keyActiveSessionID, sessionID); err != nil {
		return fmt.Errorf("writing active session pointer: %w", err)
	}
	s.persist(ctx)
	return nil
}

// Messages returns the active session's message list. Nil means "no
// active conversation" rather than an error.
func (s *Store) Messages(ctx context.Context) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesLocked()
}

// SetMessages overwrites the active session's message list.
func (s *Store) SetMessages(ctx context.Context, messages []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.setMessagesLocked(messages); err != nil {
		return err
	}
	s.persist(ctx)
	return nil
}

// InitSessions resolves startup state deterministically: keep a valid
// active session as-is; otherwise activate the most recently updated one;
// otherwise create a single session (seeded from any surviving flat
// message list). Calling it twice without intervening writes selects the
// same active session.
func (s *Store) InitSessions(ctx context.Context) (InitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.sessionsLocked()
	if err != nil {
		return InitResult{}, err
	}
	activeID, _, err := s.kvGet(keyActiveSessionID)
	if err != nil {
		return InitResult{}, err
	}

	if len(sessions) > 0 && activeID != "" {
		for _, sess := range sessions {
			if sess.ID == activeID {
				return InitResult{Sessions: sessions, ActiveSessionID: activeID}, nil
			}
		}
	}

	if len(sessions) > 0 {
		// sessionsLocked already orders by recency.
		picked := sessions[0]
		if err := s.kvSet(keyActiveSessionID, picked.ID); err != nil {
			return InitResult{}, fmt.Errorf("activating session %s: %w", picked.ID, err)
		}
		s.persist(ctx)
		return InitResult{Sessions: sessions, ActiveSessionID: picked.ID}, nil
	}

	legacy, err := s.messagesLocked()
	if err != nil {
		return InitResult{}, err
	}
	if legacy == nil {
		legacy = []Message{}
	}
	now := s.clock.Now().UnixMilli()
	session := ChatSession{
		ID:        s.newSessionID(),
		Title:     deriveSessionTitle(legacy),
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  legacy,
	}
	if err := s.setSessionsLocked([]ChatSession{session}); err != nil {
		return InitResult{}, err
	}
	if err := s.kvSet(keyActiveSessionID, session.ID); err != nil {
		return InitResult{}, fmt.Errorf("activating session %s: %w", session.ID, err)
	}
	s.persist(ctx)
	return InitResult{Sessions: []ChatSession{session}, ActiveSessionID: session.ID}, nil
}

// CreateSession creates a session seeded with initialMessages, prepends it
// to the list, and marks it active.
func (s *Store) CreateSession(ctx context.Context, initialMessages []Message) (ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.sessionsLocked()
	if err != nil {
		return ChatSession{}, err
	}
	if initialMessages == nil {
		initialMessages = []Message{}
	}
	now := s.clock.Now().UnixMilli()
	session := ChatSession{
		ID:        s.newSessionID(),
		Title:     deriveSessionTitle(initialMessages),
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  initialMessages,
	}
	next := append([]ChatSession{session}, sessions...)
	if err := s.setSessionsLocked(next); err != nil {
		return ChatSession{}, err
	}
	if err := s.kvSet(keyActiveSessionID, session.ID); err != nil {
		return ChatSession{}, fmt.Errorf("activating session %s: %w", session.ID, err)
	}
	s.persist(ctx)
	return session, nil
}

// ActivateSession marks the session with the given id active. A missing
// id returns (nil, nil): "not found" is a signal, not a failure.
func (s *Store) ActivateSession(ctx context.Context, sessionID string) (*ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.sessionsLocked()
	if err != nil {
		return nil, err
	}
	var target *ChatSession
	for i := range sessions {
		if sessions[i].ID == sessionID {
			target = &sessions[i]
			break
		}
	}
	if target == nil {
		return nil, nil
	}
	if err := s.kvSet(keyActiveSessionID, sessionID); err != nil {
		return nil, fmt.Errorf("activating session %s: %w", sessionID, err)
	}
	s.persist(ctx)
	picked := *target
	return &picked, nil
}

// UpdateSessionMessages replaces the message blob of the session with the
// given id and bumps its recency. When no such session exists, one is
// synthesized with that id, so a pointer whose row has vanished heals on
// the next write.
func (s *Store) UpdateSessionMessages(ctx context.Context, sessionID string, messages []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.sessionsLocked()
	if err != nil {
		return err
	}
	if messages == nil {
		messages = []Message{}
	}
	now := s.clock.Now().UnixMilli()

	found := false
	for i := range sessions {
		if sessions[i].ID != sessionID {
			continue
		}
		found = true
		if strings.TrimSpace(sessions[i].Title) == "" {
			sessions[i].Title = deriveSessionTitle(messages)
		}
		sessions[i].Messages = messages
		sessions[i].UpdatedAt = now
	}
	if !found {
		sessions = append([]ChatSession{{
			ID:        sessionID,
			Title:     deriveSessionTitle(messages),
			CreatedAt: now,
			UpdatedAt: now,
			Messages:  messages,
		}}, sessions...)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt > sessions[j].UpdatedAt
	})

	if err := s.setSessionsLocked(sessions); err != nil {
		return err
	}
	s.persist(ctx)
	return nil
}
