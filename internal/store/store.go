// Package store is the background process's single-writer storage layer:
// an in-memory SQLite engine holding a generic kv table and the chat
// sessions table, restored from (and exported to) a binary snapshot after
// every mutation.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	messages_json TEXT NOT NULL
);
`

// Keys of the singleton documents in the kv table. The poelink_ prefix is
// the product's historical naming and must not change: the migration step
// copies legacy values verbatim under the same keys.
const (
	keyConfig          = "poelink_config"
	keyActiveSessionID = "poelink_active_session_id"
	keyDisclaimer      = "poelink_disclaimer_state"
	keyBackendStatus   = "poelink_backend_status"
	keyLegacySessions  = "poelink_sessions"
	keyLegacyMessages  = "poelink_messages"
)

// SnapshotStore persists the engine's full binary image.
// Implemented by blockstore.Store.
type SnapshotStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options configures Open.
type Options struct {
	Snapshots SnapshotStore
	Legacy    *LegacyStorage // optional; nil disables the one-shot import
	Logger    *slog.Logger
	Clock     Clock
	TempDir   string // scratch space for snapshot export/restore; defaults to os.TempDir()
}

// Store is the embedded relational store. All access is serialized through
// an internal mutex: the engine itself is single-connection, and accessor
// sequences (read, modify, write, persist) must not interleave.
type Store struct {
	mu        sync.Mutex
	db        *sql.DB
	snapshots SnapshotStore
	legacy    *LegacyStorage
	logger    *slog.Logger
	clock     Clock
	tempDir   string
}

// Open constructs the engine: restore the last snapshot if one exists, run
// the idempotent schema statements, and import legacy flat storage when
// the kv table has no configuration entry yet.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Snapshots == nil {
		return nil, fmt.Errorf("opening store: snapshot store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	tempDir := opts.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening engine: %w", err)
	}
	// A second connection would get its own empty memory database; the
	// engine must stay on exactly one.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging engine: %w", err)
	}

	s := &Store{
		db:        db,
		snapshots: opts.Snapshots,
		legacy:    opts.Legacy,
		logger:    logger.With("component", "store"),
		clock:     clock,
		tempDir:   tempDir,
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	blob, err := opts.Snapshots.Load(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	if len(blob) > 0 {
		if err := s.restore(ctx, blob); err != nil {
			// A corrupt snapshot must not brick startup; the next
			// successful save replaces it.
			s.logger.Warn("restoring snapshot failed, starting empty", "error", err)
		}
	}

	_, hasConfig, err := s.kvGet(keyConfig)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checking for existing config: %w", err)
	}
	if !hasConfig {
		if err := s.migrateFromLegacy(ctx); err != nil {
			s.logger.Warn("legacy storage migration failed, continuing with empty database", "error", err)
		}
	}

	s.logger.Info("store initialized")
	return s, nil
}

// Close closes the embedded engine. The last exported snapshot remains
// authoritative for the next start.
func (s *Store) Close() error {
	return s.db.Close()
}

// restore copies the kv and sessions tables out of a snapshot image into
// the live engine. The image is the engine's native file format, written
// to scratch space and attached read-only for the copy.
func (s *Store) restore(ctx context.Context, blob []byte) error {
	path := filepath.Join(s.tempDir, "amrlink-restore-"+uuid.NewString()+".db")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return fmt.Errorf("writing snapshot scratch file: %w", err)
	}
	defer os.Remove(path)

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("ATTACH DATABASE '%s' AS snap", escapeSQLString(path))); err != nil {
		return fmt.Errorf("attaching snapshot: %w", err)
	}
	defer s.db.ExecContext(ctx, "DETACH DATABASE snap")

	for _, table := range []string{"kv", "sessions"} {
		var n int
		err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM snap.sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&n)
		if err != nil {
			return fmt.Errorf("inspecting snapshot schema: %w", err)
		}
		if n == 0 {
			continue
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(
			"INSERT OR REPLACE INTO main.%s SELECT * FROM snap.%s", table, table,
		)); err != nil {
			return fmt.Errorf("copying table %s from snapshot: %w", table, err)
		}
	}
	return nil
}

// export serializes the whole engine to its binary file format.
func (s *Store) export(ctx context.Context) ([]byte, error) {
	// VACUUM INTO refuses to overwrite, so the target must be a fresh path.
	path := filepath.Join(s.tempDir, "amrlink-export-"+uuid.NewString()+".db")
	defer os.Remove(path)

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", escapeSQLString(path))); err != nil {
		return nil, fmt.Errorf("vacuum into: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading exported snapshot: %w", err)
	}
	return data, nil
}

// persist exports the engine and saves the image to the snapshot store.
// Failures are logged, never propagated: the in-memory engine stays
// authoritative and the next mutating call retries.
func (s *Store) persist(ctx context.Context) {
	data, err := s.export(ctx)
	if err != nil {
		s.logger.Error("exporting snapshot", "error", err)
		return
	}
	if err := s.snapshots.Save(ctx, data); err != nil {
		s.logger.Error("saving snapshot", "error", err)
	}
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Manager hands out the process-wide Store, constructing it lazily on
// first use. Concurrent first callers share a single in-flight
// construction instead of racing to build two engines.
type Manager struct {
	opts  Options
	group singleflight.Group

	mu    sync.Mutex
	store *Store
}

// NewManager returns a Manager that will open the store with opts on the
// first Get call.
func NewManager(opts Options) *Manager {
	return &Manager{opts: opts}
}

// Get returns the singleton store, constructing it if needed.
func (m *Manager) Get(ctx context.Context) (*Store, error) {
	m.mu.Lock()
	if m.store != nil {
		s := m.store
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do("store", func() (any, error) {
		// The construction is shared between callers, so it must not be
		// bound to whichever caller's context happens to arrive first.
		s, err := Open(context.Background(), m.opts)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.store = s
		m.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return v.(*Store), nil
}

// Close closes the store if it was ever constructed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}
