// Package statusmon owns the single live subscription to the backend's
// service-status feed. It converts status pushes, silence, and connection
// failures into online/offline records written through the storage layer,
// reconnecting with exponential backoff. Background service workers can
// lose sockets without a clean close (suspension, network changes), so a
// sliding push-timeout turns silence into an offline determination.
package statusmon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/poelink/amrlink/internal/store"
)

// DefaultPushTimeout is how long the monitor waits between status pushes
// before forcing an offline determination. The backend pushes roughly
// once per second.
const DefaultPushTimeout = 5 * time.Second

const defaultDialTimeout = 10 * time.Second

// StatusStore is the slice of the storage layer the monitor reads
// configuration from and writes status through.
type StatusStore interface {
	Config(ctx context.Context) (*store.ConfigDocument, error)
	BackendStatus(ctx context.Context) (*store.BackendStatus, error)
	SetBackendStatus(ctx context.Context, status store.BackendStatus) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options tunes the monitor; zero values select defaults.
type Options struct {
	Logger      *slog.Logger
	Backoff     BackoffPolicy
	PushTimeout time.Duration
	DialTimeout time.Duration
	Clock       Clock
}

// Monitor maintains at most one live subscription at a time. Timer
// callbacks and the read loop all carry a generation number; teardown
// bumps the generation so a stale timer or a dying read loop can never
// act on a successor connection.
type Monitor struct {
	store       StatusStore
	logger      *slog.Logger
	backoff     BackoffPolicy
	pushTimeout time.Duration
	dialTimeout time.Duration
	clock       Clock
	dialer      *websocket.Dialer

	mu             sync.Mutex
	gen            uint64
	conn           *websocket.Conn
	dialing        bool
	currentURL     string
	attempts       int
	reconnectTimer *time.Timer
	pushTimer      *time.Timer
	pushTimerArm   uint64
}

// New creates a Monitor writing through st.
func New(st StatusStore, opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backoff := opts.Backoff
	if backoff.InitialDelay == 0 {
		backoff = DefaultBackoffPolicy()
	}
	pushTimeout := opts.PushTimeout
	if pushTimeout == 0 {
		pushTimeout = DefaultPushTimeout
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = defaultDialTimeout
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	return &Monitor{
		store:       st,
		logger:      logger.With("component", "statusmon"),
		backoff:     backoff,
		pushTimeout: pushTimeout,
		dialTimeout: dialTimeout,
		clock:       clock,
		dialer:      &websocket.Dialer{HandshakeTimeout: dialTimeout},
	}
}

// Connect starts or refreshes the persistent subscription. It is
// idempotent against the currently targeted backend: a call while a
// connection to the same URL is live (or being dialed) is a no-op. With
// no usable server configuration, it writes an offline record and stops.
func (m *Monitor) Connect(ctx context.Context) {
	server := m.resolveServer(ctx)
	if !server.IsComplete() {
		m.writeUnconfigured(ctx)
		m.Disconnect()
		return
	}
	wsURL := server.WSURL()

	m.mu.Lock()
	if wsURL == m.currentURL && (m.conn != nil || m.dialing) {
		m.mu.Unlock()
		return
	}
	m.teardownLocked(false)
	m.gen++
	gen := m.gen
	m.currentURL = wsURL
	m.dialing = true
	m.mu.Unlock()

	m.writeChecking(ctx)
	go m.dial(gen, wsURL)
}

// Disconnect cancels pending reconnect and push-timeout timers, resets
// the attempt counter, unsubscribes if the socket is open, closes it, and
// clears the target URL so a future Connect is treated as fresh.
func (m *Monitor) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked(true)
}

// MarkOffline force-writes an offline record, for collaborators that just
// observed a definitive backend failure and should not wait for the next
// push-timeout window.
func (m *Monitor) MarkOffline(ctx context.Context) {
	m.writeOffline(ctx, "connection lost")
}

// Status returns the last persisted status record.
func (m *Monitor) Status(ctx context.Context) (*store.BackendStatus, error) {
	return m.store.BackendStatus(ctx)
}

func (m *Monitor) resolveServer(ctx context.Context) *store.ServerConfig {
	cfg, err := m.store.Config(ctx)
	if err != nil || cfg == nil {
		return nil
	}
	return store.NormalizeServer(&cfg.Server)
}

func (m *Monitor) dial(gen uint64, wsURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.dialTimeout)
	defer cancel()
	conn, resp, err := m.dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		return
	}
	m.dialing = false
	if err != nil {
		m.scheduleReconnectLocked(gen)
		m.mu.Unlock()
		m.logger.Warn("websocket dial failed", "url", wsURL, "error", err)
		m.writeOffline(context.Background(), fmt.Sprintf("websocket connection failed: %v", err))
		return
	}
	m.conn = conn
	m.attempts = 0
	if err := conn.WriteJSON(newSubscribe()); err != nil {
		m.mu.Unlock()
		m.handleClose(gen)
		return
	}
	// Online is only written once a push actually arrives; until then the
	// push-timeout is the judge of this connection.
	m.armPushTimerLocked(gen)
	m.mu.Unlock()

	m.logger.Info("subscribed to status feed", "url", wsURL)
	go m.readLoop(gen, conn)
}

func (m *Monitor) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen)
			return
		}
		var msg statusMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		res := parseStatus(msg)
		if res == nil {
			continue
		}

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.stopPushTimerLocked()
		if m.conn != nil {
			m.armPushTimerLocked(gen)
		}
		m.mu.Unlock()

		if res.online {
			m.writeOnline(context.Background())
		} else {
			m.writeOffline(context.Background(), res.errText)
		}
	}
}

// handleClose runs when the socket dies for any reason: clear the push
// timer, drop the handle, record offline, and schedule a reconnect.
func (m *Monitor) handleClose(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.stopPushTimerLocked()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.scheduleReconnectLocked(gen)
	m.mu.Unlock()

	m.writeOffline(context.Background(), "connection closed")
}

func (m *Monitor) scheduleReconnectLocked(gen uint64) {
	if m.reconnectTimer != nil {
		return
	}
	delay := m.backoff.Delay(m.attempts)
	m.attempts++
	m.logger.Info("reconnect scheduled", "delay", delay, "attempt", m.attempts)
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.reconnectTimer = nil
		m.mu.Unlock()
		m.Connect(context.Background())
	})
}

func (m *Monitor) armPushTimerLocked(gen uint64) {
	m.stopPushTimerLocked()
	// The generation alone cannot veto a callback that fired just before
	// a rearm on the same connection: Stop() on a fired timer is a no-op
	// and the callback may already be waiting on the lock. Each arm gets
	// its own number; a stale callback no longer matches and bails.
	arm := m.pushTimerArm
	m.pushTimer = time.AfterFunc(m.pushTimeout, func() {
		m.mu.Lock()
		if gen != m.gen || arm != m.pushTimerArm {
			m.mu.Unlock()
			return
		}
		m.pushTimer = nil
		conn := m.conn
		m.mu.Unlock()

		m.writeOffline(context.Background(), "no status push received")
		if conn != nil {
			// Unblocks the read loop, which handles the close and
			// schedules the reconnect.
			conn.Close()
		}
	})
}

func (m *Monitor) stopPushTimerLocked() {
	m.pushTimerArm++
	if m.pushTimer != nil {
		m.pushTimer.Stop()
		m.pushTimer = nil
	}
}

func (m *Monitor) teardownLocked(resetAttempts bool) {
	m.gen++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopPushTimerLocked()
	if resetAttempts {
		m.attempts = 0
	}
	if m.conn != nil {
		m.conn.WriteJSON(newUnsubscribe())
		m.conn.Close()
		m.conn = nil
	}
	m.dialing = false
	m.currentURL = ""
}

// --- status writes ---

// writeOnline records a healthy backend, clearing any prior error.
func (m *Monitor) writeOnline(ctx context.Context) {
	m.setStatus(ctx, store.BackendStatus{
		Online:    true,
		LastCheck: m.clock.Now().UnixMilli(),
	})
}

// writeOffline records an offline backend with a human-readable reason.
func (m *Monitor) writeOffline(ctx context.Context, errText string) {
	m.setStatus(ctx, store.BackendStatus{
		Online:    false,
		LastCheck: m.clock.Now().UnixMilli(),
		Error:     errText,
	})
}

// writeChecking flags a check in progress, preserving the previous
// online/error verdict.
func (m *Monitor) writeChecking(ctx context.Context) {
	status := m.mergeExisting(ctx)
	status.Checking = true
	m.setStatus(ctx, status)
}

// writeUnconfigured records "offline, nothing to check" when no backend
// is configured, preserving any previous error text.
func (m *Monitor) writeUnconfigured(ctx context.Context) {
	status := m.mergeExisting(ctx)
	status.Online = false
	status.Checking = false
	m.setStatus(ctx, status)
}

func (m *Monitor) mergeExisting(ctx context.Context) store.BackendStatus {
	status := store.BackendStatus{}
	if existing, err := m.store.BackendStatus(ctx); err == nil && existing != nil {
		status = *existing
	}
	status.LastCheck = m.clock.Now().UnixMilli()
	return status
}

func (m *Monitor) setStatus(ctx context.Context, status store.BackendStatus) {
	if err := m.store.SetBackendStatus(ctx, status); err != nil {
		m.logger.Warn("writing backend status", "error", err)
	}
}
