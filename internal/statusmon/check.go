package statusmon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/poelink/amrlink/internal/store"
)

const checkTimeout = 10 * time.Second

// CheckNow performs a one-shot health probe on a dedicated connection,
// independent of the persistent subscription. It writes the verdict
// through the storage layer and returns the resulting status record.
// With no usable server configuration it returns the last known status
// untouched.
func (m *Monitor) CheckNow(ctx context.Context) (*store.BackendStatus, error) {
	server := m.resolveServer(ctx)
	if !server.IsComplete() {
		return m.Status(ctx)
	}

	m.writeChecking(ctx)
	res := m.probe(ctx, server.WSURL())
	if res.online {
		m.writeOnline(ctx)
	} else {
		m.writeOffline(ctx, res.errText)
	}
	return m.Status(ctx)
}

func (m *Monitor) probe(ctx context.Context, wsURL string) statusResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	conn, resp, err := m.dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return statusResult{errText: fmt.Sprintf("websocket connection failed: %v", err)}
	}
	defer conn.Close()

	requestID := "health-" + uuid.NewString()
	if err := conn.WriteJSON(newCheckRequest(requestID)); err != nil {
		return statusResult{errText: fmt.Sprintf("health check request failed: %v", err)}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(checkTimeout)
	}
	conn.SetReadDeadline(deadline)

	// The feed may interleave regular pushes; wait for the reply carrying
	// our request id.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return statusResult{errText: fmt.Sprintf("health check timed out: %v", err)}
		}
		var msg statusMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != serviceStatusType || msg.RequestID != requestID {
			continue
		}
		if res := parseStatus(msg); res != nil {
			return *res
		}
		return statusResult{errText: "service status: unknown"}
	}
}
