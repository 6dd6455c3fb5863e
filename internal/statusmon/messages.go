package statusmon

import "fmt"

const serviceStatusType = "service_status"

// statusMessage is the wire shape of both subscription pushes and one-shot
// health responses.
type statusMessage struct {
	Type      string      `json:"type"`
	Success   bool        `json:"success"`
	Data      *statusData `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
}

type statusData struct {
	Overall string `json:"overall"`
	OKCount int    `json:"okCount"`
	Total   int    `json:"total"`
}

// subscribeMessage subscribes to (or unsubscribes from) the status feed.
type subscribeMessage struct {
	Type     string         `json:"type"`
	DataType string         `json:"dataType"`
	Filter   map[string]any `json:"filter"`
}

func newSubscribe() subscribeMessage {
	return subscribeMessage{Type: "subscribe", DataType: serviceStatusType, Filter: map[string]any{}}
}

func newUnsubscribe() subscribeMessage {
	return subscribeMessage{Type: "unsubscribe", DataType: serviceStatusType, Filter: map[string]any{}}
}

// checkRequest is the one-shot health probe, matched to its response by
// requestId.
type checkRequest struct {
	Type        string `json:"type"`
	RequestID   string `json:"requestId"`
	TimeoutMs   int    `json:"timeoutMs"`
	Concurrency int    `json:"concurrency"`
	MaxRoutes   int    `json:"maxRoutes"`
	Force       bool   `json:"force"`
}

func newCheckRequest(requestID string) checkRequest {
	return checkRequest{
		Type:        serviceStatusType,
		RequestID:   requestID,
		TimeoutMs:   3000,
		Concurrency: 4,
		MaxRoutes:   200,
		Force:       true,
	}
}

type statusResult struct {
	online  bool
	errText string
}

// parseStatus interprets a service_status message. "healthy" and
// "degraded" both count as online; anything else is offline with a
// descriptive error. Non-status messages yield nil.
func parseStatus(msg statusMessage) *statusResult {
	if msg.Type != serviceStatusType {
		return nil
	}
	overall := ""
	okCount, total := 0, 0
	if msg.Data != nil {
		overall = msg.Data.Overall
		okCount = msg.Data.OKCount
		total = msg.Data.Total
	}
	if msg.Success && (overall == "healthy" || overall == "degraded") {
		return &statusResult{online: true}
	}
	var errText string
	switch {
	case overall == "unhealthy":
		errText = fmt.Sprintf("service status: unhealthy (ok: %d/%d)", okCount, total)
	case msg.Error != "":
		errText = msg.Error
	case overall != "":
		errText = fmt.Sprintf("service status: %s", overall)
	default:
		errText = "service status: unknown"
	}
	return &statusResult{online: false, errText: errText}
}
