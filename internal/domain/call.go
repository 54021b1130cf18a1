package domain

import "io"

// CallStatus is the dialer's UI lifecycle state. It is distinct from the
// provider's own call status string carried in CallLogEntry.
type CallStatus string

const (
	CallStatusIdle      CallStatus = "idle"
	CallStatusCalling   CallStatus = "calling"
	CallStatusConnected CallStatus = "connected"
	CallStatusError     CallStatus = "error"
)

// CallRequest is built fresh for every call attempt and never persisted.
type CallRequest struct {
	ToNumber  string            `json:"to_number"`
	Variables map[string]string `json:"variables"`
	AgentID   string            `json:"agent_id"`
}

// CallLogEntry is an immutable snapshot of one call as reported by the
// calling provider. Numeric fields arrive as strings or null.
type CallLogEntry struct {
	SID       string  `json:"sid"`
	Status    string  `json:"status"`
	Duration  *string `json:"duration"`
	StartTime *string `json:"start_time"`
	Direction string  `json:"direction"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Price     *string `json:"price"`
	PriceUnit string  `json:"price_unit"`
}

// Recording is an audio stream fetched for one call. Callers must close Body.
type Recording struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64 // -1 when unknown
}
