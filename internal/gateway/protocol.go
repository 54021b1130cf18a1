package gateway

import "encoding/json"

// ProtocolVersion is the WebSocket protocol version spoken by this server.
const ProtocolVersion = 1

// Frame types.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Event frame names pushed to connected consoles.
const (
	EventConnectChallenge = "connect.challenge"
	EventAgentsLoaded     = "agents.loaded"
	EventAgentCreated     = "agent.created"
	EventAgentUpdated     = "agent.updated"
	EventAgentDeleted     = "agent.deleted"
	EventDialerStatus     = "dialer.status"
	EventCallsRefreshed   = "calls.refreshed"
)

// Frame is the envelope for every WebSocket message. Type selects which of
// the request, response and event fields are set.
type Frame struct {
	Type string `json:"type"`

	// Request
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// Response
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`

	// Event
	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`
}

// ErrorShape is the error body of a failed response frame.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConnectParams are sent by the client in the "connect" request.
type ConnectParams struct {
	MinProtocol int          `json:"minProtocol"`
	MaxProtocol int          `json:"maxProtocol"`
	Client      ClientInfo   `json:"client"`
	Auth        *ConnectAuth `json:"auth,omitempty"`
}

// ClientInfo identifies the connecting console.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version"`
	Platform    string `json:"platform,omitempty"`
}

// ConnectAuth carries credentials.
type ConnectAuth struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// HelloOK is the payload answering a successful connect.
type HelloOK struct {
	Protocol int        `json:"protocol"`
	Server   ServerInfo `json:"server"`
	Features Features   `json:"features"`
	Snapshot any        `json:"snapshot,omitempty"`
}

// ServerInfo identifies the gateway.
type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"connId"`
}

// Features advertises request methods and pushed events.
type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

// NewRequest creates a request frame.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, nil
}

// NewResponse creates a success response frame.
func NewResponse(id string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	ok := true
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Payload: raw}, nil
}

// NewErrorResponse creates an error response frame.
func NewErrorResponse(id string, e ErrorShape) Frame {
	ok := false
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Error: &e}
}

// NewEvent creates an event frame.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeEvent, Event: event, Payload: raw, Seq: seq}, nil
}
