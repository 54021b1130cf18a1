package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/dialdeck/internal/logging"
)

// ErrClientClosed is returned when writing to a closed connection.
var ErrClientClosed = errors.New("client connection closed")

const writeWait = 10 * time.Second

// Client is one authenticated console connection.
type Client struct {
	ConnID      string
	Info        ClientInfo
	Auth        AuthResult
	ConnectedAt time.Time

	socket *websocket.Conn
	mu     sync.Mutex // serializes writes
	closed bool
}

// NewClient wraps an authenticated connection.
func NewClient(conn *websocket.Conn, info ClientInfo, auth AuthResult) *Client {
	return &Client{
		ConnID:      uuid.NewString(),
		Info:        info,
		Auth:        auth,
		ConnectedAt: time.Now(),
		socket:      conn,
	}
}

// Send writes one frame.
func (c *Client) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	return c.socket.WriteJSON(f)
}

// SendEvent writes an event frame.
func (c *Client) SendEvent(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// Respond writes a success response for request id.
func (c *Client) Respond(id string, payload any) error {
	f, err := NewResponse(id, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError writes an error response for request id.
func (c *Client) RespondError(id, code, message string) error {
	return c.Send(NewErrorResponse(id, ErrorShape{Code: code, Message: message}))
}

// ReadFrame blocks for the next frame.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Close closes the connection once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.socket.Close()
}

// ClientRegistry tracks connected consoles.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *logging.Logger
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client), log: log}
}

// Add registers c.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.ConnID] = c
	r.mu.Unlock()
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Msg("console connected")
}

// Remove unregisters a connection.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	delete(r.clients, connID)
	r.mu.Unlock()
	r.log.Info().Str("connId", connID).Msg("console disconnected")
}

// Count returns the number of connected consoles.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Broadcast sends an event to every connected console. Send failures are
// logged and otherwise ignored; the read loop reaps dead connections.
func (r *ClientRegistry) Broadcast(event string, payload any, seq int64) {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		r.log.Warn().Err(err).Str("event", event).Msg("encoding event")
		return
	}
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if err := c.Send(f); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Msg("broadcast send failed")
		}
	}
}

// CloseAll closes and forgets every connection.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}
