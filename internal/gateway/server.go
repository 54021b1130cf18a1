// Package gateway serves the console over HTTP and WebSocket so a
// presentation layer can drive agents, the dialer and the call history.
package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/dialdeck/internal/config"
	"github.com/soyeahso/dialdeck/internal/console"
	"github.com/soyeahso/dialdeck/internal/hooks"
	"github.com/soyeahso/dialdeck/internal/logging"
	"github.com/soyeahso/dialdeck/internal/version"
)

const (
	maxPayload       = 1 << 20
	handshakeTimeout = 10 * time.Second
)

// Server is the console API server.
type Server struct {
	cfg      config.GatewayConfig
	console  *console.Console
	auth     ResolvedAuth
	hooks    *hooks.Manager
	log      *logging.Logger
	clients  *ClientRegistry
	methods  map[string]RequestHandler
	eventSeq atomic.Int64

	upgrader   websocket.Upgrader
	limiter    *authRateLimiter
	httpServer *http.Server
	listenAddr atomic.Value // string
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithHooks relays lifecycle events from m to connected consoles.
func WithHooks(m *hooks.Manager) ServerOption {
	return func(s *Server) { s.hooks = m }
}

// New creates a gateway serving c.
func New(cfg config.GatewayConfig, c *console.Console, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:     cfg,
		console: c,
		auth:    ResolveAuth(cfg.Auth),
		log:     log.Sub("gateway"),
		clients: NewClientRegistry(log.Sub("ws")),
		methods: make(map[string]RequestHandler),
		limiter: newAuthRateLimiter(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerMethods()
	if s.hooks != nil {
		s.hooks.OnAny("gateway", s.relayHook)
	}
	return s
}

// checkWebSocketOrigin allows non-browser clients and configured origins.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isOriginAllowed(origin, allowed)
	}
}

// Handler returns the HTTP handler with the full middleware chain.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(loggingMiddleware(s.log))
	r.Use(telemetryMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", PasswordHeader},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.registerRoutes(r)
	return r
}

// Methods lists the WebSocket request methods.
func (s *Server) Methods() []string {
	out := make([]string, 0, len(s.methods))
	for m := range s.methods {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Addr returns the bound address once Start is listening.
func (s *Server) Addr() string {
	v, _ := s.listenAddr.Load().(string)
	return v
}

// ResolveBindAddr computes the listen address from config.
func ResolveBindAddr(cfg config.GatewayConfig) string {
	host := "127.0.0.1"
	switch cfg.Bind {
	case "lan":
		host = "0.0.0.0"
	case "custom":
		host = cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
	}
	return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := ResolveBindAddr(s.cfg)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	if s.cfg.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertPath, s.cfg.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		s.log.Info().Msg("TLS enabled")
	} else if s.cfg.Bind != "loopback" && s.cfg.Bind != "" {
		s.log.Warn().Msg("TLS is not enabled, credentials are sent in cleartext")
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.listenAddr.Store(ln.Addr().String())

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("auth", s.auth.Mode).
		Msg("gateway listening")
	s.hooks.Emit(ctx, hooks.EventServerStart, map[string]any{"addr": ln.Addr().String()})

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway")
		s.hooks.Emit(context.Background(), hooks.EventServerStop, nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("gateway shutdown")
		}
	}()

	err = s.httpServer.Serve(ln)
	s.limiter.close()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}

// handleWebSocket upgrades and runs one console connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited after failed auth attempts")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		s.limiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()
	s.readLoop(r.Context(), client)
}

// handshake runs challenge -> connect -> hello.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	challenge, err := NewEvent(EventConnectChallenge, map[string]any{
		"nonce": uuid.NewString(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}
	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, fmt.Errorf("parsing connect frame: %w", err)
	}
	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		sendErrorAndClose(conn, frame.ID, "protocol_error", "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		sendErrorAndClose(conn, frame.ID, "invalid_params", "invalid connect params")
		return nil, fmt.Errorf("parsing connect params: %w", err)
	}
	if params.MaxProtocol != 0 && params.MaxProtocol < ProtocolVersion {
		sendErrorAndClose(conn, frame.ID, "protocol_mismatch", "unsupported protocol version")
		return nil, fmt.Errorf("client max protocol %d", params.MaxProtocol)
	}

	res := Authorize(s.auth, params.Auth)
	if !res.OK {
		sendErrorAndClose(conn, frame.ID, "unauthorized", res.Reason)
		return nil, fmt.Errorf("auth failed: %s", res.Reason)
	}
	_ = conn.SetReadDeadline(time.Time{})

	client := NewClient(conn, params.Client, res)
	hello := HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: version.Version,
			Commit:  version.Commit,
			ConnID:  client.ConnID,
		},
		Features: Features{
			Methods: s.Methods(),
			Events: []string{
				EventAgentsLoaded, EventAgentCreated, EventAgentUpdated, EventAgentDeleted,
				EventDialerStatus, EventCallsRefreshed,
			},
		},
		Snapshot: map[string]any{"dialer": s.console.DialerStatus()},
	}
	resp, err := NewResponse(frame.ID, hello)
	if err != nil {
		return nil, err
	}
	if err := client.Send(resp); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("authMethod", res.Method).
		Msg("console authenticated")
	return client, nil
}

func (s *Server) readLoop(ctx context.Context, client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("console closed connection")
			} else {
				s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}
		s.dispatch(ctx, client, frame)
	}
}

func (s *Server) dispatch(ctx context.Context, client *Client, frame Frame) {
	handler, ok := s.methods[frame.Method]
	if !ok {
		client.RespondError(frame.ID, "method_not_found", "unknown method: "+frame.Method)
		return
	}
	handler(&RequestContext{Ctx: ctx, Client: client, Frame: frame, Server: s})
}

func sendErrorAndClose(conn *websocket.Conn, id, code, message string) {
	_ = conn.WriteJSON(NewErrorResponse(id, ErrorShape{Code: code, Message: message}))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
}

// relayHook turns lifecycle hook events into console event frames.
func (s *Server) relayHook(_ context.Context, p hooks.Payload) error {
	var (
		name    string
		payload any
	)
	switch p.Event {
	case hooks.EventAgentsLoaded:
		name, payload = EventAgentsLoaded, p.Data
	case hooks.EventAgentCreated:
		name, payload = EventAgentCreated, p.Data
	case hooks.EventAgentUpdated:
		name, payload = EventAgentUpdated, p.Data
	case hooks.EventAgentDeleted:
		name, payload = EventAgentDeleted, p.Data
	case hooks.EventCallSubmitted, hooks.EventCallConnected, hooks.EventCallFailed, hooks.EventDialerIdle:
		name = EventDialerStatus
		payload = map[string]any{
			"trigger": p.Event,
			"status":  s.console.DialerStatus(),
			"data":    p.Data,
		}
	case hooks.EventCallsRefreshed:
		name, payload = EventCallsRefreshed, s.console.CallSummary()
	default:
		return nil
	}
	s.clients.Broadcast(name, payload, s.eventSeq.Add(1))
	return nil
}
