package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/dialdeck/internal/config"
	"github.com/soyeahso/dialdeck/internal/console"
	"github.com/soyeahso/dialdeck/internal/dialer"
	"github.com/soyeahso/dialdeck/internal/domain"
	"github.com/soyeahso/dialdeck/internal/hooks"
	"github.com/soyeahso/dialdeck/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token-123"

type fakeBackend struct {
	mu        sync.Mutex
	next      int
	callErr   error
	callDelay time.Duration
	calls     []domain.CallLogEntry
	agents    []domain.Agent
	listed    int
}

func (f *fakeBackend) InitiateCall(ctx context.Context, req domain.CallRequest) (string, error) {
	if f.callDelay > 0 {
		select {
		case <-time.After(f.callDelay):
		case <-ctx.Done():
			return "", &domain.RemoteError{Op: domain.OpInitiateCall, Err: ctx.Err()}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return "", f.callErr
	}
	return "CA-" + req.ToNumber, nil
}

func (f *fakeBackend) ListCalls(context.Context, int) ([]domain.CallLogEntry, error) {
	return f.calls, nil
}

func (f *fakeBackend) ListAgents(context.Context) (domain.Catalog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed++
	return domain.Catalog{Agents: f.agents, AvailableVoices: []domain.Voice{{ID: "Puck"}}}, nil
}

func (f *fakeBackend) CreateAgent(_ context.Context, fields domain.AgentFields) (domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return fields.Apply(domain.Agent{ID: fmt.Sprintf("srv-%d", f.next)}), nil
}

func (f *fakeBackend) UpdateAgent(_ context.Context, a domain.Agent) (domain.Agent, error) {
	return a, nil
}

func (f *fakeBackend) DeleteAgent(context.Context, string) error { return nil }

func (f *fakeBackend) Transcript(_ context.Context, sid string) ([]domain.TranscriptEntry, error) {
	return []domain.TranscriptEntry{{Role: "assistant", Content: "Hola", Timestamp: "2025-01-02T15:04:05"}}, nil
}

func (f *fakeBackend) Recording(_ context.Context, sid string) (*domain.Recording, error) {
	if sid == "missing" {
		return nil, &domain.RemoteError{Op: "get recording", StatusCode: 404, Detail: "Recording not found"}
	}
	return &domain.Recording{Body: io.NopCloser(strings.NewReader("ID3audio")), ContentType: "audio/mpeg", Size: 8}, nil
}

type testEnv struct {
	backend *fakeBackend
	console *console.Console
	server  *Server
	ts      *httptest.Server
}

func newTestEnv(t *testing.T, mutate ...func(*config.GatewayConfig)) *testEnv {
	t.Helper()
	log := logging.New(nil, "silent")
	m := hooks.NewManager(log)

	b := &fakeBackend{}
	c, err := console.New(b, console.Options{Hooks: m, ResetAfter: time.Minute}, log)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	cfg := config.Defaults().Gateway
	cfg.Auth = config.GatewayAuth{Mode: AuthModeToken, Token: testToken}
	for _, fn := range mutate {
		fn(&cfg)
	}
	srv := New(cfg, c, log, WithHooks(m))
	t.Cleanup(srv.limiter.close)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{backend: b, console: c, server: srv, ts: ts}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth_Public(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	h := decode[HealthResponse](t, resp)
	assert.Equal(t, "ok", h.Status)
	assert.Empty(t, h.Version)
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.ts.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/api/dialer")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", decode[map[string]string](t, resp)["detail"])

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/dialer", nil).StatusCode)
}

func TestAPI_PasswordHeader(t *testing.T) {
	env := newTestEnv(t, func(c *config.GatewayConfig) {
		c.Auth = config.GatewayAuth{Mode: AuthModePassword, Password: "pw"}
	})
	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/dialer", nil)
	req.Header.Set(PasswordHeader, "pw")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_RateLimitsFailedAuth(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < authRateMaxFails; i++ {
		resp, err := http.Get(env.ts.URL + "/api/dialer")
		require.NoError(t, err)
		resp.Body.Close()
	}
	resp := env.do(t, http.MethodGet, "/api/dialer", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestAgentsLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/agents", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cat := decode[domain.Catalog](t, resp)
	require.Len(t, cat.Agents, 1)
	assert.Equal(t, domain.DefaultAgentID, cat.Agents[0].ID)
	assert.Len(t, cat.AvailableVoices, 1)

	resp = env.do(t, http.MethodPost, "/api/agents", domain.AgentFields{Name: "Soporte"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[map[string]domain.Agent](t, resp)["agent"]
	assert.Equal(t, "srv-1", created.ID)

	resp = env.do(t, http.MethodPut, "/api/agents/srv-1", domain.AgentFields{
		Name:         "Soporte",
		SystemPrompt: "Cobra {{monto}}",
		Variables:    []domain.VariableDef{{Key: "monto"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/agents/srv-1/render", map[string]any{
		"variables": map[string]string{"monto": "100000"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rendered := decode[console.RenderedPrompt](t, resp)
	assert.Equal(t, "Cobra 100000", rendered.Prompt)
	assert.Empty(t, rendered.Unresolved)

	resp = env.do(t, http.MethodPost, "/api/agents/srv-1/render", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, "Cobra {{monto}}", raw["prompt"])
	assert.Equal(t, []any{"monto"}, raw["unresolved"])

	resp = env.do(t, http.MethodPost, "/api/agents/srv-1/select", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, console.ViewDialer, decode[map[string]string](t, resp)["view"])

	resp = env.do(t, http.MethodDelete, "/api/agents/srv-1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/agents/srv-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAgents_ErrorMapping(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/agents", domain.AgentFields{Name: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "name is required", decode[map[string]string](t, resp)["detail"])

	resp = env.do(t, http.MethodDelete, "/api/agents/default", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/agents/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, env.ts.URL+"/api/agents", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+testToken)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestPlaceCall(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/dialer/call", console.CallParams{Number: "3109998888"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[dialer.Result](t, resp)
	assert.Equal(t, "+573109998888", res.Request.ToNumber)
	assert.Equal(t, domain.DefaultAgentID, res.Request.AgentID)
	assert.Equal(t, "CA-+573109998888", res.CallSID)

	resp = env.do(t, http.MethodGet, "/api/dialer", nil)
	st := decode[dialer.Snapshot](t, resp)
	assert.Equal(t, domain.CallStatusConnected, st.State)

	resp = env.do(t, http.MethodPost, "/api/dialer/reset", nil)
	assert.Equal(t, domain.CallStatusIdle, decode[dialer.Snapshot](t, resp).State)
}

func soporteAgent() domain.Agent {
	return domain.Agent{
		ID:           "soporte",
		Name:         "Soporte",
		SystemPrompt: "Cobra {{monto}} pesos",
		VoiceID:      "Puck",
		Language:     "es-ES",
		Variables:    []domain.VariableDef{{Key: "monto"}},
	}
}

func TestPlaceCall_ColdGatewayLoadsAgents(t *testing.T) {
	env := newTestEnv(t)
	env.backend.agents = []domain.Agent{{ID: domain.DefaultAgentID, Name: "Default"}, soporteAgent()}

	resp := env.do(t, http.MethodPost, "/api/dialer/call", console.CallParams{
		Number:  "3109998888",
		AgentID: "soporte",
		Values:  map[string]string{"monto": "100000"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[dialer.Result](t, resp)
	assert.Equal(t, domain.CallRequest{
		ToNumber:  "+573109998888",
		Variables: map[string]string{"monto": "100000"},
		AgentID:   "soporte",
	}, res.Request)

	resp = env.do(t, http.MethodPost, "/api/agents/soporte/render", map[string]any{
		"variables": map[string]string{"monto": "100000"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Cobra 100000 pesos", decode[console.RenderedPrompt](t, resp).Prompt)

	env.backend.mu.Lock()
	assert.Equal(t, 1, env.backend.listed)
	env.backend.mu.Unlock()
}

func TestAgents_ColdGatewayGetAndSelect(t *testing.T) {
	env := newTestEnv(t)
	env.backend.agents = []domain.Agent{soporteAgent()}

	resp := env.do(t, http.MethodGet, "/api/agents/soporte", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Soporte", decode[map[string]domain.Agent](t, resp)["agent"].Name)

	resp = env.do(t, http.MethodPost, "/api/agents/soporte/select", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPlaceCall_AbandonedRequestStillConnects(t *testing.T) {
	env := newTestEnv(t)
	env.backend.callDelay = 150 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	body := strings.NewReader(`{"to_number":"3109998888"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/dialer/call", body).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	env.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	st := env.console.DialerStatus()
	assert.Equal(t, domain.CallStatusConnected, st.State)
	assert.Equal(t, "CA-+573109998888", st.CallSID)
	assert.Empty(t, st.Error)
}

func TestPlaceCall_Errors(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/dialer/call", console.CallParams{Number: " "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/dialer/call", console.CallParams{
		Number: "+1", Values: map[string]string{"x": "1"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env.backend.callErr = &domain.RemoteError{Op: domain.OpInitiateCall, StatusCode: 400, Detail: "The number +1 is not valid"}
	resp = env.do(t, http.MethodPost, "/api/dialer/call", console.CallParams{Number: "+1"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "The number +1 is not valid", decode[map[string]string](t, resp)["detail"])
}

func TestCalls(t *testing.T) {
	env := newTestEnv(t)
	dur, price := "30", "-0.01"
	env.backend.calls = []domain.CallLogEntry{{SID: "CA1", Status: "completed", Duration: &dur, Price: &price}}

	resp := env.do(t, http.MethodGet, "/api/calls?refresh=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	calls := decode[map[string][]domain.CallLogEntry](t, resp)["calls"]
	require.Len(t, calls, 1)

	resp = env.do(t, http.MethodGet, "/api/calls/summary", nil)
	var sum map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sum))
	assert.EqualValues(t, 1, sum["total_calls"])
	assert.EqualValues(t, 30, sum["total_duration_seconds"])

	resp = env.do(t, http.MethodGet, "/api/calls/CA1/transcription", nil)
	entries := decode[[]domain.TranscriptEntry](t, resp)
	require.Len(t, entries, 1)
	assert.Equal(t, "Hola", entries[0].Content)
}

func TestRecording_Streamed(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/calls/CA1/recording", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ID3audio", string(body))

	resp = env.do(t, http.MethodGet, "/api/calls/missing/recording", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "Recording not found", decode[map[string]string](t, resp)["detail"])
}

// --- WebSocket ---

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func connect(t *testing.T, conn *websocket.Conn, token string) Frame {
	t.Helper()
	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))
	assert.Equal(t, FrameTypeEvent, challenge.Type)
	assert.Equal(t, EventConnectChallenge, challenge.Event)

	req, err := NewRequest("req-1", "connect", ConnectParams{
		MinProtocol: 1,
		MaxProtocol: 1,
		Client:      ClientInfo{ID: "test-console", Version: "1.0.0"},
		Auth:        &ConnectAuth{Token: token},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

func TestWebSocket_Handshake(t *testing.T) {
	env := newTestEnv(t)
	resp := connect(t, dialWS(t, env), testToken)

	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)
	var hello HelloOK
	require.NoError(t, json.Unmarshal(resp.Payload, &hello))
	assert.Equal(t, ProtocolVersion, hello.Protocol)
	assert.NotEmpty(t, hello.Server.ConnID)
	assert.Contains(t, hello.Features.Methods, "dialer.status")
	assert.Contains(t, hello.Features.Events, EventDialerStatus)
}

func TestWebSocket_WrongToken(t *testing.T) {
	env := newTestEnv(t)
	resp := connect(t, dialWS(t, env), "wrong")

	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "unauthorized", resp.Error.Code)
}

func TestWebSocket_Methods(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)
	connect(t, conn, testToken)

	req, _ := NewRequest("req-2", "dialer.status", nil)
	require.NoError(t, conn.WriteJSON(req))
	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "req-2", resp.ID)
	var st dialer.Snapshot
	require.NoError(t, json.Unmarshal(resp.Payload, &st))
	assert.Equal(t, domain.CallStatusIdle, st.State)

	req, _ = NewRequest("req-3", "calls.summary", nil)
	require.NoError(t, conn.WriteJSON(req))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "req-3", resp.ID)
	assert.True(t, *resp.OK)

	req, _ = NewRequest("req-4", "nope", nil)
	require.NoError(t, conn.WriteJSON(req))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.False(t, *resp.OK)
	assert.Equal(t, "method_not_found", resp.Error.Code)
}

func TestWebSocket_BroadcastsDialerEvents(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)
	connect(t, conn, testToken)
	require.Eventually(t, func() bool { return env.server.clients.Count() == 1 }, time.Second, 10*time.Millisecond)

	resp := env.do(t, http.MethodPost, "/api/dialer/call", console.CallParams{Number: "+15550001111"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var triggers []string
	for len(triggers) < 2 {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Event != EventDialerStatus {
			continue
		}
		var p struct {
			Trigger string          `json:"trigger"`
			Status  dialer.Snapshot `json:"status"`
		}
		require.NoError(t, json.Unmarshal(f.Payload, &p))
		triggers = append(triggers, p.Trigger)
	}
	assert.Equal(t, []string{hooks.EventCallSubmitted, hooks.EventCallConnected}, triggers)
}

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		cfg  config.GatewayConfig
		want string
	}{
		{config.GatewayConfig{Bind: "loopback", Port: 18790}, "127.0.0.1:18790"},
		{config.GatewayConfig{Bind: "lan", Port: 80}, "0.0.0.0:80"},
		{config.GatewayConfig{Bind: "custom", CustomBindHost: "10.1.1.1", Port: 9}, "10.1.1.1:9"},
		{config.GatewayConfig{Bind: "custom", Port: 9}, "0.0.0.0:9"},
		{config.GatewayConfig{Port: 1}, "127.0.0.1:1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveBindAddr(tt.cfg))
	}
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	log := logging.New(nil, "silent")
	c, err := console.New(&fakeBackend{}, console.Options{}, log)
	require.NoError(t, err)
	defer c.Close()

	srv := New(config.GatewayConfig{Bind: "loopback", Port: 0}, c, log)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
