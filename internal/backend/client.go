// Package backend is the JSON/HTTP client for the remote calling and voice
// backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/soyeahso/dialdeck/internal/domain"
	"github.com/soyeahso/dialdeck/internal/logging"
	"github.com/soyeahso/dialdeck/internal/version"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/soyeahso/dialdeck/internal/backend")

// Operation names used in RemoteError.Op.
const (
	OpListCalls   = "list calls"
	OpListAgents  = "list agents"
	OpCreateAgent = "create agent"
	OpUpdateAgent = "update agent"
	OpDeleteAgent = "delete agent"
	OpTranscript  = "get transcript"
	OpRecording   = "get recording"
)

// Client talks to one backend instance. It never retries.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	stream  *http.Client // recordings; no deadline on reading the body
	log     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// New creates a client for baseURL, e.g. "http://localhost:8000".
func New(baseURL string, log *logging.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.Sub("backend"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.stream = streamingClient(c.client)
	return c
}

// streamingClient copies hc without its overall Timeout, which would also
// cut off a long body. Only the wait for response headers stays bounded;
// the body is bounded by the caller's context.
func streamingClient(hc *http.Client) *http.Client {
	sc := *hc
	sc.Timeout = 0
	if hc.Transport == nil && hc.Timeout > 0 {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.ResponseHeaderTimeout = hc.Timeout
		sc.Transport = tr
	}
	return &sc
}

// BaseURL returns the configured backend address.
func (c *Client) BaseURL() string { return c.baseURL }

type initiateCallResponse struct {
	Message string `json:"message"`
	CallSID string `json:"call_sid"`
}

// InitiateCall posts a call request and returns the provider call SID.
func (c *Client) InitiateCall(ctx context.Context, req domain.CallRequest) (string, error) {
	if req.Variables == nil {
		req.Variables = map[string]string{}
	}
	var out initiateCallResponse
	err := c.do(ctx, domain.OpInitiateCall, http.MethodPost, "/call", req, &out,
		attribute.String("dialdeck.agent_id", req.AgentID))
	if err != nil {
		return "", err
	}
	if out.CallSID == "" {
		return "", &domain.RemoteError{Op: domain.OpInitiateCall, Err: errors.New("response has no call_sid")}
	}
	return out.CallSID, nil
}

type listCallsResponse struct {
	Calls []domain.CallLogEntry `json:"calls"`
}

// ListCalls returns up to limit recent calls.
func (c *Client) ListCalls(ctx context.Context, limit int) ([]domain.CallLogEntry, error) {
	path := "/calls?limit=" + strconv.Itoa(limit)
	var out listCallsResponse
	if err := c.do(ctx, OpListCalls, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Calls == nil {
		out.Calls = []domain.CallLogEntry{}
	}
	return out.Calls, nil
}

// ListAgents returns the agents plus the voice and language catalog.
func (c *Client) ListAgents(ctx context.Context) (domain.Catalog, error) {
	var out domain.Catalog
	if err := c.do(ctx, OpListAgents, http.MethodGet, "/agents", nil, &out); err != nil {
		return domain.Catalog{}, err
	}
	return out, nil
}

type agentEnvelope struct {
	Agent domain.Agent `json:"agent"`
}

type createAgentRequest struct {
	ID string `json:"id"`
	domain.AgentFields
}

// CreateAgent asks the backend to create an agent and returns the stored
// record with its assigned id.
func (c *Client) CreateAgent(ctx context.Context, fields domain.AgentFields) (domain.Agent, error) {
	fields.Variables = domain.CloneVariables(fields.Variables)
	var out agentEnvelope
	if err := c.do(ctx, OpCreateAgent, http.MethodPost, "/agents", createAgentRequest{ID: "new", AgentFields: fields}, &out); err != nil {
		return domain.Agent{}, err
	}
	return out.Agent, nil
}

// UpdateAgent replaces the full record.
func (c *Client) UpdateAgent(ctx context.Context, agent domain.Agent) (domain.Agent, error) {
	agent.Variables = domain.CloneVariables(agent.Variables)
	var out agentEnvelope
	err := c.do(ctx, OpUpdateAgent, http.MethodPut, "/agents/"+url.PathEscape(agent.ID), agent, &out,
		attribute.String("dialdeck.agent_id", agent.ID))
	if err != nil {
		return domain.Agent{}, err
	}
	return out.Agent, nil
}

// DeleteAgent removes an agent.
func (c *Client) DeleteAgent(ctx context.Context, id string) error {
	return c.do(ctx, OpDeleteAgent, http.MethodDelete, "/agents/"+url.PathEscape(id), nil, nil,
		attribute.String("dialdeck.agent_id", id))
}

// Transcript returns the ordered transcript of a call.
func (c *Client) Transcript(ctx context.Context, sid string) ([]domain.TranscriptEntry, error) {
	var out []domain.TranscriptEntry
	err := c.do(ctx, OpTranscript, http.MethodGet, "/calls/"+url.PathEscape(sid)+"/transcription", nil, &out,
		attribute.String("dialdeck.call_sid", sid))
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.TranscriptEntry{}
	}
	return out, nil
}

// Recording opens the audio stream of a call. The caller must close Body.
func (c *Client) Recording(ctx context.Context, sid string) (*domain.Recording, error) {
	ctx, span := tracer.Start(ctx, "backend "+OpRecording,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("dialdeck.call_sid", sid)))
	defer span.End()

	resp, err := c.send(ctx, c.stream, http.MethodGet, "/calls/"+url.PathEscape(sid)+"/recording", nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return nil, &domain.RemoteError{Op: OpRecording, Err: err}
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		rerr := remoteError(OpRecording, resp.StatusCode, body)
		span.SetStatus(codes.Error, rerr.Error())
		return nil, rerr
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return &domain.Recording{
		Body:        resp.Body,
		ContentType: contentType,
		Size:        resp.ContentLength,
	}, nil
}

// do sends one JSON request inside a client span and decodes a 2xx body into
// out (when out is non-nil). Every failure comes back as *domain.RemoteError.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any, attrs ...attribute.KeyValue) error {
	ctx, span := tracer.Start(ctx, "backend "+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs,
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		)...))
	defer span.End()

	start := time.Now()
	err := c.roundTrip(ctx, op, method, path, in, out, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Warn().Err(err).
			Str("op", op).
			Str("path", path).
			Dur("duration", time.Since(start)).
			Msg("backend request failed")
		return err
	}
	c.log.Debug().
		Str("op", op).
		Str("method", method).
		Str("path", path).
		Dur("duration", time.Since(start)).
		Msg("backend request")
	return nil
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, in, out any, span trace.Span) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &domain.RemoteError{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
		}
		body = bytes.NewReader(payload)
	}

	resp, err := c.send(ctx, c.client, method, path, body)
	if err != nil {
		return &domain.RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.RemoteError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return remoteError(op, resp.StatusCode, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &domain.RemoteError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("parse response: %w", err)}
	}
	return nil
}

func (c *Client) send(ctx context.Context, hc *http.Client, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return hc.Do(req)
}

type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

// remoteError builds a RemoteError from a non-2xx response. Only a string
// "detail" is surfaced; structured details (validation lists) are ignored.
func remoteError(op string, status int, body []byte) *domain.RemoteError {
	rerr := &domain.RemoteError{Op: op, StatusCode: status}
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && len(eb.Detail) > 0 {
		var detail string
		if json.Unmarshal(eb.Detail, &detail) == nil {
			rerr.Detail = strings.TrimSpace(detail)
		}
	}
	if rerr.Detail == "" {
		rerr.Err = errors.New(http.StatusText(status))
	}
	return rerr
}
