package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/soyeahso/dialdeck/internal/domain"
)

// HealthResponse is returned by /health and the health method. The public
// endpoint only fills Status.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Clients int    `json:"clients,omitempty"`
	Source  string `json:"source,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondDetail(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"detail": detail})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
		protected  *domain.ProtectedRecordError
		remote     *domain.RemoteError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &protected), errors.Is(err, domain.ErrCallInFlight):
		return http.StatusConflict
	case errors.As(err, &remote):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := domain.UserMessage(err, http.StatusText(status))
	if status >= http.StatusInternalServerError {
		s.log.Warn().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	}
	respondDetail(w, status, msg)
}

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxPayload)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Message: "invalid JSON body: " + err.Error()}
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	respondDetail(w, http.StatusNotFound, "not found: "+r.URL.Path)
}

// RequestHandler answers one WebSocket request frame.
type RequestHandler func(rc *RequestContext)

// RequestContext carries one WebSocket request.
type RequestContext struct {
	Ctx    context.Context
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	if err := rc.Client.RespondError(rc.Frame.ID, code, message); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send error response")
	}
}

// Params decodes the request params into target.
func (rc *RequestContext) Params(target any) error {
	if len(rc.Frame.Params) == 0 {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}
