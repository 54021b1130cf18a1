package gateway

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/soyeahso/dialdeck/internal/console"
	"github.com/soyeahso/dialdeck/internal/domain"
	"github.com/soyeahso/dialdeck/internal/version"
)

func (s *Server) registerRoutes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Route("/agents", func(r chi.Router) {
			r.Use(s.ensureAgentsLoaded)
			r.Get("/", s.handleListAgents)
			r.Post("/", s.handleCreateAgent)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetAgent)
				r.Put("/", s.handleSaveAgent)
				r.Delete("/", s.handleDeleteAgent)
				r.Post("/select", s.handleSelectAgent)
				r.Post("/render", s.handleRenderPrompt)
			})
		})

		r.Route("/dialer", func(r chi.Router) {
			r.Get("/", s.handleDialerStatus)
			r.With(s.ensureAgentsLoaded).Post("/call", s.handlePlaceCall)
			r.Post("/reset", s.handleResetDialer)
		})

		r.Route("/calls", func(r chi.Router) {
			r.Get("/", s.handleListCalls)
			r.Get("/summary", s.handleCallSummary)
			r.Get("/{sid}/transcription", s.handleTranscript)
			r.Get("/{sid}/recording", s.handleRecording)
		})
	})

	r.NotFound(handleNotFound)
}

// --- Agents ---

// ensureAgentsLoaded fetches the agent list once before any handler that
// reads or mutates agents.
func (s *Server) ensureAgentsLoaded(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.console.EnsureAgentsLoaded(r.Context()); err != nil {
			s.respondError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.console.Catalog())
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.console.Agent(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"agent": a})
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var fields domain.AgentFields
	if err := decodeBody(w, r, &fields); err != nil {
		s.respondError(w, r, err)
		return
	}
	a, err := s.console.CreateAgent(r.Context(), fields.Name, fields)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"agent": a})
}

func (s *Server) handleSaveAgent(w http.ResponseWriter, r *http.Request) {
	var fields domain.AgentFields
	if err := decodeBody(w, r, &fields); err != nil {
		s.respondError(w, r, err)
		return
	}
	a, err := s.console.SaveAgent(r.Context(), chi.URLParam(r, "id"), fields)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"agent": a})
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.console.DeleteAgent(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectAgent(w http.ResponseWriter, r *http.Request) {
	view := r.URL.Query().Get("view")
	if view == "" {
		view = console.ViewDialer
	}
	id := chi.URLParam(r, "id")
	if err := s.console.SelectAgent(view, id); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"view": view, "agent_id": id})
}

type renderRequest struct {
	Variables map[string]string `json:"variables"`
}

func (s *Server) handleRenderPrompt(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	rendered, err := s.console.RenderPrompt(chi.URLParam(r, "id"), req.Variables)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rendered)
}

// --- Dialer ---

func (s *Server) handleDialerStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.console.DialerStatus())
}

func (s *Server) handlePlaceCall(w http.ResponseWriter, r *http.Request) {
	var p console.CallParams
	if err := decodeBody(w, r, &p); err != nil {
		s.respondError(w, r, err)
		return
	}
	res, err := s.console.PlaceCall(r.Context(), p)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleResetDialer(w http.ResponseWriter, _ *http.Request) {
	s.console.ResetDialer()
	respondJSON(w, http.StatusOK, s.console.DialerStatus())
}

// --- Calls ---

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	var err error
	if refresh {
		err = s.console.RefreshCalls(r.Context())
	} else {
		err = s.console.EnsureCallsLoaded(r.Context())
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"calls": s.console.Calls()})
}

func (s *Server) handleCallSummary(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.console.CallSummary())
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	entries, err := s.console.Transcript(r.Context(), chi.URLParam(r, "sid"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := s.console.Recording(r.Context(), chi.URLParam(r, "sid"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer rec.Body.Close()

	w.Header().Set("Content-Type", rec.ContentType)
	if rec.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(rec.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rec.Body); err != nil {
		s.log.Debug().Err(err).Msg("recording stream interrupted")
	}
}

// --- WebSocket methods ---

func (s *Server) registerMethods() {
	s.methods["health"] = s.rpcHealth
	s.methods["dialer.status"] = s.rpcDialerStatus
	s.methods["calls.summary"] = s.rpcCallSummary
	s.methods["agents.list"] = s.rpcAgentsList
}

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(HealthResponse{
		Status:  "ok",
		Version: version.Version,
		Clients: s.clients.Count(),
		Source:  s.console.Source(),
	})
}

func (s *Server) rpcDialerStatus(rc *RequestContext) {
	rc.Respond(s.console.DialerStatus())
}

func (s *Server) rpcCallSummary(rc *RequestContext) {
	var p struct {
		Refresh bool `json:"refresh"`
	}
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Refresh {
		if err := s.console.RefreshCalls(rc.Ctx); err != nil {
			rc.RespondError("backend_error", domain.UserMessage(err, domain.FallbackRequestMessage))
			return
		}
	}
	rc.Respond(s.console.CallSummary())
}

func (s *Server) rpcAgentsList(rc *RequestContext) {
	if err := s.console.EnsureAgentsLoaded(rc.Ctx); err != nil {
		rc.RespondError("backend_error", domain.UserMessage(err, domain.FallbackRequestMessage))
		return
	}
	rc.Respond(s.console.Catalog())
}
