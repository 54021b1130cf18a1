// Package agentstore holds the authoritative, ordered collection of agents
// with a protected default record and per-view selections.
package agentstore

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/soyeahso/dialdeck/internal/domain"
	"github.com/soyeahso/dialdeck/internal/hooks"
	"github.com/soyeahso/dialdeck/internal/logging"
	"github.com/soyeahso/dialdeck/internal/variables"
)

// Persister loads and saves the full agent snapshot.
type Persister interface {
	LoadAgents() ([]domain.Agent, error)
	SaveAgents(agents []domain.Agent) error
}

// DefaultAgent returns the seed record used when no default exists.
func DefaultAgent() domain.Agent {
	return domain.Agent{
		ID:           domain.DefaultAgentID,
		Name:         "Default",
		SystemPrompt: "Eres un agente profesional y amable. Habla estrictamente en Español y mantén las respuestas concisas.",
		VoiceID:      "Charon",
		Language:     "es-ES",
		Variables:    []domain.VariableDef{},
	}
}

// Store is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	agents    []domain.Agent
	selection map[string]string // view -> agent id

	persister Persister
	hooks     *hooks.Manager
	log       *logging.Logger
	newID     func() string
}

// Option configures a Store.
type Option func(*Store)

// WithPersister loads the initial snapshot from p and saves after every
// mutation.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithHooks emits agent lifecycle events on m.
func WithHooks(m *hooks.Manager) Option {
	return func(s *Store) { s.hooks = m }
}

// WithLogger sets the store logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.log = l.Sub("agents") }
}

// WithIDGenerator overrides the id source for new agents.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// New opens a store. The default agent is seeded when the persisted
// snapshot (if any) lacks one.
func New(opts ...Option) (*Store, error) {
	s := &Store{
		selection: make(map[string]string),
		newID:     uuid.NewString,
		log:       logging.New(nil, "silent"),
	}
	for _, opt := range opts {
		opt(s)
	}

	var initial []domain.Agent
	if s.persister != nil {
		loaded, err := s.persister.LoadAgents()
		if err != nil {
			return nil, err
		}
		initial = loaded
	}
	s.agents = dedupe(initial)
	return s, nil
}

// dedupe keeps the first record per id, normalizes variables, and puts a
// default at the front when none is present.
func dedupe(in []domain.Agent) []domain.Agent {
	out := make([]domain.Agent, 0, len(in)+1)
	seen := make(map[string]bool, len(in))
	for _, a := range in {
		if a.ID == "" || seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		a = a.Clone()
		a.Variables = variables.NormalizeDefs(a.Variables)
		out = append(out, a)
	}
	if !seen[domain.DefaultAgentID] {
		out = append([]domain.Agent{DefaultAgent()}, out...)
	}
	return out
}

// List returns copies of all agents in storage order.
func (s *Store) List() []domain.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Agent, len(s.agents))
	for i, a := range s.agents {
		out[i] = a.Clone()
	}
	return out
}

// Len returns the number of agents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}

// Get returns a copy of the agent with id.
func (s *Store) Get(id string) (domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return domain.Agent{}, notFound(id)
	}
	return s.agents[i].Clone(), nil
}

// Create adds a new agent named name, seeded from defaults.
func (s *Store) Create(name string, defaults domain.AgentFields) (domain.Agent, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Agent{}, &domain.ValidationError{Field: "name", Message: "name is required"}
	}

	s.mu.Lock()
	defaults.Name = name
	agent := defaults.Apply(domain.Agent{ID: s.freshID()})
	agent.Variables = variables.NormalizeDefs(agent.Variables)
	prev := s.agents
	s.agents = append(s.agents[:len(s.agents):len(s.agents)], agent)
	if err := s.save(); err != nil {
		s.agents = prev
		s.mu.Unlock()
		return domain.Agent{}, err
	}
	s.mu.Unlock()

	s.log.Info().Str("agentId", agent.ID).Str("name", agent.Name).Msg("agent created")
	s.emit(hooks.EventAgentCreated, agent)
	return agent.Clone(), nil
}

// freshID returns an id distinct from the default and every existing id.
// Callers must hold the write lock.
func (s *Store) freshID() string {
	for {
		id := s.newID()
		if id != "" && id != domain.DefaultAgentID && s.indexOf(id) < 0 {
			return id
		}
	}
}

// Update replaces every mutable field of the agent with id.
func (s *Store) Update(id string, fields domain.AgentFields) (domain.Agent, error) {
	fields.Name = strings.TrimSpace(fields.Name)
	if fields.Name == "" {
		return domain.Agent{}, &domain.ValidationError{Field: "name", Message: "name is required"}
	}

	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return domain.Agent{}, notFound(id)
	}
	prev := s.agents[i]
	updated := fields.Apply(prev)
	updated.Variables = variables.NormalizeDefs(updated.Variables)
	s.agents[i] = updated
	if err := s.save(); err != nil {
		s.agents[i] = prev
		s.mu.Unlock()
		return domain.Agent{}, err
	}
	s.mu.Unlock()

	s.log.Info().Str("agentId", id).Msg("agent updated")
	s.emit(hooks.EventAgentUpdated, updated)
	return updated.Clone(), nil
}

// Delete removes the agent with id. The default agent can never be removed.
func (s *Store) Delete(id string) error {
	if id == domain.DefaultAgentID {
		return &domain.ProtectedRecordError{ID: id}
	}

	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return notFound(id)
	}
	prev := s.agents
	removed := s.agents[i]
	next := make([]domain.Agent, 0, len(s.agents)-1)
	next = append(next, s.agents[:i]...)
	next = append(next, s.agents[i+1:]...)
	s.agents = next
	if err := s.save(); err != nil {
		s.agents = prev
		s.mu.Unlock()
		return err
	}
	s.fixSelections()
	s.mu.Unlock()

	s.log.Info().Str("agentId", id).Msg("agent deleted")
	s.emit(hooks.EventAgentDeleted, removed)
	return nil
}

// Put inserts or replaces one record as returned by the backend.
func (s *Store) Put(agent domain.Agent) error {
	if agent.ID == "" {
		return &domain.ValidationError{Field: "id", Message: "id is required"}
	}
	agent = agent.Clone()
	agent.Variables = variables.NormalizeDefs(agent.Variables)

	s.mu.Lock()
	prev := s.agents
	event := hooks.EventAgentUpdated
	if i := s.indexOf(agent.ID); i >= 0 {
		next := make([]domain.Agent, len(s.agents))
		copy(next, s.agents)
		next[i] = agent
		s.agents = next
	} else {
		event = hooks.EventAgentCreated
		s.agents = append(s.agents[:len(s.agents):len(s.agents)], agent)
	}
	if err := s.save(); err != nil {
		s.agents = prev
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.emit(event, agent)
	return nil
}

// Replace swaps the whole collection for a fetched list.
func (s *Store) Replace(agents []domain.Agent) error {
	next := dedupe(agents)

	s.mu.Lock()
	prev := s.agents
	s.agents = next
	if err := s.save(); err != nil {
		s.agents = prev
		s.mu.Unlock()
		return err
	}
	s.fixSelections()
	s.mu.Unlock()

	s.log.Debug().Int("count", len(next)).Msg("agents replaced")
	if s.hooks != nil {
		s.hooks.Emit(context.Background(), hooks.EventAgentsLoaded, map[string]any{"count": len(next)})
	}
	return nil
}

// Select makes id the current agent in view.
func (s *Store) Select(view, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(id) < 0 {
		return notFound(id)
	}
	s.selection[view] = id
	return nil
}

// Selected returns the current agent in view, if any.
func (s *Store) Selected(view string) (domain.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.selection[view]
	if !ok {
		return domain.Agent{}, false
	}
	i := s.indexOf(id)
	if i < 0 {
		return domain.Agent{}, false
	}
	return s.agents[i].Clone(), true
}

// fixSelections moves every selection that points at a missing agent to the
// first remaining agent, or clears it when the store is empty.
func (s *Store) fixSelections() {
	for view, id := range s.selection {
		if s.indexOf(id) >= 0 {
			continue
		}
		if len(s.agents) == 0 {
			delete(s.selection, view)
			continue
		}
		s.selection[view] = s.agents[0].ID
	}
}

func (s *Store) indexOf(id string) int {
	for i := range s.agents {
		if s.agents[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) save() error {
	if s.persister == nil {
		return nil
	}
	return s.persister.SaveAgents(s.agents)
}

func (s *Store) emit(event string, a domain.Agent) {
	if s.hooks == nil {
		return
	}
	s.hooks.Emit(context.Background(), event, map[string]any{
		"agentId": a.ID,
		"name":    a.Name,
	})
}

func notFound(id string) error {
	return &domain.NotFoundError{Entity: "agent", ID: id}
}
