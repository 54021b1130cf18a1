// Package console is the single stateful object the presentation layers
// (CLI and gateway) drive. It owns the agent store, the dialer and the call
// history, and routes agent mutations to the backend or the local store
// depending on the configured source.
package console

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/dialdeck/internal/agentstore"
	"github.com/soyeahso/dialdeck/internal/analytics"
	"github.com/soyeahso/dialdeck/internal/dialer"
	"github.com/soyeahso/dialdeck/internal/domain"
	"github.com/soyeahso/dialdeck/internal/hooks"
	"github.com/soyeahso/dialdeck/internal/logging"
	"github.com/soyeahso/dialdeck/internal/variables"
)

// Views that keep their own agent selection.
const (
	ViewDialer = "dialer"
	ViewAgents = "agents"
)

// Agent sources.
const (
	SourceRemote = "remote"
	SourceLocal  = "local"
)

// Backend is the remote surface the console needs.
type Backend interface {
	dialer.Caller
	analytics.Fetcher
	ListAgents(ctx context.Context) (domain.Catalog, error)
	CreateAgent(ctx context.Context, fields domain.AgentFields) (domain.Agent, error)
	UpdateAgent(ctx context.Context, agent domain.Agent) (domain.Agent, error)
	DeleteAgent(ctx context.Context, id string) error
	Transcript(ctx context.Context, sid string) ([]domain.TranscriptEntry, error)
	Recording(ctx context.Context, sid string) (*domain.Recording, error)
}

// Options configures a Console. Zero values fall back to defaults.
type Options struct {
	Source       string // SourceRemote (default) or SourceLocal
	CountryCode  string
	ResetAfter   time.Duration
	HistoryLimit int
	Persister    agentstore.Persister // local snapshot, used in SourceLocal
	Hooks        *hooks.Manager
	IDGenerator  func() string
}

// CallParams describes one call the operator wants to place.
type CallParams struct {
	Number  string            `json:"to_number"`
	AgentID string            `json:"agent_id,omitempty"`
	Values  map[string]string `json:"variables,omitempty"`
}

// Console is safe for concurrent use.
type Console struct {
	backend Backend
	source  string
	agents  *agentstore.Store
	dialer  *dialer.Dialer
	history *analytics.History
	hooks   *hooks.Manager
	log     *logging.Logger

	mu      sync.RWMutex
	catalog domain.Catalog
	loaded  bool
}

// New builds a console around backend.
func New(backend Backend, opts Options, log *logging.Logger) (*Console, error) {
	if opts.Source == "" {
		opts.Source = SourceRemote
	}

	storeOpts := []agentstore.Option{
		agentstore.WithHooks(opts.Hooks),
		agentstore.WithLogger(log),
	}
	if opts.Source == SourceLocal && opts.Persister != nil {
		storeOpts = append(storeOpts, agentstore.WithPersister(opts.Persister))
	}
	if opts.IDGenerator != nil {
		storeOpts = append(storeOpts, agentstore.WithIDGenerator(opts.IDGenerator))
	}
	agents, err := agentstore.New(storeOpts...)
	if err != nil {
		return nil, err
	}

	c := &Console{
		backend: backend,
		source:  opts.Source,
		agents:  agents,
		dialer: dialer.New(backend, dialer.Options{
			CountryCode: opts.CountryCode,
			ResetAfter:  opts.ResetAfter,
			Hooks:       opts.Hooks,
		}, log),
		history: analytics.NewHistory(backend, opts.HistoryLimit, opts.Hooks, log),
		hooks:   opts.Hooks,
		log:     log.Sub("console"),
	}
	if c.source == SourceLocal {
		c.catalog = LocalCatalog()
		c.loaded = true
	}
	return c, nil
}

// Source reports where agents are read from and written to.
func (c *Console) Source() string { return c.source }

func (c *Console) remote() bool { return c.source == SourceRemote }

// Close stops background timers.
func (c *Console) Close() {
	c.dialer.Close()
}

// LocalCatalog is the voice and language list offered when no backend
// catalog is available.
func LocalCatalog() domain.Catalog {
	return domain.Catalog{
		AvailableVoices: []domain.Voice{
			{ID: "Puck", Name: "Puck", Gender: "male"},
			{ID: "Charon", Name: "Charon", Gender: "male"},
			{ID: "Kore", Name: "Kore", Gender: "female"},
			{ID: "Fenrir", Name: "Fenrir", Gender: "male"},
			{ID: "Aoede", Name: "Aoede", Gender: "female"},
		},
		AvailableLanguages: []domain.Language{
			{Code: "es-ES", Name: "Spanish (Spain)"},
			{Code: "es-US", Name: "Spanish (US)"},
			{Code: "en-US", Name: "English (US)"},
		},
	}
}

// --- Agents ---

// EnsureAgentsLoaded fetches the agent catalog once.
func (c *Console) EnsureAgentsLoaded(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}
	return c.ReloadAgents(ctx)
}

// ReloadAgents replaces the agent collection with the backend's. In local
// mode the store is already authoritative and this is a no-op.
func (c *Console) ReloadAgents(ctx context.Context) error {
	if !c.remote() {
		return nil
	}
	cat, err := c.backend.ListAgents(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("loading agents")
		return err
	}
	if err := c.agents.Replace(cat.Agents); err != nil {
		return err
	}

	c.mu.Lock()
	c.catalog = domain.Catalog{
		AvailableVoices:    nonNil(cat.AvailableVoices),
		AvailableLanguages: nonNil(cat.AvailableLanguages),
	}
	c.loaded = true
	c.mu.Unlock()

	c.log.Debug().Int("agents", c.agents.Len()).Msg("agents loaded")
	return nil
}

// Agents returns every agent in display order.
func (c *Console) Agents() []domain.Agent {
	return c.agents.List()
}

// Catalog returns the agents together with the selectable voices and
// languages.
func (c *Console) Catalog() domain.Catalog {
	c.mu.RLock()
	cat := domain.Catalog{
		AvailableVoices:    nonNil(c.catalog.AvailableVoices),
		AvailableLanguages: nonNil(c.catalog.AvailableLanguages),
	}
	c.mu.RUnlock()
	cat.Agents = c.agents.List()
	return cat
}

// Agent returns one agent by id.
func (c *Console) Agent(id string) (domain.Agent, error) {
	return c.agents.Get(id)
}

// CreateAgent adds an agent named name. The new agent is selected in the
// agents view.
func (c *Console) CreateAgent(ctx context.Context, name string, fields domain.AgentFields) (domain.Agent, error) {
	fields.Name = strings.TrimSpace(name)
	if fields.Name == "" {
		return domain.Agent{}, &domain.ValidationError{Field: "name", Message: "name is required"}
	}
	fields.Variables = variables.NormalizeDefs(fields.Variables)

	var (
		created domain.Agent
		err     error
	)
	if c.remote() {
		created, err = c.backend.CreateAgent(ctx, fields)
		if err == nil {
			err = c.agents.Put(created)
		}
	} else {
		created, err = c.agents.Create(fields.Name, fields)
	}
	if err != nil {
		return domain.Agent{}, err
	}

	_ = c.agents.Select(ViewAgents, created.ID)
	return c.agents.Get(created.ID)
}

// SaveAgent replaces every mutable field of the agent with id.
func (c *Console) SaveAgent(ctx context.Context, id string, fields domain.AgentFields) (domain.Agent, error) {
	fields.Name = strings.TrimSpace(fields.Name)
	if fields.Name == "" {
		return domain.Agent{}, &domain.ValidationError{Field: "name", Message: "name is required"}
	}
	fields.Variables = variables.NormalizeDefs(fields.Variables)

	current, err := c.agents.Get(id)
	if err != nil {
		return domain.Agent{}, err
	}
	if !c.remote() {
		return c.agents.Update(id, fields)
	}

	saved, err := c.backend.UpdateAgent(ctx, fields.Apply(current))
	if err != nil {
		return domain.Agent{}, err
	}
	if saved.ID == "" {
		saved.ID = id
	}
	if err := c.agents.Put(saved); err != nil {
		return domain.Agent{}, err
	}
	return c.agents.Get(saved.ID)
}

// DeleteAgent removes the agent with id. The default agent is refused before
// any request is made.
func (c *Console) DeleteAgent(ctx context.Context, id string) error {
	if id == domain.DefaultAgentID {
		return &domain.ProtectedRecordError{ID: id}
	}
	if _, err := c.agents.Get(id); err != nil {
		return err
	}
	if c.remote() {
		if err := c.backend.DeleteAgent(ctx, id); err != nil {
			return err
		}
	}
	return c.agents.Delete(id)
}

// SelectAgent makes id current in view.
func (c *Console) SelectAgent(view, id string) error {
	return c.agents.Select(view, id)
}

// SelectedAgent returns the agent current in view, if any.
func (c *Console) SelectedAgent(view string) (domain.Agent, bool) {
	return c.agents.Selected(view)
}

// RenderedPrompt is a system prompt with values substituted. Unresolved
// lists the placeholders left in Prompt because no value was supplied.
type RenderedPrompt struct {
	Prompt     string   `json:"prompt"`
	Unresolved []string `json:"unresolved"`
}

// RenderPrompt substitutes values into the system prompt of agent id.
func (c *Console) RenderPrompt(id string, values map[string]string) (RenderedPrompt, error) {
	a, err := c.agents.Get(id)
	if err != nil {
		return RenderedPrompt{}, err
	}
	return RenderedPrompt{
		Prompt:     variables.Render(a.SystemPrompt, values),
		Unresolved: nonNil(variables.Unresolved(a.SystemPrompt, values)),
	}, nil
}

// --- Dialer ---

// PlaceCall resolves the agent, checks the supplied values against its
// variable definitions and submits the attempt. Without an explicit agent the
// dialer view's selection is used, then the default agent.
func (c *Console) PlaceCall(ctx context.Context, p CallParams) (dialer.Result, error) {
	agent, err := c.resolveAgent(p.AgentID)
	if err != nil {
		return dialer.Result{}, err
	}
	if err := variables.ValidateValues(agent.Variables, p.Values); err != nil {
		return dialer.Result{}, err
	}
	return c.dialer.Submit(ctx, p.Number, agent.ID, p.Values)
}

func (c *Console) resolveAgent(id string) (domain.Agent, error) {
	if id != "" {
		return c.agents.Get(id)
	}
	if a, ok := c.agents.Selected(ViewDialer); ok {
		return a, nil
	}
	return c.agents.Get(domain.DefaultAgentID)
}

// DialerStatus returns the dialer snapshot.
func (c *Console) DialerStatus() dialer.Snapshot {
	return c.dialer.Status()
}

// ResetDialer clears a connected or error state early.
func (c *Console) ResetDialer() {
	c.dialer.Reset()
}

// --- Calls ---

// EnsureCallsLoaded fetches the call history once.
func (c *Console) EnsureCallsLoaded(ctx context.Context) error {
	return c.history.EnsureLoaded(ctx)
}

// RefreshCalls refetches the call history.
func (c *Console) RefreshCalls(ctx context.Context) error {
	return c.history.Refresh(ctx)
}

// Calls returns the current call history.
func (c *Console) Calls() []domain.CallLogEntry {
	return c.history.Entries()
}

// CallSummary aggregates the current call history.
func (c *Console) CallSummary() analytics.Summary {
	return c.history.Summary()
}

// Transcript fetches the conversation of one call.
func (c *Console) Transcript(ctx context.Context, sid string) ([]domain.TranscriptEntry, error) {
	if strings.TrimSpace(sid) == "" {
		return nil, &domain.ValidationError{Field: "sid", Message: "call sid is required"}
	}
	return c.backend.Transcript(ctx, sid)
}

// Recording opens the audio of one call. The caller must close Body.
func (c *Console) Recording(ctx context.Context, sid string) (*domain.Recording, error) {
	if strings.TrimSpace(sid) == "" {
		return nil, &domain.ValidationError{Field: "sid", Message: "call sid is required"}
	}
	return c.backend.Recording(ctx, sid)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
