package domain

// DefaultAgentID is the reserved identity of the agent that always exists.
// It can be edited but never deleted.
const DefaultAgentID = "default"

// VariableDef declares a placeholder an agent's prompt may reference.
// Key only ever contains [A-Za-z0-9_].
type VariableDef struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	Example     string `json:"example"`
}

// Agent is a named configuration bundling a prompt template, voice,
// language, and variable definitions.
type Agent struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	SystemPrompt string        `json:"system_prompt"`
	VoiceID      string        `json:"voice_id"`
	Language     string        `json:"language"`
	Variables    []VariableDef `json:"variables"`
}

// IsDefault reports whether this is the protected default agent.
func (a Agent) IsDefault() bool {
	return a.ID == DefaultAgentID
}

// Fields returns the mutable part of the agent.
func (a Agent) Fields() AgentFields {
	return AgentFields{
		Name:         a.Name,
		SystemPrompt: a.SystemPrompt,
		VoiceID:      a.VoiceID,
		Language:     a.Language,
		Variables:    CloneVariables(a.Variables),
	}
}

// Clone returns a deep copy so callers can edit without touching the original.
func (a Agent) Clone() Agent {
	a.Variables = CloneVariables(a.Variables)
	return a
}

// AgentFields holds every mutable agent field. Updates replace all of them.
type AgentFields struct {
	Name         string        `json:"name"`
	SystemPrompt string        `json:"system_prompt"`
	VoiceID      string        `json:"voice_id"`
	Language     string        `json:"language"`
	Variables    []VariableDef `json:"variables"`
}

// Apply returns a copy of agent with every mutable field replaced.
func (f AgentFields) Apply(a Agent) Agent {
	a.Name = f.Name
	a.SystemPrompt = f.SystemPrompt
	a.VoiceID = f.VoiceID
	a.Language = f.Language
	a.Variables = CloneVariables(f.Variables)
	return a
}

// CloneVariables copies a variable list. A nil input yields an empty,
// non-nil slice so it encodes as [] rather than null.
func CloneVariables(defs []VariableDef) []VariableDef {
	out := make([]VariableDef, len(defs))
	copy(out, defs)
	return out
}
