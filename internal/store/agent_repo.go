package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/soyeahso/dialdeck/internal/domain"
)

// AgentRepo stores the full agent snapshot in storage order.
type AgentRepo struct {
	db *DB
}

// NewAgentRepo creates an agent repository using the given database.
func NewAgentRepo(db *DB) *AgentRepo {
	return &AgentRepo{db: db}
}

// LoadAgents returns every stored agent ordered by position.
func (r *AgentRepo) LoadAgents() ([]domain.Agent, error) {
	rows, err := r.db.sql.Query(
		`SELECT id, name, system_prompt, voice_id, language, variables
		 FROM agents ORDER BY position`,
	)
	if err != nil {
		return nil, fmt.Errorf("loading agents: %w", err)
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		var a domain.Agent
		var vars string
		if err := rows.Scan(&a.ID, &a.Name, &a.SystemPrompt, &a.VoiceID, &a.Language, &vars); err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		if err := json.Unmarshal([]byte(vars), &a.Variables); err != nil {
			r.db.log.Warn().Err(err).Str("agentId", a.ID).Msg("discarding unreadable variables")
		}
		a.Variables = domain.CloneVariables(a.Variables)
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// SaveAgents replaces the stored snapshot in one transaction.
func (r *AgentRepo) SaveAgents(agents []domain.Agent) error {
	tx, err := r.db.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin save agents: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM agents`); err != nil {
		return fmt.Errorf("clearing agents: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO agents (id, position, name, system_prompt, voice_id, language, variables, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("preparing agent insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.DateTime)
	for i, a := range agents {
		vars, err := json.Marshal(domain.CloneVariables(a.Variables))
		if err != nil {
			return fmt.Errorf("encoding variables for %s: %w", a.ID, err)
		}
		if _, err := stmt.Exec(a.ID, i, a.Name, a.SystemPrompt, a.VoiceID, a.Language, string(vars), now); err != nil {
			return fmt.Errorf("saving agent %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save agents: %w", err)
	}
	return nil
}

// Count returns the number of stored agents.
func (r *AgentRepo) Count() (int, error) {
	var n int
	err := r.db.sql.QueryRow(`SELECT COUNT(*) FROM agents`).Scan(&n)
	return n, err
}
