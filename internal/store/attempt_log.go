package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/soyeahso/dialdeck/internal/domain"
	"github.com/soyeahso/dialdeck/internal/hooks"
)

// Attempt is one journaled dialer submission.
type Attempt struct {
	ID            string            `json:"id"`
	AgentID       string            `json:"agentId"`
	ToNumber      string            `json:"toNumber"`
	VariableCount int               `json:"variableCount"`
	Status        domain.CallStatus `json:"status"`
	CallSID       string            `json:"callSid,omitempty"`
	Error         string            `json:"error,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	FinishedAt    *time.Time        `json:"finishedAt,omitempty"`
}

// AttemptLog journals every call attempt made from this machine.
type AttemptLog struct {
	db  *DB
	now func() time.Time
}

// NewAttemptLog creates an attempt journal using the given database.
func NewAttemptLog(db *DB) *AttemptLog {
	return &AttemptLog{db: db, now: time.Now}
}

// Record inserts a new attempt in the calling state.
func (l *AttemptLog) Record(a Attempt) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = l.now()
	}
	if a.Status == "" {
		a.Status = domain.CallStatusCalling
	}
	_, err := l.db.sql.Exec(
		`INSERT INTO call_attempts (id, agent_id, to_number, variable_count, status, call_sid, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AgentID, a.ToNumber, a.VariableCount, string(a.Status), a.CallSID, a.Error,
		a.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording attempt %s: %w", a.ID, err)
	}
	return nil
}

// Finish stores the outcome of an attempt.
func (l *AttemptLog) Finish(id string, status domain.CallStatus, callSID, errMsg string) error {
	res, err := l.db.sql.Exec(
		`UPDATE call_attempts SET status = ?, call_sid = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), callSID, errMsg, l.now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("finishing attempt %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Entity: "call attempt", ID: id}
	}
	return nil
}

// Recent returns the newest attempts first. Limit of 0 defaults to 20.
func (l *AttemptLog) Recent(limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.sql.Query(
		`SELECT id, agent_id, to_number, variable_count, status, call_sid, error, created_at, finished_at
		 FROM call_attempts ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	defer rows.Close()

	attempts := []Attempt{}
	for rows.Next() {
		var a Attempt
		var status, created string
		var finished sql.NullString
		if err := rows.Scan(&a.ID, &a.AgentID, &a.ToNumber, &a.VariableCount, &status,
			&a.CallSID, &a.Error, &created, &finished); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		a.Status = domain.CallStatus(status)
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		if finished.Valid {
			t, err := time.Parse(time.RFC3339Nano, finished.String)
			if err == nil {
				a.FinishedAt = &t
			}
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// Attach journals dialer events published on m.
func (l *AttemptLog) Attach(m *hooks.Manager) {
	m.On(hooks.EventCallSubmitted, "attempt-log", func(_ context.Context, p hooks.Payload) error {
		return l.Record(Attempt{
			ID:            str(p.Data, "attemptId"),
			AgentID:       str(p.Data, "agentId"),
			ToNumber:      str(p.Data, "to"),
			VariableCount: num(p.Data, "variables"),
		})
	})
	m.On(hooks.EventCallConnected, "attempt-log", func(_ context.Context, p hooks.Payload) error {
		return l.Finish(str(p.Data, "attemptId"), domain.CallStatusConnected, str(p.Data, "callSid"), "")
	})
	m.On(hooks.EventCallFailed, "attempt-log", func(_ context.Context, p hooks.Payload) error {
		return l.Finish(str(p.Data, "attemptId"), domain.CallStatusError, "", str(p.Data, "error"))
	})
}

func str(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func num(data map[string]any, key string) int {
	n, _ := data[key].(int)
	return n
}
