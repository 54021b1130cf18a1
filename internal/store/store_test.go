package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/soyeahso/dialdeck/internal/domain"
	"github.com/soyeahso/dialdeck/internal/hooks"
	"github.com/soyeahso/dialdeck/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NotNil(t, db.SQL())
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dialdeck.db")
	db, err := Open(path, logging.New(nil, "silent"))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.FileExists(t, path)
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)

	v, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, v)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.migrate())

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)

	for _, table := range []string{"agents", "call_attempts"} {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

// --- AgentRepo tests ---

func TestAgentRepo_RoundTripKeepsOrder(t *testing.T) {
	repo := NewAgentRepo(testDB(t))

	in := []domain.Agent{
		{ID: "default", Name: "Default", VoiceID: "Charon", Language: "es-ES", Variables: []domain.VariableDef{}},
		{ID: "a2", Name: "Soporte", SystemPrompt: "Debe {{monto}}", Variables: []domain.VariableDef{
			{Key: "monto", Description: "Saldo", Example: "100000"},
		}},
		{ID: "a1", Name: "Ventas"},
	}
	require.NoError(t, repo.SaveAgents(in))

	out, err := repo.LoadAgents()
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"default", "a2", "a1"}, []string{out[0].ID, out[1].ID, out[2].ID})
	assert.Equal(t, in[1], out[1])
	assert.NotNil(t, out[2].Variables)
}

func TestAgentRepo_SaveReplaces(t *testing.T) {
	repo := NewAgentRepo(testDB(t))
	require.NoError(t, repo.SaveAgents([]domain.Agent{{ID: "default"}, {ID: "a1"}}))
	require.NoError(t, repo.SaveAgents([]domain.Agent{{ID: "default"}}))

	n, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAgentRepo_EmptyLoad(t *testing.T) {
	repo := NewAgentRepo(testDB(t))
	out, err := repo.LoadAgents()
	require.NoError(t, err)
	assert.Empty(t, out)
}

// --- AttemptLog tests ---

func TestAttemptLog_RecordAndFinish(t *testing.T) {
	log := NewAttemptLog(testDB(t))
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	log.now = func() time.Time { return base }

	require.NoError(t, log.Record(Attempt{ID: "t1", AgentID: "default", ToNumber: "+573001234567", VariableCount: 2}))
	log.now = func() time.Time { return base.Add(time.Minute) }
	require.NoError(t, log.Record(Attempt{ID: "t2", AgentID: "a1", ToNumber: "+15550001111"}))

	require.NoError(t, log.Finish("t1", domain.CallStatusConnected, "CA1", ""))
	require.NoError(t, log.Finish("t2", domain.CallStatusError, "", "Failed to initiate call"))

	got, err := log.Recent(10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "t2", got[0].ID)
	assert.Equal(t, domain.CallStatusError, got[0].Status)
	assert.Equal(t, "Failed to initiate call", got[0].Error)
	require.NotNil(t, got[0].FinishedAt)

	assert.Equal(t, "t1", got[1].ID)
	assert.Equal(t, "CA1", got[1].CallSID)
	assert.Equal(t, 2, got[1].VariableCount)
	assert.True(t, base.Equal(got[1].CreatedAt))
}

func TestAttemptLog_FinishUnknown(t *testing.T) {
	log := NewAttemptLog(testDB(t))
	var nf *domain.NotFoundError
	assert.ErrorAs(t, log.Finish("ghost", domain.CallStatusConnected, "CA", ""), &nf)
}

func TestAttemptLog_RecentLimit(t *testing.T) {
	log := NewAttemptLog(testDB(t))
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, log.Record(Attempt{ID: id, AgentID: "default", ToNumber: "+1"}))
	}
	got, err := log.Recent(2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestAttemptLog_Attach(t *testing.T) {
	log := NewAttemptLog(testDB(t))
	m := hooks.NewManager(logging.New(nil, "silent"))
	log.Attach(m)

	ctx := context.Background()
	m.Emit(ctx, hooks.EventCallSubmitted, map[string]any{
		"attemptId": "x1", "agentId": "default", "to": "+573001234567", "variables": 1,
	})
	m.Emit(ctx, hooks.EventCallConnected, map[string]any{"attemptId": "x1", "callSid": "CA77"})

	got, err := log.Recent(1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "+573001234567", got[0].ToNumber)
	assert.Equal(t, 1, got[0].VariableCount)
	assert.Equal(t, domain.CallStatusConnected, got[0].Status)
	assert.Equal(t, "CA77", got[0].CallSID)
}
