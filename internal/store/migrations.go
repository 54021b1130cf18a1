package store

// migration is one forward-only schema step.
type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "create agents",
		SQL: `
			CREATE TABLE agents (
				id            TEXT PRIMARY KEY,
				position      INTEGER NOT NULL,
				name          TEXT NOT NULL,
				system_prompt TEXT NOT NULL DEFAULT '',
				voice_id      TEXT NOT NULL DEFAULT '',
				language      TEXT NOT NULL DEFAULT '',
				variables     TEXT NOT NULL DEFAULT '[]',
				updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_agents_position ON agents (position);
		`,
	},
	{
		Version: 2,
		Name:    "create call attempts",
		SQL: `
			CREATE TABLE call_attempts (
				id             TEXT PRIMARY KEY,
				agent_id       TEXT NOT NULL,
				to_number      TEXT NOT NULL,
				variable_count INTEGER NOT NULL DEFAULT 0,
				status         TEXT NOT NULL,
				call_sid       TEXT NOT NULL DEFAULT '',
				error          TEXT NOT NULL DEFAULT '',
				created_at     TEXT NOT NULL,
				finished_at    TEXT
			);

			CREATE INDEX idx_call_attempts_created ON call_attempts (created_at);
			CREATE INDEX idx_call_attempts_sid ON call_attempts (call_sid);
		`,
	},
}
