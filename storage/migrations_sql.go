package storage

var sqliteMigrations = map[int][]string{
	1: {
		`CREATE TABLE IF NOT EXISTS engram_schema_version (
			num INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS engram_fact (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			content TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'personal',
			confidence REAL NOT NULL DEFAULT 1.0,
			source_conversation_id TEXT,
			project_id TEXT,
			embedding BLOB,
			date_created TIMESTAMP NOT NULL,
			date_updated TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_engram_fact_project
			ON engram_fact (project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_engram_fact_updated
			ON engram_fact (date_updated)`,
		`CREATE TABLE IF NOT EXISTS engram_conversation (
			id TEXT PRIMARY KEY,
			uuid TEXT NOT NULL UNIQUE,
			project_id TEXT,
			title TEXT NOT NULL DEFAULT '',
			message_count INTEGER NOT NULL DEFAULT 0,
			date_created TIMESTAMP NOT NULL,
			date_updated TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS engram_message (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES engram_conversation(id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			processed_for_facts INTEGER NOT NULL DEFAULT 0,
			date_created TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_engram_message_unprocessed
			ON engram_message (conversation_id, processed_for_facts)`,
	},
}

var postgresMigrations = map[int][]string{
	1: {
		`CREATE TABLE IF NOT EXISTS engram_schema_version (
			num INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS engram_fact (
			id BIGSERIAL PRIMARY KEY,
			uuid TEXT NOT NULL UNIQUE,
			content TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'personal',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			source_conversation_id TEXT,
			project_id TEXT,
			embedding BYTEA,
			date_created TIMESTAMPTZ NOT NULL,
			date_updated TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_engram_fact_project
			ON engram_fact (project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_engram_fact_updated
			ON engram_fact (date_updated)`,
		`CREATE TABLE IF NOT EXISTS engram_conversation (
			id TEXT PRIMARY KEY,
			uuid TEXT NOT NULL UNIQUE,
			project_id TEXT,
			title TEXT NOT NULL DEFAULT '',
			message_count BIGINT NOT NULL DEFAULT 0,
			date_created TIMESTAMPTZ NOT NULL,
			date_updated TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS engram_message (
			id BIGSERIAL PRIMARY KEY,
			uuid TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES engram_conversation(id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			processed_for_facts BOOLEAN NOT NULL DEFAULT FALSE,
			date_created TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_engram_message_unprocessed
			ON engram_message (conversation_id, processed_for_facts)`,
	},
}
