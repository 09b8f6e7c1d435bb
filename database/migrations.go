package database

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = map[Dialect][]string{
	Postgres: {
		`CREATE TABLE IF NOT EXISTS conversation_history (
			id SERIAL PRIMARY KEY,
			session_id VARCHAR(64) NOT NULL,
			turn_id VARCHAR(26) NOT NULL,
			role VARCHAR(16) NOT NULL,
			message TEXT NOT NULL,
			actions JSONB,
			timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_history_session ON conversation_history (session_id)`,
	},
	SQLite: {
		`CREATE TABLE IF NOT EXISTS conversation_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			turn_id TEXT NOT NULL,
			role TEXT NOT NULL,
			message TEXT NOT NULL,
			actions TEXT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_history_session ON conversation_history (session_id)`,
	},
}

// RunMigrations ensures the archive tables exist. It is safe to run on
// every start.
func RunMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	stmts, ok := schema[dialect]
	if !ok {
		return fmt.Errorf("no schema for dialect %q", dialect)
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
