package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"

	"portfolio-agent/models"
)

// Archive keeps a write-only record of completed turns. Prompt context is
// never rebuilt from it.
type Archive struct {
	db      *sql.DB
	dialect Dialect
}

// NewArchive wraps a migrated database
func NewArchive(db *sql.DB, dialect Dialect) *Archive {
	return &Archive{db: db, dialect: dialect}
}

// RecordTurn stores the user and assistant messages of one turn in a
// single transaction, sharing a ULID turn id.
func (a *Archive) RecordTurn(ctx context.Context, sessionID string, user, assistant models.Message, actions []models.Action) error {
	var actionsJSON interface{}
	if len(actions) > 0 {
		raw, err := json.Marshal(actions)
		if err != nil {
			return fmt.Errorf("failed to marshal actions: %w", err)
		}
		actionsJSON = string(raw)
	}

	turnID := ulid.Make().String()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert := a.rebind(`
		INSERT INTO conversation_history (session_id, turn_id, role, message, actions)
		VALUES (?, ?, ?, ?, ?)
	`)
	if _, err := tx.ExecContext(ctx, insert, sessionID, turnID, string(user.Role), user.Content, nil); err != nil {
		return fmt.Errorf("failed to save user message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insert, sessionID, turnID, string(assistant.Role), assistant.Content, actionsJSON); err != nil {
		return fmt.Errorf("failed to save assistant message: %w", err)
	}

	return tx.Commit()
}

// CountSession returns the number of archived messages for a session
func (a *Archive) CountSession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx,
		a.rebind(`SELECT COUNT(*) FROM conversation_history WHERE session_id = ?`),
		sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count session messages: %w", err)
	}
	return n, nil
}

// Close releases the underlying database
func (a *Archive) Close() error {
	return a.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres
func (a *Archive) rebind(query string) string {
	if a.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
