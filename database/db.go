package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"portfolio-agent/logger"
)

// Dialect names the SQL flavour behind a connection
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Ping retry policy, package level so tests can shorten it
var (
	maxRetries = 30
	retryDelay = 2 * time.Second
)

// ParseDSN splits an archive DSN into its dialect and driver connection string.
// postgres:// and postgresql:// URLs are passed to lib/pq untouched,
// sqlite://path opens path with modernc.org/sqlite.
func ParseDSN(dsn string) (Dialect, string, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return Postgres, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite DSN has no path: %q", dsn)
		}
		return SQLite, path, nil
	default:
		return "", "", fmt.Errorf("unsupported archive DSN %q (want postgres:// or sqlite://)", dsn)
	}
}

// Connect opens the archive database and waits until it answers a ping
func Connect(ctx context.Context, dsn string, log *logger.Logger) (*sql.DB, Dialect, error) {
	if log == nil {
		log = logger.Nop()
	}
	dialect, conn, err := ParseDSN(dsn)
	if err != nil {
		return nil, "", err
	}

	db, err := sql.Open(string(dialect), conn)
	if err != nil {
		return nil, "", fmt.Errorf("error opening database: %w", err)
	}

	// Configure connection pool
	if dialect == SQLite {
		// one writer, and ":memory:" must stay on a single connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	// Test the connection with retries
	for i := 0; i < maxRetries; i++ {
		err = db.PingContext(ctx)
		if err == nil {
			log.Info().Str("dialect", string(dialect)).Msg("connected to archive database")
			return db, dialect, nil
		}
		log.Warn().Err(err).Int("attempt", i+1).Int("max", maxRetries).Msg("failed to connect to archive database")

		select {
		case <-ctx.Done():
			db.Close()
			return nil, "", ctx.Err()
		case <-time.After(retryDelay):
		}
	}

	db.Close()
	return nil, "", fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
}
