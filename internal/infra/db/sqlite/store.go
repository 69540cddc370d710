// Package sqlite stores run records in a local SQLite file. It backs the
// CLI and single-node deployments without a database server.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/glaciergh0st/HuntLens/internal/infra/db"
)

//go:embed schema.sql
var schemaSQL string

// Dialect is the SQLite flavour of the run repository.
var Dialect = db.Dialect{
	Name: "sqlite",
	Upsert: `ON CONFLICT (id) DO UPDATE SET
 status = excluded.status,
 failure_kind = excluded.failure_kind,
 failed_stage = excluded.failed_stage,
 message = excluded.message,
 confidence = excluded.confidence,
 evidence_count = excluded.evidence_count,
 result_json = excluded.result_json,
 duration_ms = excluded.duration_ms`,
	LikeEscape: ` ESCAPE '\'`,
}

// Open creates or opens the database at path and applies the schema.
// ":memory:" gives a throwaway database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; one connection also keeps an
	// in-memory database alive for the lifetime of the pool.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return conn, nil
}

func NewRunRepository(conn *sql.DB) *db.RunRepository {
	return db.NewRunRepository(conn, Dialect)
}
