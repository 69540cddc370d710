package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"github.com/glaciergh0st/HuntLens/internal/infra/db"
)

//go:embed schema.sql
var schemaSQL string

// Dialect is the PostgreSQL flavour of the run repository.
var Dialect = db.Dialect{
	Name:     "postgres",
	Numbered: true,
	Upsert: `ON CONFLICT (id) DO UPDATE SET
 status = EXCLUDED.status,
 failure_kind = EXCLUDED.failure_kind,
 failed_stage = EXCLUDED.failed_stage,
 message = EXCLUDED.message,
 confidence = EXCLUDED.confidence,
 evidence_count = EXCLUDED.evidence_count,
 result_json = EXCLUDED.result_json,
 duration_ms = EXCLUDED.duration_ms`,
}

// DSN builds a postgres:// URL.
func DSN(user, password, host string, port int, name, sslMode string) string {
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, password),
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + name,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(30 * time.Minute)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx2); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.ExecContext(ctx2, schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return conn, nil
}

func NewRunRepository(conn *sql.DB) *db.RunRepository {
	return db.NewRunRepository(conn, Dialect)
}
