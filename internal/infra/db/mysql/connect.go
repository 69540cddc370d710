package mysql

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net"
	"strconv"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/glaciergh0st/HuntLens/internal/infra/db"
)

//go:embed schema.sql
var schemaSQL string

// Dialect is the MySQL flavour of the run repository.
var Dialect = db.Dialect{
	Name: "mysql",
	Upsert: `ON DUPLICATE KEY UPDATE
 status=VALUES(status), failure_kind=VALUES(failure_kind), failed_stage=VALUES(failed_stage),
 message=VALUES(message), confidence=VALUES(confidence), evidence_count=VALUES(evidence_count),
 result_json=VALUES(result_json), duration_ms=VALUES(duration_ms)`,
}

// DSN builds a DSN with parseTime enabled and UTC timestamps.
func DSN(user, password, host string, port int, name string) string {
	c := driver.NewConfig()
	c.User = user
	c.Passwd = password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	c.DBName = name
	c.ParseTime = true
	c.Loc = time.UTC
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN()
}

// Connect opens the pool and applies the schema. A DSN without parseTime
// gets it switched on since run timestamps are scanned into time.Time.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	c, err := driver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	c.ParseTime = true

	conn, err := sql.Open("mysql", c.FormatDSN())
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
