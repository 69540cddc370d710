// Package db holds the SQL run repository shared by the mysql, postgres and
// sqlite adapters. Each driver package supplies a Dialect and its schema.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	domain "github.com/glaciergh0st/HuntLens/internal/domain/runs"
)

// Dialect captures the SQL differences between drivers.
type Dialect struct {
	Name string
	// Numbered renders placeholders as $1, $2, ... instead of ?.
	Numbered bool
	// Upsert is appended to the insert statement.
	Upsert string
	// LikeEscape is appended to LIKE comparisons.
	LikeEscape string
}

const runColumns = `id, principal, artifact, artifact_type, status, failure_kind, failed_stage,
       message, confidence, evidence_count, corpus_version, result_json, duration_ms, created_at`

type RunRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewRunRepository(db *sql.DB, d Dialect) *RunRepository {
	return &RunRepository{db: db, dialect: d}
}

// Save insert/update Run record
func (r *RunRepository) Save(ctx context.Context, run *domain.Run) error {
	if strings.TrimSpace(string(run.ID)) == "" {
		return errors.New("run id is required")
	}
	q := `
INSERT INTO pipeline_runs
(` + runColumns + `)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
` + r.dialect.Upsert

	status := stringOrDash(string(run.Status))
	result := run.ResultJSON
	if strings.TrimSpace(result) == "" {
		result = "{}"
	}
	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err := r.db.ExecContext(ctx, r.bind(q),
		run.ID, run.Principal, run.Artifact, run.ArtifactType, status, run.FailureKind, run.FailedStage,
		run.Message, run.Confidence, run.EvidenceCount, run.CorpusVersion, result, run.DurationMS, created.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}
	return nil
}

// Get by ID
func (r *RunRepository) Get(ctx context.Context, id domain.RunID) (*domain.Run, error) {
	q := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE id=? LIMIT 1`
	run, err := scanRun(r.db.QueryRowContext(ctx, r.bind(q), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", id, err)
	}
	return run, nil
}

// Paginate with offset + limit, newest first
func (r *RunRepository) Paginate(ctx context.Context, page, pageSize int, f domain.Filter) (domain.Page, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	where, args := r.where(f)
	q := `SELECT ` + runColumns + ` FROM pipeline_runs` + where + `
ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, offset)

	rows, err := r.db.QueryContext(ctx, r.bind(q), args...)
	if err != nil {
		return domain.Page{}, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	out := []*domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return domain.Page{}, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return domain.Page{}, fmt.Errorf("iterating rows: %w", err)
	}

	total, err := r.Count(ctx, f)
	if err != nil {
		return domain.Page{}, fmt.Errorf("getting total count: %w", err)
	}
	return domain.Page{
		Data:       out,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}, nil
}

// Count returns the number of runs matching f.
func (r *RunRepository) Count(ctx context.Context, f domain.Filter) (int64, error) {
	where, args := r.where(f)
	var n int64
	if err := r.db.QueryRowContext(ctx, r.bind(`SELECT COUNT(*) FROM pipeline_runs`+where), args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *RunRepository) where(f domain.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ArtifactType != "" {
		conds = append(conds, "artifact_type = ?")
		args = append(args, f.ArtifactType)
	}
	if f.Artifact != "" {
		conds = append(conds, "artifact LIKE ?"+r.dialect.LikeEscape)
		args = append(args, "%"+escapeLikePattern(f.Artifact)+"%")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// bind rewrites ? placeholders for drivers that number them.
func (r *RunRepository) bind(q string) string {
	if !r.dialect.Numbered {
		return q
	}
	var b strings.Builder
	n := 0
	for _, c := range q {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	if err := row.Scan(
		&run.ID, &run.Principal, &run.Artifact, &run.ArtifactType, &run.Status, &run.FailureKind, &run.FailedStage,
		&run.Message, &run.Confidence, &run.EvidenceCount, &run.CorpusVersion, &run.ResultJSON, &run.DurationMS, &run.CreatedAt,
	); err != nil {
		return nil, err
	}
	run.CreatedAt = run.CreatedAt.UTC()
	return &run, nil
}

// stringOrDash returns "-" when the input is empty/whitespace
func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// escapeLikePattern escapes special characters in LIKE patterns
func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}
