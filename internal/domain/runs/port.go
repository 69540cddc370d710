package runs

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("run not found")

// Repository port for persisting and querying run records
type Repository interface {
	Save(ctx context.Context, r *Run) error
	Get(ctx context.Context, id RunID) (*Run, error)
	Paginate(ctx context.Context, page, pageSize int, f Filter) (Page, error)
}
