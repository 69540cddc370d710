package corpus

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnavailable means no snapshot can be queried.
	ErrUnavailable = errors.New("corpus unavailable")
	// ErrNothingIngested is wrapped by an IngestionError when a non-empty
	// batch contained no valid document.
	ErrNothingIngested = errors.New("no valid documents in batch")
)

// Rejection explains why one document of a batch was skipped.
type Rejection struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// IngestionError lists the malformed documents of a batch. Accepted > 0
// means a new snapshot was still installed.
type IngestionError struct {
	BatchID  string      `json:"batch_id"`
	Accepted int         `json:"accepted"`
	Rejected []Rejection `json:"rejected"`
}

func (e *IngestionError) Error() string {
	reasons := make([]string, 0, len(e.Rejected))
	for _, r := range e.Rejected {
		reasons = append(reasons, fmt.Sprintf("#%d %s: %s", r.Index, r.ID, r.Reason))
	}
	return fmt.Sprintf("ingestion batch %s: %d accepted, %d rejected (%s)",
		e.BatchID, e.Accepted, len(e.Rejected), strings.Join(reasons, "; "))
}

// Unwrap exposes ErrNothingIngested for batches that produced no snapshot.
func (e *IngestionError) Unwrap() error {
	if e.Accepted == 0 {
		return ErrNothingIngested
	}
	return nil
}
