package playbook

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSchemaViolation is matched by every *SchemaViolation.
var ErrSchemaViolation = errors.New("schema violation")

// Violation is one structural problem of a draft, addressed by JSON path.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + ": " + v.Message
}

// SchemaViolation lists every reason a draft was rejected. It never carries
// the draft itself.
type SchemaViolation struct {
	Violations []Violation `json:"violations"`
}

func (e *SchemaViolation) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("schema violation: %s", strings.Join(msgs, "; "))
}

func (e *SchemaViolation) Is(target error) bool { return target == ErrSchemaViolation }
