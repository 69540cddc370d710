package pipeline

import (
	"fmt"
	"time"

	"github.com/glaciergh0st/HuntLens/internal/domain/artifact"
	"github.com/glaciergh0st/HuntLens/internal/domain/evidence"
	"github.com/glaciergh0st/HuntLens/internal/domain/playbook"
)

// State is the position of a run in the pipeline.
type State string

const (
	StateClassifying        State = "classifying"
	StateRetrieving         State = "retrieving"
	StateAwaitingGeneration State = "awaiting_generation"
	StateValidating         State = "validating"
	StateDone               State = "done"
	StateFailed             State = "failed"
)

// FailureKind classifies why a run failed.
type FailureKind string

const (
	KindInvalidInput         FailureKind = "invalid_input"
	KindUnrecognizedArtifact FailureKind = "unrecognized_artifact"
	KindCorpusUnavailable    FailureKind = "corpus_unavailable"
	KindGenerationTimeout    FailureKind = "generation_timeout"
	KindGenerationFailure    FailureKind = "generation_failure"
	KindSchemaViolation      FailureKind = "schema_violation"
	KindTimeout              FailureKind = "timeout"
	KindCancelled            FailureKind = "cancelled"
	KindInternal             FailureKind = "internal"
)

// Failure is the terminal error of a run. It is returned as the error of
// Run and also carried in the Result.
type Failure struct {
	Kind       FailureKind          `json:"kind"`
	Stage      State                `json:"stage"`
	Message    string               `json:"message"`
	Violations []playbook.Violation `json:"violations,omitempty"`

	err error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s during %s: %s", f.Kind, f.Stage, f.Message)
}

func (f *Failure) Unwrap() error { return f.err }

// StageTimeout reports a stage that exceeded its own deadline.
type StageTimeout struct {
	Stage   State
	Timeout time.Duration
}

func (e *StageTimeout) Error() string {
	return fmt.Sprintf("stage %s timed out after %s", e.Stage, e.Timeout)
}

// StageTrace records one executed stage.
type StageTrace struct {
	Stage      State  `json:"stage"`
	DurationMS int64  `json:"duration_ms"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error,omitempty"`
}

// Result is the outcome of one run.
type Result struct {
	RunID         string              `json:"run_id"`
	State         State               `json:"state"`
	Artifact      *artifact.Artifact  `json:"classified_artifact,omitempty"`
	Evidence      []evidence.Item     `json:"evidence"`
	CorpusVersion string              `json:"corpus_version,omitempty"`
	Playbook      *playbook.Validated `json:"playbook,omitempty"`
	Failure       *Failure            `json:"failure,omitempty"`
	Stages        []StageTrace        `json:"stages"`
	DurationMS    int64               `json:"duration_ms"`
}
