package runs

import "time"

// RunID identifier type
type RunID string

// Status is the terminal state of a pipeline run.
type Status string

const (
	StatusDone   Status = "done"
	StatusFailed Status = "failed"
)

// Run is the audit record of one pipeline execution.
type Run struct {
	ID            RunID     `json:"id"`
	Principal     string    `json:"principal,omitempty"`
	Artifact      string    `json:"artifact"` // redacted raw input
	ArtifactType  string    `json:"artifact_type,omitempty"`
	Status        Status    `json:"status"`
	FailureKind   string    `json:"failure_kind,omitempty"`
	FailedStage   string    `json:"failed_stage,omitempty"`
	Message       string    `json:"message,omitempty"`
	Confidence    float64   `json:"confidence"`
	EvidenceCount int       `json:"evidence_count"`
	CorpusVersion string    `json:"corpus_version,omitempty"`
	ResultJSON    string    `json:"result_json,omitempty"` // validated playbook
	DurationMS    int64     `json:"duration_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// Filter narrows a run listing. Zero fields match everything.
type Filter struct {
	Status       Status
	ArtifactType string
	Artifact     string // substring match
}

// Page represents a paginated response with data and metadata
type Page struct {
	Data       []*Run `json:"data"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	Total      int64  `json:"total_items"`
	TotalPages int    `json:"total_pages"`
}
