package playbook

// Phase is one of the six NIST SP 800-61 incident response phases.
type Phase string

const (
	PhaseDetection    Phase = "detection"
	PhaseAnalysis     Phase = "analysis"
	PhaseContainment  Phase = "containment"
	PhaseEradication  Phase = "eradication"
	PhaseRecovery     Phase = "recovery"
	PhasePostIncident Phase = "post_incident"
)

// Phases lists the phases in playbook order.
func Phases() []Phase {
	return []Phase{PhaseDetection, PhaseAnalysis, PhaseContainment, PhaseEradication, PhaseRecovery, PhasePostIncident}
}

// RequiresHumanReview reports whether steps of the phase act on live systems.
func (p Phase) RequiresHumanReview() bool {
	return p == PhaseContainment || p == PhaseEradication
}

// Step is one ordered action of a phase.
type Step struct {
	ID                  string   `json:"id"`
	ShortDescription    string   `json:"short_description"`
	How                 string   `json:"how"`
	Who                 string   `json:"who"`
	References          []string `json:"references"`
	Unverified          bool     `json:"unverified"`
	RequiresHumanReview bool     `json:"requires_human_review"`
}

// PhasePlaybook holds the steps of every phase. Fields are declared in
// phase order so the JSON encoding is stable.
type PhasePlaybook struct {
	Detection    []Step `json:"detection"`
	Analysis     []Step `json:"analysis"`
	Containment  []Step `json:"containment"`
	Eradication  []Step `json:"eradication"`
	Recovery     []Step `json:"recovery"`
	PostIncident []Step `json:"post_incident"`
}

// Steps returns the steps of phase p.
func (pp *PhasePlaybook) Steps(p Phase) []Step {
	if s := pp.slot(p); s != nil {
		return *s
	}
	return nil
}

// Set replaces the steps of phase p.
func (pp *PhasePlaybook) Set(p Phase, steps []Step) {
	if s := pp.slot(p); s != nil {
		*s = steps
	}
}

// Count is the number of steps across all phases.
func (pp *PhasePlaybook) Count() int {
	n := 0
	for _, p := range Phases() {
		n += len(pp.Steps(p))
	}
	return n
}

func (pp *PhasePlaybook) slot(p Phase) *[]Step {
	switch p {
	case PhaseDetection:
		return &pp.Detection
	case PhaseAnalysis:
		return &pp.Analysis
	case PhaseContainment:
		return &pp.Containment
	case PhaseEradication:
		return &pp.Eradication
	case PhaseRecovery:
		return &pp.Recovery
	case PhasePostIncident:
		return &pp.PostIncident
	}
	return nil
}

// Citation is evidence provenance for a referenced document.
type Citation struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Source     string  `json:"source"`
	TrustTier  int     `json:"trust_tier"`
	Score      float64 `json:"score"`
}

// DetectionQueries are hunting queries derived from the artifact.
type DetectionQueries struct {
	Family       string            `json:"family"`
	Queries      map[string]string `json:"queries"`
	SigmaRule    string            `json:"sigma_rule,omitempty"`
	Rationale    string            `json:"rationale"`
	SeverityHint string            `json:"severity_hint"`
}

// Validated is a playbook that passed the validator. It is built once by the
// validator and treated as a value afterwards.
type Validated struct {
	Artifact          string            `json:"artifact"`
	ArtifactType      string            `json:"artifact_type"`
	NISTPhasePlaybook PhasePlaybook     `json:"nist_phase_playbook"`
	SOARTemplate      string            `json:"soar_playbook_template"`
	References        []string          `json:"references"`
	Confidence        float64           `json:"confidence"`
	LowConfidence     bool              `json:"low_confidence"`
	Citations         []Citation        `json:"citations"`
	DetectionQueries  *DetectionQueries `json:"detection_queries,omitempty"`
}
