package validation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/glaciergh0st/HuntLens/internal/domain/artifact"
	"github.com/glaciergh0st/HuntLens/internal/domain/evidence"
	"github.com/glaciergh0st/HuntLens/internal/domain/playbook"
)

// Config holds the confidence weights.
type Config struct {
	GroundedWeight         float64
	EvidenceWeight         float64
	ContainmentWeight      float64
	LowConfidenceThreshold float64
}

func DefaultConfig() Config {
	return Config{GroundedWeight: 0.5, EvidenceWeight: 0.35, ContainmentWeight: 0.15, LowConfidenceThreshold: 0.3}
}

// Input is one validation request.
type Input struct {
	Artifact artifact.Artifact
	Draft    []byte
	Evidence []evidence.Item
}

// Validator checks, repairs and grounds generated playbook drafts. It is
// stateless apart from configuration and safe for concurrent use.
type Validator struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Validator {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{cfg: cfg, logger: logger}
}

// fields the validator itself produces; a draft may carry them (for example
// when a validated playbook is fed back in) and they are recomputed silently.
var outputFields = map[string]struct{}{
	"nist_phase_playbook": {}, "artifact": {}, "artifact_type": {}, "references": {},
	"confidence": {}, "low_confidence": {}, "citations": {}, "soar_playbook_template": {},
	"detection_queries": {},
}

var stepFields = map[string]struct{}{
	"id": {}, "short_description": {}, "how": {}, "who": {}, "references": {},
	"unverified": {}, "requires_human_review": {},
}

// Validate returns a playbook that fully conforms to the schema or a
// *playbook.SchemaViolation listing every problem. Feeding the JSON of a
// returned playbook back in with the same evidence yields the same playbook.
func (v *Validator) Validate(in Input) (playbook.Validated, error) {
	body := extractJSON(in.Draft)

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return playbook.Validated{}, violation("", fmt.Sprintf("draft is not valid JSON: %v", err))
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return playbook.Validated{}, violation("", "draft must be a JSON object")
	}
	if _, ok := obj["nist_phase_playbook"]; !ok {
		return playbook.Validated{}, violation("nist_phase_playbook", "field is required")
	}
	if vs := structuralViolations(body); len(vs) > 0 {
		return playbook.Validated{}, &playbook.SchemaViolation{Violations: vs}
	}

	for key := range obj {
		if _, known := outputFields[key]; !known {
			v.logger.Warn("dropping unknown draft field", "field", key)
		}
	}
	phases, _ := obj["nist_phase_playbook"].(map[string]any)
	known := map[string]struct{}{}
	for _, p := range playbook.Phases() {
		known[string(p)] = struct{}{}
	}
	for key := range phases {
		if _, ok := known[key]; !ok {
			v.logger.Warn("dropping unknown phase", "phase", key)
		}
	}

	g := newGrounder(in.Evidence)
	var (
		out        playbook.Validated
		violations []playbook.Violation
		total      int
		grounded   int
		contained  bool
	)
	for _, phase := range playbook.Phases() {
		raw, _ := phases[string(phase)].([]any)
		steps := make([]playbook.Step, 0, len(raw))
		for i, item := range raw {
			path := fmt.Sprintf("nist_phase_playbook.%s.%d", phase, i)
			step, vs := v.decodeStep(item, phase, i, path)
			if len(vs) > 0 {
				violations = append(violations, vs...)
				continue
			}

			refs, stripped, isGrounded := g.groundRefs(step.References)
			if stripped > 0 {
				v.logger.Warn("stripped unresolvable references", "step", step.ID, "count", stripped)
			}
			step.References = refs
			step.Unverified = step.Unverified || stripped > 0 || !isGrounded
			step.RequiresHumanReview = step.RequiresHumanReview || phase.RequiresHumanReview()

			total++
			if isGrounded {
				grounded++
				if phase == playbook.PhaseContainment {
					contained = true
				}
			}
			steps = append(steps, step)
		}
		out.NISTPhasePlaybook.Set(phase, steps)
	}
	if len(violations) > 0 {
		return playbook.Validated{}, &playbook.SchemaViolation{Violations: violations}
	}

	out.Artifact = in.Artifact.Canonical
	out.ArtifactType = in.Artifact.Label()
	out.References, out.Citations = collectReferences(&out.NISTPhasePlaybook, g)
	out.Confidence = v.confidence(total, grounded, contained, in.Evidence)
	out.LowConfidence = len(in.Evidence) == 0 || out.Confidence < v.cfg.LowConfidenceThreshold
	return out, nil
}

func (v *Validator) decodeStep(item any, phase playbook.Phase, i int, path string) (playbook.Step, []playbook.Violation) {
	m, ok := item.(map[string]any)
	if !ok {
		return playbook.Step{}, []playbook.Violation{{Path: path, Message: "step must be an object"}}
	}
	for key := range m {
		if _, known := stepFields[key]; !known {
			v.logger.Warn("dropping unknown step field", "path", path, "field", key)
		}
	}

	var s playbook.Step
	switch id := m["id"].(type) {
	case string:
		s.ID = strings.TrimSpace(id)
	case float64:
		s.ID = strconv.FormatFloat(id, 'f', -1, 64)
	}
	if s.ID == "" {
		s.ID = fmt.Sprintf("%s-%d", phase, i+1)
	}

	var vs []playbook.Violation
	text := func(field string) string {
		str, _ := m[field].(string)
		str = strings.TrimSpace(str)
		if str == "" {
			vs = append(vs, playbook.Violation{Path: path + "." + field, Message: "must not be empty"})
		}
		return str
	}
	s.ShortDescription = text("short_description")
	s.How = text("how")
	s.Who = text("who")

	refs, _ := m["references"].([]any)
	s.References = make([]string, 0, len(refs))
	for _, r := range refs {
		if str, ok := r.(string); ok {
			s.References = append(s.References, str)
		}
	}
	s.Unverified, _ = m["unverified"].(bool)
	s.RequiresHumanReview, _ = m["requires_human_review"].(bool)
	return s, vs
}

// collectReferences unions step references in phase order and builds the
// citations for those that name evidence documents.
func collectReferences(pp *playbook.PhasePlaybook, g *grounder) ([]string, []playbook.Citation) {
	refs := []string{}
	cites := []playbook.Citation{}
	seen := map[string]struct{}{}
	for _, phase := range playbook.Phases() {
		for _, s := range pp.Steps(phase) {
			for _, r := range s.References {
				if _, dup := seen[r]; dup {
					continue
				}
				seen[r] = struct{}{}
				refs = append(refs, r)
				if it, ok := g.item(r); ok {
					cites = append(cites, playbook.Citation{
						DocumentID: it.DocumentID,
						Title:      it.Title,
						Source:     string(it.Source),
						TrustTier:  int(it.Tier),
						Score:      it.Score,
					})
				}
			}
		}
	}
	return slices.Clip(refs), slices.Clip(cites)
}

// confidence = w_g*groundedFraction + w_r*meanEvidenceScore + w_c*containmentPresent,
// where containmentPresent means a containment step is grounded in evidence.
func (v *Validator) confidence(total, grounded int, contained bool, ev []evidence.Item) float64 {
	if total == 0 {
		return 0
	}
	c := v.cfg.GroundedWeight*float64(grounded)/float64(total) + v.cfg.EvidenceWeight*evidence.MeanScore(ev)
	if contained {
		c += v.cfg.ContainmentWeight
	}
	c = min(max(c, 0), 1)
	return math.Round(c*10000) / 10000
}

func violation(path, msg string) error {
	return &playbook.SchemaViolation{Violations: []playbook.Violation{{Path: path, Message: msg}}}
}
