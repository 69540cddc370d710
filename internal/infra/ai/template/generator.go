// Package template is an offline generator. It drafts a generic playbook
// from the artifact type and cites the retrieved evidence, so the service
// works without a language model.
package template

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/glaciergh0st/HuntLens/internal/application/classifier"
	"github.com/glaciergh0st/HuntLens/internal/domain/ai"
	"github.com/glaciergh0st/HuntLens/internal/domain/artifact"
	"github.com/glaciergh0st/HuntLens/internal/domain/playbook"
)

const maxCited = 3

type draftStep struct {
	ID               string   `json:"id"`
	ShortDescription string   `json:"short_description"`
	How              string   `json:"how"`
	Who              string   `json:"who"`
	References       []string `json:"references"`
}

type Generator struct{}

func New() *Generator { return &Generator{} }

func (g *Generator) Generate(ctx context.Context, req ai.GenerationRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a := req.Artifact
	refs := references(req)
	target := a.Canonical

	step := func(p playbook.Phase, n int, desc, how, who string) draftStep {
		return draftStep{ID: fmt.Sprintf("%s-%d", p, n), ShortDescription: desc, How: how, Who: who, References: refs}
	}

	hunt, contain, eradicate := actions(a)
	detection := []draftStep{step(playbook.PhaseDetection, 1, "Hunt for "+target, hunt, "SOC analyst")}
	if q := req.Detection; q != nil && len(q.Queries) > 0 {
		dialects := make([]string, 0, len(q.Queries))
		for d := range q.Queries {
			dialects = append(dialects, d)
		}
		slices.Sort(dialects)
		detection = append(detection, step(playbook.PhaseDetection, 2, "Deploy detection queries",
			fmt.Sprintf("Schedule the %s query: %s", dialects[0], q.Queries[dialects[0]]), "Detection engineer"))
	}

	draft := map[string]any{
		"nist_phase_playbook": map[string][]draftStep{
			string(playbook.PhaseDetection): detection,
			string(playbook.PhaseAnalysis): {
				step(playbook.PhaseAnalysis, 1, "Scope affected assets", "Correlate hits with asset inventory and identity logs to build a timeline.", "Incident responder"),
			},
			string(playbook.PhaseContainment): {
				step(playbook.PhaseContainment, 1, "Contain "+target, contain, "Incident responder"),
			},
			string(playbook.PhaseEradication): {
				step(playbook.PhaseEradication, 1, "Eradicate "+target, eradicate, "System owner"),
			},
			string(playbook.PhaseRecovery): {
				step(playbook.PhaseRecovery, 1, "Restore and monitor", "Return assets to service from known-good state and watch for recurrence for 14 days.", "System owner"),
			},
			string(playbook.PhasePostIncident): {
				step(playbook.PhasePostIncident, 1, "Lessons learned", "Record root cause and update detections and this playbook.", "SOC lead"),
			},
		},
	}
	b, err := json.Marshal(draft)
	if err != nil {
		return "", fmt.Errorf("marshal template draft: %w", err)
	}
	return string(b), nil
}

// references cites the top evidence documents and the ATT&CK ids known for
// the artifact, falling back to the NIST guide.
func references(req ai.GenerationRequest) []string {
	var refs []string
	for i, e := range req.Evidence {
		if i == maxCited {
			break
		}
		refs = append(refs, e.DocumentID)
	}
	if t, ok := classifier.CanonicalTechnique(req.Artifact.Canonical); ok {
		refs = append(refs, t)
	}
	for _, k := range req.Artifact.Keywords {
		if t, ok := classifier.CanonicalTechnique(k); ok && !slices.Contains(refs, t) {
			refs = append(refs, t)
		}
	}
	if len(refs) == 0 {
		refs = append(refs, "NIST SP 800-61")
	}
	return refs
}

func actions(a artifact.Artifact) (hunt, contain, eradicate string) {
	t := a.Canonical
	switch {
	case a.Type == artifact.TypeIOC && a.Kind.IsHash():
		return "Search EDR file telemetry for hash " + t + " across all endpoints.",
			"Isolate endpoints where the file executed and block the hash in EDR.",
			"Delete the file and its persistence, then reset credentials used on affected hosts."
	case a.Type == artifact.TypeIOC:
		return "Search DNS, proxy and firewall logs for " + t + ".",
			"Block " + t + " at egress and on the proxy.",
			"Remove implants that beaconed to " + t + " and rotate exposed credentials."
	case a.Type == artifact.TypeTechnique:
		return "Hunt for activity matching technique " + t + " in EDR and SIEM data.",
			"Isolate hosts showing " + t + " behaviour.",
			"Remove attacker tooling linked to " + t + " and close the access path."
	case a.Type == artifact.TypeProcess:
		return "Search process creation events for " + t + " and its command lines.",
			"Isolate hosts that ran " + t + " and suspend the accounts involved.",
			"Remove " + t + " and its persistence and reset affected credentials."
	case a.Type == artifact.TypeCloudCommand:
		return "Search cloud audit logs for the operation: " + t,
			"Revoke the credentials that issued the operation and snapshot affected resources.",
			"Undo the changes made by the operation and remove unknown principals."
	case a.Type == artifact.TypeRepository:
		return "Search endpoint and proxy logs for downloads of " + t + ".",
			"Block " + t + " at the proxy and isolate hosts that built it.",
			"Remove binaries built from " + t + " and rotate credentials on affected hosts."
	default:
		return "Search telemetry for activity matching: " + t,
			"Isolate hosts where the activity was observed.",
			"Remove attacker artifacts and reset credentials of affected accounts."
	}
}
