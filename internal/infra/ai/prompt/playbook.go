package prompt

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/glaciergh0st/HuntLens/internal/domain/ai"
	"github.com/glaciergh0st/HuntLens/internal/redact"
)

const (
	maxArtifactLen = 512
	maxSnippetLen  = 400
)

// System provides strict directions and the schema for the playbook JSON.
func System() string {
	return `You are HuntLens, an incident response copilot for a security operations center. You must produce one valid JSON object only (no markdown, no commentary). Do not include code fences.

Schema:
{
  "nist_phase_playbook": {
    "detection": [STEP],
    "analysis": [STEP],
    "containment": [STEP],
    "eradication": [STEP],
    "recovery": [STEP],
    "post_incident": [STEP]
  }
}
STEP = {"id": "<phase>-<n>", "short_description": "<string>", "how": "<string>", "who": "<role>", "references": ["<reference>"]}

Requirements:
- Every phase must be present. Use an empty list when a phase has nothing to do.
- short_description, how and who must never be empty.
- A reference is either an evidence document id listed in the context or a public identifier: ATT&CK technique (T1003, T1003.001), CVE-YYYY-NNNN, CWE-NNN or NIST SP 800-61.
- Prefer citing evidence documents. Never invent document ids.
- Containment and eradication steps are reviewed by a human before execution; phrase them as recommendations.
- Never propose actions against infrastructure the defender does not own.`
}

// User builds the deterministic user message for one generation request.
func User(req ai.GenerationRequest) string {
	a := req.Artifact
	var b strings.Builder

	fmt.Fprintf(&b, "Artifact: %s\n", clean(a.Raw, maxArtifactLen))
	fmt.Fprintf(&b, "Type: %s\n", a.Label())
	fmt.Fprintf(&b, "Canonical: %s\n", clean(a.Canonical, maxArtifactLen))
	if len(a.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", clean(strings.Join(a.Keywords, ", "), maxArtifactLen))
	}
	if len(a.Sub) > 0 {
		b.WriteString("Related indicators:\n")
		for _, s := range a.Sub {
			fmt.Fprintf(&b, "- %s: %s\n", s.Label(), clean(s.Canonical, maxArtifactLen))
		}
	}

	b.WriteString("\nEvidence:\n")
	if len(req.Evidence) == 0 {
		b.WriteString("none retrieved. Reference public identifiers only and keep steps generic.\n")
	}
	for _, e := range req.Evidence {
		fmt.Fprintf(&b, "[%d] %s (%s, tier %d, score %.4f)\n", e.Rank, e.DocumentID, e.Source, e.Tier, e.Score)
		fmt.Fprintf(&b, "Title: %s\n", clean(e.Title, maxSnippetLen))
		fmt.Fprintf(&b, "Snippet: %s\n", clean(e.Snippet, maxSnippetLen))
	}

	if d := req.Detection; d != nil && len(d.Queries) > 0 {
		fmt.Fprintf(&b, "\nDetection queries (%s, severity %s):\n", d.Family, d.SeverityHint)
		dialects := make([]string, 0, len(d.Queries))
		for k := range d.Queries {
			dialects = append(dialects, k)
		}
		slices.Sort(dialects)
		for _, k := range dialects {
			fmt.Fprintf(&b, "- %s: %s\n", k, clean(d.Queries[k], maxSnippetLen))
		}
	}

	b.WriteString("\nReturn the NIST 800-61 playbook JSON for this artifact now.")
	return b.String()
}

// clean redacts secrets, flattens control characters and whitespace and
// caps the length so untrusted text cannot reshape the prompt.
func clean(s string, limit int) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	return redact.Truncate(strings.Join(strings.Fields(s), " "), limit)
}
