package validation

import (
	"regexp"
	"strings"

	"github.com/glaciergh0st/HuntLens/internal/application/classifier"
	"github.com/glaciergh0st/HuntLens/internal/domain/evidence"
)

var (
	cveRe  = regexp.MustCompile(`(?i)^cve-(\d{4})-(\d{4,})$`)
	cweRe  = regexp.MustCompile(`(?i)^cwe-(\d+)$`)
	nistRe = regexp.MustCompile(`(?i)^nist\s*(?:sp\s*)?800-61(?:\s*r(?:ev)?\.?\s*(\d))?$`)
)

type refKind int

const (
	refUnknown refKind = iota
	refEvidence
	refPublic
)

// grounder resolves step references against one evidence set.
type grounder struct {
	exact map[string]evidence.Item
	fold  map[string]evidence.Item
}

func newGrounder(items []evidence.Item) *grounder {
	g := &grounder{exact: map[string]evidence.Item{}, fold: map[string]evidence.Item{}}
	for _, it := range items {
		g.exact[it.DocumentID] = it
		if _, ok := g.fold[strings.ToLower(it.DocumentID)]; !ok {
			g.fold[strings.ToLower(it.DocumentID)] = it
		}
	}
	return g
}

// resolve returns the canonical spelling of ref and what it resolved to.
// Evidence ids win over public identifiers so a document named "T1003"
// grounds the step.
func (g *grounder) resolve(ref string) (string, refKind) {
	ref = strings.Join(strings.Fields(ref), " ")
	if ref == "" {
		return "", refUnknown
	}
	if it, ok := g.exact[ref]; ok {
		return it.DocumentID, refEvidence
	}
	if it, ok := g.fold[strings.ToLower(ref)]; ok {
		return it.DocumentID, refEvidence
	}
	if id, ok := classifier.CanonicalTechnique(ref); ok {
		if it, ok := g.exact[id]; ok {
			return it.DocumentID, refEvidence
		}
		return id, refPublic
	}
	if m := cveRe.FindStringSubmatch(ref); m != nil {
		return "CVE-" + m[1] + "-" + m[2], refPublic
	}
	if m := cweRe.FindStringSubmatch(ref); m != nil {
		return "CWE-" + m[1], refPublic
	}
	if m := nistRe.FindStringSubmatch(ref); m != nil {
		if m[1] != "" {
			return "NIST SP 800-61r" + m[1], refPublic
		}
		return "NIST SP 800-61", refPublic
	}
	return "", refUnknown
}

func (g *grounder) item(id string) (evidence.Item, bool) {
	it, ok := g.exact[id]
	return it, ok
}

// groundRefs canonicalizes and deduplicates refs, dropping unresolvable ones.
func (g *grounder) groundRefs(refs []string) (kept []string, stripped int, grounded bool) {
	kept = []string{}
	seen := map[string]struct{}{}
	for _, r := range refs {
		canon, kind := g.resolve(r)
		if kind == refUnknown {
			stripped++
			continue
		}
		if kind == refEvidence {
			grounded = true
		}
		if _, dup := seen[canon]; dup {
			continue
		}
		seen[canon] = struct{}{}
		kept = append(kept, canon)
	}
	return kept, stripped, grounded
}
