package validation

import (
	"regexp"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/glaciergh0st/HuntLens/internal/domain/playbook"
)

// draftSchema is the structural gate for generated drafts. Definitions stay
// open so unknown fields reach the repair pass, which drops them with a
// warning instead of failing the draft.
const draftSchema = `
#Step: {
	id?:                    string | int | null
	short_description?:     string | null
	how?:                   string | null
	who?:                   string | null
	references?:            [...string] | null
	unverified?:            bool | null
	requires_human_review?: bool | null
	...
}

#Phase: [...#Step] | null

#Draft: {
	nist_phase_playbook!: {
		detection?:     #Phase
		analysis?:      #Phase
		containment?:   #Phase
		eradication?:   #Phase
		recovery?:      #Phase
		post_incident?: #Phase
		...
	}
	...
}
`

// structuralViolations type-checks a JSON draft against draftSchema.
// A cue.Context is not safe for concurrent use, so each call builds its own.
func structuralViolations(body []byte) []playbook.Violation {
	ctx := cuecontext.New()
	schema := ctx.CompileString(draftSchema)
	if err := schema.Err(); err != nil {
		return fromCUE(err)
	}
	data := ctx.CompileBytes(body)
	if err := data.Err(); err != nil {
		return fromCUE(err)
	}
	err := schema.LookupPath(cue.ParsePath("#Draft")).Unify(data).Validate(cue.Concrete(true))
	return fromCUE(err)
}

func fromCUE(err error) []playbook.Violation {
	if err == nil {
		return nil
	}
	var out []playbook.Violation
	seen := map[string]struct{}{}
	for _, e := range cueerrors.Errors(err) {
		path := strings.TrimPrefix(strings.Join(e.Path(), "."), "#Draft.")
		v := playbook.Violation{Path: path, Message: sanitize(e.Error())}
		if _, dup := seen[v.String()]; dup {
			continue
		}
		seen[v.String()] = struct{}{}
		out = append(out, v)
	}
	slices.SortStableFunc(out, func(a, b playbook.Violation) int { return strings.Compare(a.Path, b.Path) })
	return out
}

var mismatchRe = regexp.MustCompile(`mismatched types (\w+) and (\w+)`)

// sanitize keeps the kind of a CUE error but drops the offending values,
// which come from the untrusted draft.
func sanitize(msg string) string {
	switch {
	case mismatchRe.MatchString(msg):
		return mismatchRe.FindString(msg)
	case strings.Contains(msg, "field is required"):
		return "field is required"
	case strings.Contains(msg, "incomplete"):
		return "value is incomplete"
	default:
		return "value does not match the playbook schema"
	}
}
