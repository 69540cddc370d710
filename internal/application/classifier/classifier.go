package classifier

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/glaciergh0st/HuntLens/internal/domain/artifact"
	"github.com/glaciergh0st/HuntLens/internal/domain/corpus"
)

// DefaultMaxLength caps raw artifacts at 4 KiB.
const DefaultMaxLength = 4096

const maxSubArtifacts = 8

type Options struct {
	MaxLength int
}

// Classifier turns raw SOC input into a typed, canonical Artifact. It holds
// only read-only tables and is safe for concurrent use.
type Classifier struct {
	maxLen   int
	keywords *keywordIndex
}

func New(opts Options) *Classifier {
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxLength
	}
	return &Classifier{maxLen: opts.MaxLength, keywords: newKeywordIndex(builtinKeywords)}
}

// Classify is a pure function of raw: the same input always yields the same
// artifact or error.
func (c *Classifier) Classify(raw string) (artifact.Artifact, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return artifact.Artifact{}, fmt.Errorf("%w: artifact is empty", artifact.ErrInvalidInput)
	}
	if len(raw) > c.maxLen {
		return artifact.Artifact{}, fmt.Errorf("%w: artifact is %d bytes, limit is %d", artifact.ErrInvalidInput, len(raw), c.maxLen)
	}
	if !utf8.ValidString(raw) {
		return artifact.Artifact{}, fmt.Errorf("%w: artifact is not valid UTF-8", artifact.ErrInvalidInput)
	}

	text := refang(trimmed)
	for _, m := range matchers {
		if a, ok := m(c, text); ok {
			a.Raw = raw
			c.enrich(&a, text)
			return a, nil
		}
	}

	if len(corpus.Tokenize(text)) == 0 {
		return artifact.Artifact{}, fmt.Errorf("%w: no classifiable token in %q", artifact.ErrUnrecognized, trimmed)
	}
	a := artifact.Artifact{
		Raw:       raw,
		Type:      artifact.TypeBehavior,
		Canonical: strings.ToLower(strings.Join(strings.Fields(text), " ")),
	}
	a.Sub = c.embedded(text)
	c.enrich(&a, text)
	return a, nil
}

// enrich adds keyword-table hits and deduplicates keywords and sub-artifacts.
func (c *Classifier) enrich(a *artifact.Artifact, text string) {
	a.Keywords = append(a.Keywords, c.keywords.lookup(text)...)
	for i := range a.Sub {
		a.Sub[i].Keywords = dedupe(append(a.Sub[i].Keywords, c.keywords.lookup(a.Sub[i].Canonical)...))
	}
	a.Keywords = dedupe(a.Keywords)

	seen := map[string]struct{}{a.Canonical: {}}
	subs := a.Sub[:0]
	for _, s := range a.Sub {
		if _, ok := seen[s.Canonical]; ok {
			continue
		}
		seen[s.Canonical] = struct{}{}
		subs = append(subs, s)
	}
	if len(subs) > maxSubArtifacts {
		subs = subs[:maxSubArtifacts]
	}
	a.Sub = subs
	if len(a.Sub) == 0 {
		a.Sub = nil
	}
}

// embedded pulls indicators out of free text: technique ids, hashes and any
// whitespace separated token that classifies as a network or process artifact.
func (c *Classifier) embedded(text string) []artifact.Artifact {
	var out []artifact.Artifact
	for _, id := range embeddedTechnique.FindAllString(text, -1) {
		if a, ok := matchTechnique(c, id); ok {
			a.Raw = id
			out = append(out, a)
		}
	}
	for _, h := range embeddedHash.FindAllString(text, -1) {
		if a, ok := matchHash(c, h); ok {
			a.Raw = h
			out = append(out, a)
		}
	}
	for _, f := range strings.Fields(text) {
		f = strings.Trim(f, `,;:()[]{}<>"'`)
		if a, ok := classifyEmbedded(c, f); ok {
			out = append(out, a)
		}
	}
	return out
}

// classifyEmbedded classifies one token of a longer input. Bare domains are
// skipped because prose is full of dotted words.
func classifyEmbedded(c *Classifier, tok string) (artifact.Artifact, bool) {
	tok = refang(tok)
	for _, m := range []matcher{matchIP, matchURL, matchProcess} {
		if a, ok := m(c, tok); ok {
			if a.Type == artifact.TypeProcess && !strings.ContainsAny(tok, `.\/`) {
				continue
			}
			a.Raw = tok
			return a, true
		}
	}
	if strings.HasPrefix(strings.ToLower(tok), "s3://") || strings.HasPrefix(strings.ToLower(tok), "gs://") {
		return artifact.Artifact{Raw: tok, Type: artifact.TypeIOC, Kind: artifact.KindURL, Canonical: strings.ToLower(tok)}, true
	}
	return artifact.Artifact{}, false
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok || s == "" {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return slices.Clip(out)
}
