package corpus

import (
	"fmt"
	"regexp"
	"strings"
)

// SourceCategory is the provenance class of a reference document.
type SourceCategory string

const (
	SourceAttack     SourceCategory = "attack"
	SourceVendorKB   SourceCategory = "vendor-kb"
	SourceDFIRReport SourceCategory = "dfir-report"
	SourceIRCase     SourceCategory = "ir-case"
)

// Valid reports whether c is one of the known categories.
func (c SourceCategory) Valid() bool {
	switch c {
	case SourceAttack, SourceVendorKB, SourceDFIRReport, SourceIRCase:
		return true
	}
	return false
}

// TrustTier ranks sources by authority; 1 is the most trusted.
type TrustTier int

const (
	TierCanonical TrustTier = 1
	TierVendor    TrustTier = 2
	TierReport    TrustTier = 3
	TierCase      TrustTier = 4
)

// DefaultTier is the tier a category gets when the ingested document omits one.
func DefaultTier(c SourceCategory) TrustTier {
	switch c {
	case SourceAttack:
		return TierCanonical
	case SourceVendorKB:
		return TierVendor
	case SourceDFIRReport:
		return TierReport
	default:
		return TierCase
	}
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:/-]{0,127}$`)

// RawDocument is the ingestion shape of a reference document.
type RawDocument struct {
	ID         string         `json:"id" yaml:"id"`
	Source     SourceCategory `json:"source" yaml:"source"`
	Tier       TrustTier      `json:"tier,omitempty" yaml:"tier,omitempty"`
	Title      string         `json:"title" yaml:"title"`
	Body       string         `json:"body" yaml:"body"`
	Techniques []string       `json:"techniques,omitempty" yaml:"techniques,omitempty"`
	Tags       []string       `json:"tags,omitempty" yaml:"tags,omitempty"`

	decodeErr error
}

// Undecodable stands in for a batch element that could not be decoded, so
// ingestion rejects it at its own position instead of failing the batch.
func Undecodable(id string, err error) RawDocument {
	return RawDocument{ID: id, decodeErr: err}
}

// Normalize trims fields and fills the default tier. It returns an error
// describing the first reason the document cannot be ingested.
func (d RawDocument) Normalize() (RawDocument, error) {
	if d.decodeErr != nil {
		return d, fmt.Errorf("malformed document: %w", d.decodeErr)
	}
	d.ID = strings.TrimSpace(d.ID)
	d.Title = strings.TrimSpace(d.Title)
	d.Body = strings.TrimSpace(d.Body)
	d.Source = SourceCategory(strings.ToLower(strings.TrimSpace(string(d.Source))))

	if !idPattern.MatchString(d.ID) {
		return d, fmt.Errorf("invalid document id %q", d.ID)
	}
	if !d.Source.Valid() {
		return d, fmt.Errorf("unknown source category %q", d.Source)
	}
	if d.Body == "" {
		return d, fmt.Errorf("document %s has an empty body", d.ID)
	}
	if d.Tier == 0 {
		d.Tier = DefaultTier(d.Source)
	}
	if d.Tier < TierCanonical || d.Tier > TierCase {
		return d, fmt.Errorf("document %s has trust tier %d outside 1..4", d.ID, d.Tier)
	}
	techniques := make([]string, 0, len(d.Techniques))
	for _, t := range d.Techniques {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			techniques = append(techniques, t)
		}
	}
	d.Techniques = techniques
	return d, nil
}

// Document is an immutable, indexed reference document. Instances are only
// built during ingestion and shared read-only by every snapshot holding them.
type Document struct {
	ID         string
	Source     SourceCategory
	Tier       TrustTier
	Title      string
	Body       string
	Techniques []string
	Tags       []string

	terms  map[string]int
	length int
	vector []float32
}

// NewDocument indexes a normalized raw document together with its embedding.
func NewDocument(raw RawDocument, vector []float32) *Document {
	d := &Document{
		ID:         raw.ID,
		Source:     raw.Source,
		Tier:       raw.Tier,
		Title:      raw.Title,
		Body:       raw.Body,
		Techniques: append([]string(nil), raw.Techniques...),
		Tags:       append([]string(nil), raw.Tags...),
		vector:     append([]float32(nil), vector...),
		terms:      map[string]int{},
	}
	for _, tok := range Tokenize(d.IndexText()) {
		d.terms[tok]++
		d.length++
	}
	return d
}

// IndexText is the text the lexical index and the embedder see.
func (d *Document) IndexText() string {
	return IndexText(d.Title, d.Body, d.Techniques, d.Tags)
}

// IndexText joins the indexed fields of a document.
func IndexText(title, body string, techniques, tags []string) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteByte('\n')
	b.WriteString(body)
	for _, t := range techniques {
		b.WriteByte(' ')
		b.WriteString(t)
	}
	for _, t := range tags {
		b.WriteByte(' ')
		b.WriteString(t)
	}
	return b.String()
}

// Length is the number of indexed tokens.
func (d *Document) Length() int { return d.length }

// TermFrequency returns how often term occurs in the indexed text.
func (d *Document) TermFrequency(term string) int { return d.terms[term] }

// Vector returns the embedding. Callers must not modify it.
func (d *Document) Vector() []float32 { return d.vector }

// Raw converts the document back to its ingestion shape.
func (d *Document) Raw() RawDocument {
	return RawDocument{
		ID:         d.ID,
		Source:     d.Source,
		Tier:       d.Tier,
		Title:      d.Title,
		Body:       d.Body,
		Techniques: append([]string(nil), d.Techniques...),
		Tags:       append([]string(nil), d.Tags...),
	}
}
