package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Posting is one entry of an inverted list: document position and term frequency.
type Posting struct {
	Doc int
	TF  int
}

// Meta describes how a snapshot was built.
type Meta struct {
	Sequence int
	Embedder string
	BuiltAt  time.Time
}

// Snapshot is an immutable, versioned view of the corpus with its lexical
// index and embeddings. Every method is safe for concurrent use.
type Snapshot struct {
	version  string
	meta     Meta
	dims     int
	docs     []*Document
	byID     map[string]int
	postings map[string][]Posting
	avgLen   float64
}

// NewSnapshot indexes docs into a snapshot. Document ids must be unique and
// every vector must have the same dimensionality.
func NewSnapshot(docs []*Document, meta Meta) (*Snapshot, error) {
	sorted := slices.Clone(docs)
	slices.SortFunc(sorted, func(a, b *Document) int { return strings.Compare(a.ID, b.ID) })

	s := &Snapshot{
		meta:     meta,
		docs:     sorted,
		byID:     make(map[string]int, len(sorted)),
		postings: map[string][]Posting{},
	}

	h := sha256.New()
	h.Write([]byte(meta.Embedder))
	var total int
	for i, d := range sorted {
		if _, dup := s.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate document id %q", d.ID)
		}
		s.byID[d.ID] = i
		if len(d.vector) > 0 {
			if s.dims == 0 {
				s.dims = len(d.vector)
			} else if len(d.vector) != s.dims {
				return nil, fmt.Errorf("document %s has %d dimensions, snapshot has %d", d.ID, len(d.vector), s.dims)
			}
		}
		total += d.length

		terms := make([]string, 0, len(d.terms))
		for t := range d.terms {
			terms = append(terms, t)
		}
		slices.Sort(terms)
		for _, t := range terms {
			s.postings[t] = append(s.postings[t], Posting{Doc: i, TF: d.terms[t]})
		}
		fmt.Fprintf(h, "\x00%s\x00%s\x00%d\x00%s\x00%s", d.ID, d.Source, d.Tier, d.Title, d.Body)
	}
	if len(sorted) > 0 {
		s.avgLen = float64(total) / float64(len(sorted))
	}
	s.version = fmt.Sprintf("v%d-%s", meta.Sequence, hex.EncodeToString(h.Sum(nil))[:12])
	return s, nil
}

// Empty returns a snapshot with no documents.
func Empty(embedder string) *Snapshot {
	s, _ := NewSnapshot(nil, Meta{Embedder: embedder})
	return s
}

// Version identifies the snapshot contents; equal versions index equal documents.
func (s *Snapshot) Version() string { return s.version }

func (s *Snapshot) BuiltAt() time.Time { return s.meta.BuiltAt }

func (s *Snapshot) Sequence() int { return s.meta.Sequence }

// Embedder names the embedder that produced the vectors.
func (s *Snapshot) Embedder() string { return s.meta.Embedder }

// Dimensions is the embedding width, 0 when the snapshot holds no vectors.
func (s *Snapshot) Dimensions() int { return s.dims }

func (s *Snapshot) Len() int { return len(s.docs) }

// At returns the i-th document in id order.
func (s *Snapshot) At(i int) *Document { return s.docs[i] }

// Document looks a document up by id.
func (s *Snapshot) Document(id string) (*Document, bool) {
	i, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return s.docs[i], true
}

// Documents returns the documents in id order. The slice is a copy; the
// documents are shared.
func (s *Snapshot) Documents() []*Document { return slices.Clone(s.docs) }

// Postings returns the inverted list for term. Callers must not modify it.
func (s *Snapshot) Postings(term string) []Posting { return s.postings[term] }

// AvgLength is the mean indexed length across documents.
func (s *Snapshot) AvgLength() float64 { return s.avgLen }

// Manifest summarizes the snapshot.
func (s *Snapshot) Manifest() Manifest {
	m := Manifest{
		Version:    s.version,
		Sequence:   s.meta.Sequence,
		Embedder:   s.meta.Embedder,
		Dimensions: s.dims,
		BuiltAt:    s.meta.BuiltAt,
		Documents:  len(s.docs),
		ByCategory: map[SourceCategory]int{},
		IDs:        make([]string, len(s.docs)),
	}
	for i, d := range s.docs {
		m.ByCategory[d.Source]++
		m.IDs[i] = d.ID
	}
	return m
}

// Manifest is the serializable summary of a snapshot.
type Manifest struct {
	Version    string                 `json:"version"`
	Sequence   int                    `json:"sequence"`
	Embedder   string                 `json:"embedder"`
	Dimensions int                    `json:"dimensions"`
	BuiltAt    time.Time              `json:"built_at"`
	Documents  int                    `json:"documents"`
	ByCategory map[SourceCategory]int `json:"by_category"`
	IDs        []string               `json:"ids,omitempty"`
}
