package evidence

import (
	"fmt"

	"github.com/glaciergh0st/HuntLens/internal/domain/corpus"
)

// Signal records which retrieval signals matched a document.
type Signal uint8

const (
	SignalLexical Signal = 1 << iota
	SignalSemantic
)

func (s Signal) String() string {
	switch s {
	case SignalLexical:
		return "lexical"
	case SignalSemantic:
		return "semantic"
	case SignalLexical | SignalSemantic:
		return "both"
	default:
		return "none"
	}
}

func (s Signal) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Signal) UnmarshalText(b []byte) error {
	switch string(b) {
	case "lexical":
		*s = SignalLexical
	case "semantic":
		*s = SignalSemantic
	case "both":
		*s = SignalLexical | SignalSemantic
	case "none", "":
		*s = 0
	default:
		return fmt.Errorf("unknown signal %q", b)
	}
	return nil
}

// Item is one retrieved document reference with its fused score.
// DocumentID is a lookup key into the snapshot the item came from; the
// provenance fields are copied for display only.
type Item struct {
	DocumentID string                `json:"document_id"`
	Title      string                `json:"title"`
	Source     corpus.SourceCategory `json:"source"`
	Tier       corpus.TrustTier      `json:"trust_tier"`
	Score      float64               `json:"score"`
	Rank       int                   `json:"rank"`
	Snippet    string                `json:"snippet"`
	Signals    Signal                `json:"signals"`
}

// IDs returns the document ids in evidence order.
func IDs(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.DocumentID
	}
	return out
}

// MeanScore is the arithmetic mean of the fused scores, 0 for no items.
func MeanScore(items []Item) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, it := range items {
		sum += it.Score
	}
	return sum / float64(len(items))
}
