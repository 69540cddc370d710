package retrieval

import (
	"math"

	"github.com/glaciergh0st/HuntLens/internal/domain/corpus"
)

// semanticRank returns the m documents most similar to query by cosine.
// Documents with similarity <= 0 are not candidates.
func semanticRank(s *corpus.Snapshot, query []float32, m int) []scored {
	if len(query) == 0 || s.Dimensions() != len(query) {
		return nil
	}
	var out []scored
	for i := 0; i < s.Len(); i++ {
		v := s.At(i).Vector()
		if len(v) != len(query) {
			continue
		}
		if sim := cosine(query, v); sim > 0 {
			out = append(out, scored{doc: i, score: sim})
		}
	}
	return topM(out, m)
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
