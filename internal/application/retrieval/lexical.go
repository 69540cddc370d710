package retrieval

import (
	"math"
	"slices"

	"github.com/glaciergh0st/HuntLens/internal/domain/corpus"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// scored is a document position in a snapshot with a signal-specific score.
type scored struct {
	doc   int
	score float64
}

// lexicalRank scores documents with BM25 against the query terms and returns
// the best m, best first.
func lexicalRank(s *corpus.Snapshot, terms []string, m int) []scored {
	if s.Len() == 0 || len(terms) == 0 {
		return nil
	}
	n := float64(s.Len())
	avg := s.AvgLength()
	if avg == 0 {
		avg = 1
	}

	acc := map[int]float64{}
	for _, t := range terms {
		postings := s.Postings(t)
		if len(postings) == 0 {
			continue
		}
		df := float64(len(postings))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for _, p := range postings {
			tf := float64(p.TF)
			dl := float64(s.At(p.Doc).Length())
			acc[p.Doc] += idf * tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*dl/avg))
		}
	}

	out := make([]scored, 0, len(acc))
	for doc, sc := range acc {
		if sc > 0 {
			out = append(out, scored{doc: doc, score: sc})
		}
	}
	return topM(out, m)
}

// topM sorts by score descending, then by position (document id order), and
// keeps the first m.
func topM(list []scored, m int) []scored {
	slices.SortFunc(list, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return a.doc - b.doc
	})
	if len(list) > m {
		list = list[:m]
	}
	return list
}
