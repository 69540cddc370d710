package retrieval

import (
	"slices"

	"github.com/glaciergh0st/HuntLens/internal/domain/corpus"
	"github.com/glaciergh0st/HuntLens/internal/domain/evidence"
)

// rankedList is one input of reciprocal-rank fusion.
type rankedList struct {
	weight float64
	signal evidence.Signal
	docs   []scored
}

type fused struct {
	doc     int
	score   float64
	signals evidence.Signal
}

// fuse combines ranked lists with weighted reciprocal-rank fusion:
// each list contributes weight/(rank+c) with 1-based ranks. A document
// absent from a list gets no term from it.
func fuse(lists []rankedList, c float64) []fused {
	idx := map[int]int{}
	var out []fused
	for _, l := range lists {
		for i, d := range l.docs {
			pos, ok := idx[d.doc]
			if !ok {
				pos = len(out)
				idx[d.doc] = pos
				out = append(out, fused{doc: d.doc})
			}
			out[pos].score += l.weight / (float64(i+1) + c)
			out[pos].signals |= l.signal
		}
	}
	return out
}

// maxFused is the score of a document ranked first in every non-empty
// list. Missing signals, such as the semantic list without embeddings, do
// not lower the scale.
func maxFused(lists []rankedList, c float64) float64 {
	var weights float64
	for _, l := range lists {
		if len(l.docs) > 0 {
			weights += l.weight
		}
	}
	return weights / (1 + c)
}

// boostAndOrder applies the trust-tier multipliers, normalizes by the
// highest attainable fused score and sorts: score desc, tier asc, id asc.
func boostAndOrder(s *corpus.Snapshot, entries []fused, cfg Config, maxScore float64) []fused {
	for i := range entries {
		score := entries[i].score * cfg.multiplier(s.At(entries[i].doc).Tier)
		if maxScore > 0 {
			score /= maxScore
		}
		entries[i].score = min(max(score, 0), 1)
	}
	slices.SortFunc(entries, func(a, b fused) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		ta, tb := s.At(a.doc).Tier, s.At(b.doc).Tier
		if ta != tb {
			return int(ta) - int(tb)
		}
		return a.doc - b.doc
	})
	return entries
}
