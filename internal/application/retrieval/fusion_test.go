package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glaciergh0st/HuntLens/internal/domain/corpus"
	"github.com/glaciergh0st/HuntLens/internal/domain/evidence"
)

func scoreOf(entries []fused, doc int) float64 {
	for _, e := range entries {
		if e.doc == doc {
			return e.score
		}
	}
	return 0
}

func TestFuseRewardsAgreement(t *testing.T) {
	lists := []rankedList{
		{weight: 1, signal: evidence.SignalLexical, docs: []scored{{doc: 0}, {doc: 1}}},
		{weight: 1, signal: evidence.SignalSemantic, docs: []scored{{doc: 0}, {doc: 2}}},
	}
	out := fuse(lists, 60)
	require.Len(t, out, 3)

	both := scoreOf(out, 0)
	assert.InDelta(t, 2.0/61, both, 1e-12)
	assert.Greater(t, both, scoreOf(out, 1))
	assert.Greater(t, both, scoreOf(out, 2))
	assert.InDelta(t, 1.0/62, scoreOf(out, 1), 1e-12)
	assert.Equal(t, evidence.SignalLexical|evidence.SignalSemantic, out[0].signals)
}

func TestFuseWeights(t *testing.T) {
	lists := []rankedList{
		{weight: 2, signal: evidence.SignalLexical, docs: []scored{{doc: 0}}},
		{weight: 0.5, signal: evidence.SignalSemantic, docs: []scored{{doc: 1}}},
	}
	out := fuse(lists, 60)
	assert.InDelta(t, 2.0/61, scoreOf(out, 0), 1e-12)
	assert.InDelta(t, 0.5/61, scoreOf(out, 1), 1e-12)
}

func TestMaxFusedCountsOnlyProducedLists(t *testing.T) {
	lexical := rankedList{weight: 1, signal: evidence.SignalLexical, docs: []scored{{doc: 0}}}
	semantic := rankedList{weight: 0.5, signal: evidence.SignalSemantic, docs: []scored{{doc: 0}}}

	assert.InDelta(t, 1.5/61, maxFused([]rankedList{lexical, semantic}, 60), 1e-12)
	assert.InDelta(t, 1.0/61, maxFused([]rankedList{lexical}, 60), 1e-12)
	assert.InDelta(t, 1.0/61, maxFused([]rankedList{lexical, {weight: 0.5, signal: evidence.SignalSemantic}}, 60), 1e-12)
	assert.InDelta(t, 2.0/61, maxFused([]rankedList{lexical, lexical}, 60), 1e-12)
}

func TestBoostAndOrderTieBreaks(t *testing.T) {
	mk := func(id string, src corpus.SourceCategory) *corpus.Document {
		raw, err := corpus.RawDocument{ID: id, Source: src, Body: "same body"}.Normalize()
		require.NoError(t, err)
		return corpus.NewDocument(raw, nil)
	}
	snap, err := corpus.NewSnapshot([]*corpus.Document{
		mk("a-case", corpus.SourceIRCase),
		mk("b-attack", corpus.SourceAttack),
		mk("c-attack", corpus.SourceAttack),
	}, corpus.Meta{})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.TierMultipliers = map[corpus.TrustTier]float64{1: 1, 2: 1, 3: 1, 4: 1}
	out := boostAndOrder(snap, []fused{{doc: 0, score: 0.01}, {doc: 2, score: 0.01}, {doc: 1, score: 0.01}}, cfg, 0.02)

	require.Len(t, out, 3)
	assert.Equal(t, []int{1, 2, 0}, []int{out[0].doc, out[1].doc, out[2].doc})
	assert.InDelta(t, 0.5, out[0].score, 1e-12)
}

func TestBoostAndOrderAppliesTierMultiplier(t *testing.T) {
	mk := func(id string, src corpus.SourceCategory) *corpus.Document {
		raw, err := corpus.RawDocument{ID: id, Source: src, Body: "same body"}.Normalize()
		require.NoError(t, err)
		return corpus.NewDocument(raw, nil)
	}
	snap, err := corpus.NewSnapshot([]*corpus.Document{mk("a", corpus.SourceIRCase), mk("b", corpus.SourceAttack)}, corpus.Meta{})
	require.NoError(t, err)

	top := 2.0 / 61
	out := boostAndOrder(snap, []fused{{doc: 0, score: top}, {doc: 1, score: top}}, DefaultConfig(), top)
	assert.Equal(t, 1, out[0].doc)
	assert.InDelta(t, 1.0, out[0].score, 1e-12)
	assert.InDelta(t, 0.65, out[1].score, 1e-12)
}

func TestSnippetWindowsAroundTerm(t *testing.T) {
	body := "intro " + repeat("filler ", 80) + "the lsass process was read " + repeat("tail ", 80)
	s := snippet(body, []string{"lsass"}, 120)
	assert.Contains(t, s, "lsass")
	assert.LessOrEqual(t, len(s), 126)
	assert.Equal(t, "short body", snippet("short   body", nil, 120))
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
