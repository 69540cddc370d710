package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glaciergh0st/HuntLens/internal/domain/artifact"
	"github.com/glaciergh0st/HuntLens/internal/domain/corpus"
	"github.com/glaciergh0st/HuntLens/internal/domain/evidence"
)

// vocabEmbedder counts occurrences of a fixed vocabulary.
type vocabEmbedder struct {
	vocab []string
	name  string
	calls int
	err   error
}

func newVocabEmbedder() *vocabEmbedder {
	return &vocabEmbedder{
		name:  "vocab",
		vocab: []string{"lsass", "mimikatz", "credential", "ransomware", "phishing", "kerberos", "powershell", "shadow"},
	}
}

func (e *vocabEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, len(e.vocab))
		for _, tok := range corpus.Tokenize(text) {
			for j, w := range e.vocab {
				if tok == w {
					v[j]++
				}
			}
		}
		out[i] = v
	}
	return out, nil
}

func (e *vocabEmbedder) Dimensions() int { return len(e.vocab) }
func (e *vocabEmbedder) Name() string    { return e.name }

type staticProvider struct{ snap *corpus.Snapshot }

func (p staticProvider) Current() *corpus.Snapshot { return p.snap }

var testDocs = []corpus.RawDocument{
	{ID: "attack-T1003", Source: corpus.SourceAttack, Title: "OS Credential Dumping",
		Body: "Adversaries dump credentials from lsass memory using tools such as mimikatz.", Techniques: []string{"T1003"}},
	{ID: "attack-T1486", Source: corpus.SourceAttack, Title: "Data Encrypted for Impact",
		Body: "Ransomware encrypts files and deletes shadow copies."},
	{ID: "kb-mimikatz", Source: corpus.SourceVendorKB, Title: "Detecting Mimikatz",
		Body: "Mimikatz sekurlsa logonpasswords reads lsass. Alert on lsass handle access with credential read rights."},
	{ID: "dfir-conti", Source: corpus.SourceDFIRReport, Title: "Conti intrusion",
		Body: "Operators ran mimikatz, then ransomware was deployed after shadow copies were deleted."},
	{ID: "case-phish", Source: corpus.SourceIRCase, Title: "Phishing with macro",
		Body: "A phishing email delivered a macro that launched powershell."},
	{ID: "case-kerb", Source: corpus.SourceIRCase, Title: "Kerberoasting",
		Body: "Service tickets were requested for kerberos roasting."},
}

func buildSnapshot(t *testing.T, e *vocabEmbedder, raws []corpus.RawDocument) *corpus.Snapshot {
	t.Helper()
	docs := make([]*corpus.Document, 0, len(raws))
	for _, raw := range raws {
		n, err := raw.Normalize()
		require.NoError(t, err)
		var vec []float32
		if e != nil {
			vecs, err := e.Embed(context.Background(), []string{corpus.IndexText(n.Title, n.Body, n.Techniques, n.Tags)})
			require.NoError(t, err)
			vec = vecs[0]
		}
		docs = append(docs, corpus.NewDocument(n, vec))
	}
	name := ""
	if e != nil {
		name = e.Name()
	}
	snap, err := corpus.NewSnapshot(docs, corpus.Meta{Sequence: 1, Embedder: name})
	require.NoError(t, err)
	return snap
}

func newRetriever(t *testing.T, e *vocabEmbedder, snap *corpus.Snapshot, cfg Config, opts ...Option) *Retriever {
	t.Helper()
	r, err := New(staticProvider{snap}, e, cfg, opts...)
	require.NoError(t, err)
	return r
}

var mimikatz = artifact.Artifact{
	Raw: "mimikatz.exe", Type: artifact.TypeProcess, Canonical: "mimikatz.exe",
	Keywords: []string{"T1003", "T1003.001", "credential dumping", "lsass"},
}

func TestRetrieveBoundsAndUniqueness(t *testing.T) {
	e := newVocabEmbedder()
	r := newRetriever(t, e, buildSnapshot(t, e, testDocs), DefaultConfig())

	for k := 1; k <= len(testDocs)+2; k++ {
		items, err := r.Retrieve(context.Background(), mimikatz, k)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(items), k)

		seen := map[string]bool{}
		for i, it := range items {
			assert.False(t, seen[it.DocumentID], "duplicate %s", it.DocumentID)
			seen[it.DocumentID] = true
			assert.Equal(t, i+1, it.Rank)
			assert.GreaterOrEqual(t, it.Score, 0.0)
			assert.LessOrEqual(t, it.Score, 1.0)
			if i > 0 {
				assert.GreaterOrEqual(t, items[i-1].Score, it.Score)
			}
		}
	}
}

func TestRetrieveIsDeterministic(t *testing.T) {
	e := newVocabEmbedder()
	snap := buildSnapshot(t, e, testDocs)
	r := newRetriever(t, e, snap, DefaultConfig())

	first, err := r.Retrieve(context.Background(), mimikatz, 4)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Retrieve(context.Background(), mimikatz, 4)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRetrieveRanksGroundingDocumentsFirst(t *testing.T) {
	e := newVocabEmbedder()
	r := newRetriever(t, e, buildSnapshot(t, e, testDocs), DefaultConfig())

	items, err := r.Retrieve(context.Background(), mimikatz, 3)
	require.NoError(t, err)
	require.Len(t, items, 3)

	ids := evidence.IDs(items)
	assert.Contains(t, ids, "attack-T1003")
	assert.Contains(t, ids, "kb-mimikatz")
	assert.NotContains(t, ids, "case-kerb")
	assert.Equal(t, evidence.SignalLexical|evidence.SignalSemantic, items[0].Signals)
	assert.NotEmpty(t, items[0].Snippet)
	assert.NotEmpty(t, items[0].Title)
}

func TestRetrieveEmptyAndUnavailableCorpus(t *testing.T) {
	e := newVocabEmbedder()
	r := newRetriever(t, e, corpus.Empty(e.Name()), DefaultConfig())
	items, err := r.Retrieve(context.Background(), mimikatz, 5)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
	assert.Zero(t, e.calls, "no embedding for an empty corpus")

	r = newRetriever(t, e, nil, DefaultConfig())
	_, err = r.Retrieve(context.Background(), mimikatz, 5)
	assert.ErrorIs(t, err, corpus.ErrUnavailable)
}

func TestRetrieveRejectsNonPositiveK(t *testing.T) {
	e := newVocabEmbedder()
	r := newRetriever(t, e, buildSnapshot(t, e, testDocs), DefaultConfig())
	_, err := r.Retrieve(context.Background(), mimikatz, 0)
	assert.ErrorIs(t, err, artifact.ErrInvalidInput)
}

func TestRetrieveDegradesToLexical(t *testing.T) {
	e := newVocabEmbedder()
	snap := buildSnapshot(t, e, testDocs)

	failing := newVocabEmbedder()
	failing.err = errors.New("embedding backend down")
	r := newRetriever(t, failing, snap, DefaultConfig())
	items, err := r.Retrieve(context.Background(), mimikatz, 3)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	for _, it := range items {
		assert.Equal(t, evidence.SignalLexical, it.Signals)
	}

	other := newVocabEmbedder()
	other.name = "other"
	r = newRetriever(t, other, snap, DefaultConfig())
	items, err = r.Retrieve(context.Background(), mimikatz, 3)
	require.NoError(t, err)
	assert.Zero(t, other.calls)
	for _, it := range items {
		assert.Equal(t, evidence.SignalLexical, it.Signals)
	}
}

func TestRetrieveNormalizesByFusedSignals(t *testing.T) {
	e := newVocabEmbedder()
	attackOnly := testDocs[:2]

	lexical, err := New(staticProvider{buildSnapshot(t, nil, attackOnly)}, nil, DefaultConfig())
	require.NoError(t, err)
	items, err := lexical.Retrieve(context.Background(), mimikatz, 2)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assert.Equal(t, "attack-T1003", items[0].DocumentID)
	assert.Equal(t, evidence.SignalLexical, items[0].Signals)
	assert.InDelta(t, 1.0, items[0].Score, 1e-9, "a top lexical hit is not capped by the missing semantic weight")

	failing := newVocabEmbedder()
	failing.err = errors.New("embedding backend down")
	degraded := newRetriever(t, failing, buildSnapshot(t, e, attackOnly), DefaultConfig())
	items, err = degraded.Retrieve(context.Background(), mimikatz, 2)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assert.InDelta(t, 1.0, items[0].Score, 1e-9)

	hybrid := newRetriever(t, e, buildSnapshot(t, e, attackOnly), DefaultConfig())
	items, err = hybrid.Retrieve(context.Background(), mimikatz, 2)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assert.Equal(t, "attack-T1003", items[0].DocumentID)
	assert.InDelta(t, 1.0, items[0].Score, 1e-9)
}

func TestRetrieveFanout(t *testing.T) {
	e := newVocabEmbedder()
	cfg := DefaultConfig()
	cfg.Mode = ModeFanout
	r := newRetriever(t, e, buildSnapshot(t, e, testDocs), cfg)

	repo := artifact.Artifact{
		Type: artifact.TypeRepository, Canonical: "github.com/gentilkiwi/mimikatz",
		Keywords: []string{"mimikatz", "gentilkiwi"},
		Sub:      []artifact.Artifact{{Type: artifact.TypeProcess, Canonical: "mimikatz", Keywords: []string{"lsass"}}},
	}
	items, err := r.Retrieve(context.Background(), repo, 3)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assert.LessOrEqual(t, len(items), 3)
	assert.Equal(t, 1, e.calls-len(testDocs), "all fan-out queries are embedded in one call")
}

type mapCache struct {
	data map[string][]evidence.Item
	hits int
}

func (c *mapCache) Get(_ context.Context, key string) ([]evidence.Item, bool, error) {
	items, ok := c.data[key]
	if ok {
		c.hits++
	}
	return items, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, items []evidence.Item) error {
	c.data[key] = items
	return nil
}

func TestRetrieveUsesCache(t *testing.T) {
	e := newVocabEmbedder()
	snap := buildSnapshot(t, e, testDocs)
	cache := &mapCache{data: map[string][]evidence.Item{}}
	r := newRetriever(t, e, snap, DefaultConfig(), WithCache(cache))

	before := e.calls
	first, err := r.Retrieve(context.Background(), mimikatz, 3)
	require.NoError(t, err)
	second, err := r.Retrieve(context.Background(), mimikatz, 3)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, before+1, e.calls)
	assert.Contains(t, cache.data, CacheKey(snap.Version(), mimikatz, 3, ModeCombined))
}

func TestConfigValidate(t *testing.T) {
	cfg, err := Config{}.Validate()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Candidates, cfg.Candidates)
	assert.Equal(t, ModeCombined, cfg.Mode)

	_, err = Config{Mode: "shotgun"}.Validate()
	assert.Error(t, err)
	_, err = Config{TierMultipliers: map[corpus.TrustTier]float64{corpus.TierCase: 1.5}}.Validate()
	assert.Error(t, err)
}
