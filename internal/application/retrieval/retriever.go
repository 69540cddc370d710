package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glaciergh0st/HuntLens/internal/domain/ai"
	"github.com/glaciergh0st/HuntLens/internal/domain/artifact"
	"github.com/glaciergh0st/HuntLens/internal/domain/corpus"
	"github.com/glaciergh0st/HuntLens/internal/domain/evidence"
)

// Cache stores retrieval results. Results are a pure function of the cache
// key, so entries never need invalidation beyond expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]evidence.Item, bool, error)
	Set(ctx context.Context, key string, items []evidence.Item) error
}

// Retriever runs hybrid lexical + semantic search over corpus snapshots.
// It keeps no per-request state and is safe for concurrent use.
type Retriever struct {
	corpus   corpus.Provider
	embedder ai.Embedder
	cache    Cache
	cfg      Config
	logger   *slog.Logger
}

type Option func(*Retriever)

func WithCache(c Cache) Option { return func(r *Retriever) { r.cache = c } }

func WithLogger(l *slog.Logger) Option { return func(r *Retriever) { r.logger = l } }

// New builds a retriever. embedder may be nil, in which case only the
// lexical signal is used.
func New(p corpus.Provider, embedder ai.Embedder, cfg Config, opts ...Option) (*Retriever, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	r := &Retriever{corpus: p, embedder: embedder, cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

func (r *Retriever) Config() Config { return r.cfg }

// Retrieve searches the current snapshot.
func (r *Retriever) Retrieve(ctx context.Context, a artifact.Artifact, k int) ([]evidence.Item, error) {
	var snap *corpus.Snapshot
	if r.corpus != nil {
		snap = r.corpus.Current()
	}
	return r.RetrieveFrom(ctx, snap, a, k)
}

// RetrieveFrom searches snap and returns at most k evidence items with
// unique document ids, best first. An empty snapshot yields an empty slice.
func (r *Retriever) RetrieveFrom(ctx context.Context, snap *corpus.Snapshot, a artifact.Artifact, k int) ([]evidence.Item, error) {
	if snap == nil {
		return nil, corpus.ErrUnavailable
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", artifact.ErrInvalidInput, k)
	}
	if snap.Len() == 0 {
		return []evidence.Item{}, nil
	}

	key := CacheKey(snap.Version(), a, k, r.cfg.Mode)
	if r.cache != nil {
		items, ok, err := r.cache.Get(ctx, key)
		if err != nil {
			r.logger.Warn("retrieval cache read failed", "error", err)
		} else if ok {
			return items, nil
		}
	}

	queries := r.queries(a)
	vectors := r.embed(ctx, snap, queries)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var lists []rankedList
	allTerms := make([]string, 0)
	for i, q := range queries {
		terms := corpus.UniqueTerms(q)
		allTerms = append(allTerms, terms...)
		lists = append(lists, rankedList{
			weight: r.cfg.LexicalWeight,
			signal: evidence.SignalLexical,
			docs:   lexicalRank(snap, terms, r.cfg.Candidates),
		})
		if vectors != nil {
			lists = append(lists, rankedList{
				weight: r.cfg.SemanticWeight,
				signal: evidence.SignalSemantic,
				docs:   semanticRank(snap, vectors[i], r.cfg.Candidates),
			})
		}
	}

	ranked := boostAndOrder(snap, fuse(lists, r.cfg.RRFConstant), r.cfg, maxFused(lists, r.cfg.RRFConstant))
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	items := make([]evidence.Item, len(ranked))
	for i, f := range ranked {
		d := snap.At(f.doc)
		items[i] = evidence.Item{
			DocumentID: d.ID,
			Title:      d.Title,
			Source:     d.Source,
			Tier:       d.Tier,
			Score:      f.score,
			Rank:       i + 1,
			Snippet:    snippet(d.Body, allTerms, r.cfg.SnippetLength),
			Signals:    f.signals,
		}
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, items); err != nil {
			r.logger.Warn("retrieval cache write failed", "error", err)
		}
	}
	return items, nil
}

func (r *Retriever) queries(a artifact.Artifact) []string {
	if r.cfg.Mode == ModeFanout && len(a.Sub) > 0 {
		qs := []string{a.QueryText()}
		for _, s := range a.Sub {
			qs = append(qs, s.QueryText())
		}
		return qs
	}
	return []string{a.CombinedQueryText()}
}

// embed returns one vector per query, or nil when the semantic signal is
// unavailable for this snapshot. Embedding failures degrade to lexical-only.
func (r *Retriever) embed(ctx context.Context, snap *corpus.Snapshot, queries []string) [][]float32 {
	if r.embedder == nil || snap.Dimensions() == 0 {
		return nil
	}
	if r.embedder.Name() != snap.Embedder() || r.embedder.Dimensions() != snap.Dimensions() {
		r.logger.Warn("embedder does not match snapshot, using lexical signal only",
			"embedder", r.embedder.Name(), "snapshot_embedder", snap.Embedder(), "version", snap.Version())
		return nil
	}
	vecs, err := r.embedder.Embed(ctx, queries)
	if err == nil && len(vecs) != len(queries) {
		err = fmt.Errorf("embedder returned %d vectors for %d queries", len(vecs), len(queries))
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			r.logger.Warn("query embedding failed, using lexical signal only", "error", err)
		}
		return nil
	}
	return vecs
}

// CacheKey identifies a retrieval result: snapshot version, mode, k and the
// classified artifact.
func CacheKey(version string, a artifact.Artifact, k int, mode Mode) string {
	h := sha256.New()
	h.Write([]byte(a.Label()))
	h.Write([]byte{0})
	h.Write([]byte(a.CombinedQueryText()))
	for _, s := range a.Sub {
		h.Write([]byte{0})
		h.Write([]byte(s.QueryText()))
	}
	return fmt.Sprintf("huntlens:retrieval:%s:%s:%d:%s", version, mode, k, hex.EncodeToString(h.Sum(nil))[:24])
}
