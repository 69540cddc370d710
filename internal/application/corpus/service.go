package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/glaciergh0st/HuntLens/internal/application"
	"github.com/glaciergh0st/HuntLens/internal/domain/ai"
	domain "github.com/glaciergh0st/HuntLens/internal/domain/corpus"
)

const defaultEmbedBatch = 64

// Service owns the live corpus snapshot. Readers take the current snapshot
// without locking; writers build a complete new snapshot and swap it in
// atomically, so in-flight requests keep the snapshot they started with.
type Service struct {
	embedder   ai.Embedder
	archiver   domain.Archiver
	clock      application.Clock
	logger     *slog.Logger
	embedBatch int

	current atomic.Pointer[domain.Snapshot]
	mu      sync.Mutex // serializes writers
	seq     int
}

type Option func(*Service)

func WithArchiver(a domain.Archiver) Option { return func(s *Service) { s.archiver = a } }
func WithClock(c application.Clock) Option  { return func(s *Service) { s.clock = c } }
func WithLogger(l *slog.Logger) Option      { return func(s *Service) { s.logger = l } }
func WithEmbedBatch(n int) Option           { return func(s *Service) { s.embedBatch = n } }

// NewService starts with an empty snapshot. embedder may be nil for a
// lexical-only corpus.
func NewService(embedder ai.Embedder, opts ...Option) *Service {
	s := &Service{
		embedder:   embedder,
		clock:      application.SystemClock{},
		logger:     slog.Default(),
		embedBatch: defaultEmbedBatch,
	}
	for _, o := range opts {
		o(s)
	}
	if s.embedBatch <= 0 {
		s.embedBatch = defaultEmbedBatch
	}
	s.current.Store(domain.Empty(s.embedderName()))
	return s
}

// Current returns the live snapshot. It never returns nil.
func (s *Service) Current() *domain.Snapshot { return s.current.Load() }

// Ingest appends a batch to the corpus and installs the resulting snapshot.
// Malformed documents and ids already present are skipped and reported in an
// *domain.IngestionError next to the new snapshot. When nothing in a
// non-empty batch is usable no snapshot is installed.
func (s *Service) Ingest(ctx context.Context, batch []domain.RawDocument) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.Current()
	if len(batch) == 0 {
		return base, nil
	}
	accepted, ierr := s.screen(batch, base)
	if len(accepted) == 0 {
		return nil, ierr
	}

	fresh, err := s.index(ctx, accepted)
	if err != nil {
		return nil, err
	}
	snap, err := s.install(ctx, append(base.Documents(), fresh...))
	if err != nil {
		return nil, err
	}
	s.logger.Info("corpus batch ingested", "batch_id", ierr.BatchID, "accepted", len(accepted),
		"rejected", len(ierr.Rejected), "version", snap.Version(), "documents", snap.Len())
	if len(ierr.Rejected) > 0 {
		return snap, ierr
	}
	return snap, nil
}

// Rebuild replaces the whole corpus with the documents of src.
func (s *Service) Rebuild(ctx context.Context, src domain.Source) (*domain.Snapshot, error) {
	raws, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accepted, ierr := s.screen(raws, nil)
	if len(accepted) == 0 && len(raws) > 0 {
		return nil, ierr
	}
	docs, err := s.index(ctx, accepted)
	if err != nil {
		return nil, err
	}
	snap, err := s.install(ctx, docs)
	if err != nil {
		return nil, err
	}
	s.logger.Info("corpus rebuilt", "batch_id", ierr.BatchID, "documents", snap.Len(),
		"rejected", len(ierr.Rejected), "version", snap.Version())
	if len(ierr.Rejected) > 0 {
		return snap, ierr
	}
	return snap, nil
}

// RebuildResult is delivered by RebuildAsync.
type RebuildResult struct {
	Snapshot *domain.Snapshot
	Err      error
}

// RebuildAsync rebuilds in the background. The channel yields exactly one
// result and is then closed.
func (s *Service) RebuildAsync(ctx context.Context, src domain.Source) <-chan RebuildResult {
	out := make(chan RebuildResult, 1)
	go func() {
		defer close(out)
		snap, err := s.Rebuild(ctx, src)
		out <- RebuildResult{Snapshot: snap, Err: err}
	}()
	return out
}

// RunRebuildLoop rebuilds from src every interval until ctx is done.
// Failed rebuilds are logged and the previous snapshot stays live.
func (s *Service) RunRebuildLoop(ctx context.Context, src domain.Source, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Rebuild(ctx, src); err != nil {
				s.logger.Error("scheduled corpus rebuild failed", "error", err)
			}
		}
	}
}

// screen normalizes a batch and drops malformed documents and ids that are
// duplicated within the batch or already present in base.
func (s *Service) screen(batch []domain.RawDocument, base *domain.Snapshot) ([]domain.RawDocument, *domain.IngestionError) {
	ierr := &domain.IngestionError{BatchID: uuid.NewString()}
	seen := map[string]struct{}{}
	var accepted []domain.RawDocument
	for i, raw := range batch {
		doc, err := raw.Normalize()
		if err != nil {
			ierr.Rejected = append(ierr.Rejected, domain.Rejection{Index: i, ID: raw.ID, Reason: err.Error()})
			continue
		}
		if _, dup := seen[doc.ID]; dup {
			ierr.Rejected = append(ierr.Rejected, domain.Rejection{Index: i, ID: doc.ID, Reason: "duplicate id in batch"})
			continue
		}
		if base != nil {
			if _, exists := base.Document(doc.ID); exists {
				ierr.Rejected = append(ierr.Rejected, domain.Rejection{Index: i, ID: doc.ID, Reason: "document already ingested; rebuild to replace it"})
				continue
			}
		}
		seen[doc.ID] = struct{}{}
		accepted = append(accepted, doc)
	}
	ierr.Accepted = len(accepted)
	for _, r := range ierr.Rejected {
		s.logger.Warn("skipping malformed document", "batch_id", ierr.BatchID, "index", r.Index, "id", r.ID, "reason", r.Reason)
	}
	return accepted, ierr
}

// index embeds and indexes documents.
func (s *Service) index(ctx context.Context, raws []domain.RawDocument) ([]*domain.Document, error) {
	docs := make([]*domain.Document, 0, len(raws))
	for start := 0; start < len(raws); start += s.embedBatch {
		end := min(start+s.embedBatch, len(raws))
		chunk := raws[start:end]

		var vectors [][]float32
		if s.embedder != nil {
			texts := make([]string, len(chunk))
			for i, r := range chunk {
				texts[i] = domain.IndexText(r.Title, r.Body, r.Techniques, r.Tags)
			}
			v, err := s.embedder.Embed(ctx, texts)
			if err != nil {
				return nil, fmt.Errorf("embed documents %d-%d: %w", start, end, err)
			}
			if len(v) != len(chunk) {
				return nil, fmt.Errorf("embedder returned %d vectors for %d documents", len(v), len(chunk))
			}
			vectors = v
		}
		for i, r := range chunk {
			var vec []float32
			if vectors != nil {
				vec = vectors[i]
			}
			docs = append(docs, domain.NewDocument(r, vec))
		}
	}
	return docs, nil
}

// install builds the next snapshot and publishes it. Callers hold s.mu.
func (s *Service) install(ctx context.Context, docs []*domain.Document) (*domain.Snapshot, error) {
	snap, err := domain.NewSnapshot(docs, domain.Meta{
		Sequence: s.seq + 1,
		Embedder: s.embedderName(),
		BuiltAt:  s.clock.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("build snapshot: %w", err)
	}
	s.seq++
	s.current.Store(snap)

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, snap.Manifest()); err != nil {
			s.logger.Warn("archiving snapshot manifest failed", "version", snap.Version(), "error", err)
		}
	}
	return snap, nil
}

func (s *Service) embedderName() string {
	if s.embedder == nil {
		return ""
	}
	return s.embedder.Name()
}
