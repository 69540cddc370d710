package corpus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glaciergh0st/HuntLens/internal/application"
	domain "github.com/glaciergh0st/HuntLens/internal/domain/corpus"
)

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.fail != nil {
		return nil, e.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (e *countingEmbedder) Dimensions() int { return 2 }
func (e *countingEmbedder) Name() string    { return "counting-2" }

type sliceSource []domain.RawDocument

func (s sliceSource) Load(context.Context) ([]domain.RawDocument, error) { return s, nil }

type failingSource struct{}

func (failingSource) Load(context.Context) ([]domain.RawDocument, error) {
	return nil, errors.New("bucket gone")
}

type recordingArchiver struct {
	mu        sync.Mutex
	manifests []domain.Manifest
}

func (a *recordingArchiver) Archive(_ context.Context, m domain.Manifest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.manifests = append(a.manifests, m)
	return nil
}

func doc(id, body string) domain.RawDocument {
	return domain.RawDocument{ID: id, Source: domain.SourceAttack, Title: id, Body: body}
}

var fixed = application.FixedClock{T: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

func TestService_StartsEmpty(t *testing.T) {
	s := NewService(&countingEmbedder{}, WithClock(fixed))
	snap := s.Current()
	require.NotNil(t, snap)
	assert.Equal(t, 0, snap.Len())
	assert.Equal(t, "counting-2", snap.Embedder())
}

func TestService_IngestAppendsAndSwaps(t *testing.T) {
	s := NewService(&countingEmbedder{}, WithClock(fixed))
	ctx := context.Background()

	first, err := s.Ingest(ctx, []domain.RawDocument{doc("T1003", "credential dumping")})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Len())

	second, err := s.Ingest(ctx, []domain.RawDocument{doc("T1059", "command interpreter")})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Len())
	assert.Same(t, second, s.Current())
	assert.NotEqual(t, first.Version(), second.Version())
	assert.Equal(t, fixed.T, second.BuiltAt())

	// the earlier snapshot is untouched
	assert.Equal(t, 1, first.Len())
	_, ok := first.Document("T1059")
	assert.False(t, ok)
}

func TestService_IngestReportsRejections(t *testing.T) {
	s := NewService(&countingEmbedder{})
	ctx := context.Background()
	_, err := s.Ingest(ctx, []domain.RawDocument{doc("T1003", "credential dumping")})
	require.NoError(t, err)

	snap, err := s.Ingest(ctx, []domain.RawDocument{
		doc("T1021", "remote services"),
		{ID: "bad id!", Source: domain.SourceAttack, Body: "x"},
		doc("T1021", "duplicate in batch"),
		doc("T1003", "already present"),
		{ID: "kb-1", Source: "blog", Body: "unknown category"},
	})
	require.NotNil(t, snap)
	assert.Equal(t, 2, snap.Len())

	var ierr *domain.IngestionError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 1, ierr.Accepted)
	assert.NotEmpty(t, ierr.BatchID)
	require.Len(t, ierr.Rejected, 4)
	assert.Equal(t, []int{1, 2, 3, 4}, []int{ierr.Rejected[0].Index, ierr.Rejected[1].Index, ierr.Rejected[2].Index, ierr.Rejected[3].Index})
	assert.NotErrorIs(t, err, domain.ErrNothingIngested)
}

func TestService_IngestNothingValid(t *testing.T) {
	s := NewService(nil)
	before := s.Current()

	snap, err := s.Ingest(context.Background(), []domain.RawDocument{{ID: "", Body: "x"}})
	assert.Nil(t, snap)
	assert.ErrorIs(t, err, domain.ErrNothingIngested)
	assert.Same(t, before, s.Current())
}

func TestService_IngestEmptyBatchIsNoop(t *testing.T) {
	s := NewService(nil)
	before := s.Current()
	snap, err := s.Ingest(context.Background(), nil)
	require.NoError(t, err)
	assert.Same(t, before, snap)
}

func TestService_EmbedFailureKeepsSnapshot(t *testing.T) {
	emb := &countingEmbedder{fail: errors.New("embedding backend down")}
	s := NewService(emb)
	before := s.Current()

	_, err := s.Ingest(context.Background(), []domain.RawDocument{doc("T1003", "credential dumping")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding backend down")
	assert.Same(t, before, s.Current())
}

func TestService_EmbedsInBatches(t *testing.T) {
	emb := &countingEmbedder{}
	s := NewService(emb, WithEmbedBatch(2))
	raws := []domain.RawDocument{doc("a1", "one"), doc("a2", "two"), doc("a3", "three"), doc("a4", "four"), doc("a5", "five")}

	snap, err := s.Ingest(context.Background(), raws)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.Len())
	assert.Equal(t, 3, emb.calls)
	assert.Equal(t, 2, snap.Dimensions())
}

func TestService_RebuildReplacesCorpus(t *testing.T) {
	arch := &recordingArchiver{}
	s := NewService(nil, WithArchiver(arch))
	ctx := context.Background()
	_, err := s.Ingest(ctx, []domain.RawDocument{doc("old-1", "stale")})
	require.NoError(t, err)

	snap, err := s.Rebuild(ctx, sliceSource{doc("new-1", "fresh"), doc("new-2", "fresher")})
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Len())
	_, ok := snap.Document("old-1")
	assert.False(t, ok)

	require.Len(t, arch.manifests, 2)
	assert.Equal(t, snap.Version(), arch.manifests[1].Version)
	assert.Equal(t, []string{"new-1", "new-2"}, arch.manifests[1].IDs)
}

func TestService_RebuildSourceFailureKeepsSnapshot(t *testing.T) {
	s := NewService(nil)
	_, err := s.Ingest(context.Background(), []domain.RawDocument{doc("keep", "me")})
	require.NoError(t, err)
	before := s.Current()

	_, err = s.Rebuild(context.Background(), failingSource{})
	require.Error(t, err)
	assert.Same(t, before, s.Current())
}

func TestService_RebuildAsync(t *testing.T) {
	s := NewService(nil)
	res := <-s.RebuildAsync(context.Background(), sliceSource{doc("bg-1", "background")})
	require.NoError(t, res.Err)
	assert.Same(t, res.Snapshot, s.Current())
}

func TestService_ConcurrentReadersDuringIngest(t *testing.T) {
	s := NewService(&countingEmbedder{})
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					snap := s.Current()
					for i := 0; i < snap.Len(); i++ {
						_ = snap.At(i).ID
					}
				}
			}
		}()
	}
	for i := range 20 {
		_, err := s.Ingest(ctx, []domain.RawDocument{doc("doc-"+string(rune('a'+i)), "body text")})
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, 20, s.Current().Len())
}

func TestService_RunRebuildLoopStopsOnCancel(t *testing.T) {
	s := NewService(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunRebuildLoop(ctx, sliceSource{doc("loop-1", "tick")}, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.Current().Len() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("rebuild loop did not stop")
	}
}
