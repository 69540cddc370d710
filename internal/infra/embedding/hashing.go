// Package embedding provides a local, dependency-free embedder used when no
// embedding provider is configured.
package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/glaciergh0st/HuntLens/internal/domain/corpus"
)

const DefaultDimensions = 384

// Hashing maps token and character trigram features into a fixed number of
// buckets (feature hashing) and L2-normalizes the result. It is
// deterministic, so corpus vectors and query vectors always agree.
type Hashing struct {
	dims int
}

func NewHashing(dims int) (*Hashing, error) {
	if dims == 0 {
		dims = DefaultDimensions
	}
	if dims < 16 {
		return nil, fmt.Errorf("hashing embedder needs at least 16 dimensions, got %d", dims)
	}
	return &Hashing{dims: dims}, nil
}

func (h *Hashing) Name() string    { return fmt.Sprintf("hashing-%d", h.dims) }
func (h *Hashing) Dimensions() int { return h.dims }

func (h *Hashing) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *Hashing) vector(text string) []float32 {
	v := make([]float64, h.dims)
	for _, tok := range corpus.Tokenize(text) {
		h.add(v, "w:"+tok, 1)
		padded := "^" + tok + "$"
		r := []rune(padded)
		for i := 0; i+3 <= len(r); i++ {
			h.add(v, "g:"+string(r[i:i+3]), 0.5)
		}
	}

	var norm float64
	for _, x := range v {
		norm += x * x
	}
	out := make([]float32, h.dims)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}

// add hashes a feature into a bucket; a second hash bit picks the sign so
// collisions cancel out on average.
func (h *Hashing) add(v []float64, feature string, weight float64) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}
