package ai

import (
	"context"

	"github.com/glaciergh0st/HuntLens/internal/domain/artifact"
	"github.com/glaciergh0st/HuntLens/internal/domain/evidence"
	"github.com/glaciergh0st/HuntLens/internal/domain/playbook"
)

// GenerationRequest is everything a generator may see: the classified
// artifact and the retrieved evidence with provenance.
type GenerationRequest struct {
	Artifact  artifact.Artifact
	Evidence  []evidence.Item
	Detection *playbook.DetectionQueries
}

// Generator turns a request into raw candidate playbook JSON. The output is
// untrusted and always goes through the validator.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// Embedder maps texts to fixed-width vectors. The same embedder must be used
// for corpus documents and queries of one snapshot.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}
