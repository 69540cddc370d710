package corpus

import "context"

// Source loads raw documents for a full rebuild.
type Source interface {
	Load(ctx context.Context) ([]RawDocument, error)
}

// Archiver persists snapshot manifests outside the process.
type Archiver interface {
	Archive(ctx context.Context, m Manifest) error
}

// Provider hands out the current snapshot. Implementations never return nil
// once started; a nil snapshot means the corpus cannot be queried.
type Provider interface {
	Current() *Snapshot
}
