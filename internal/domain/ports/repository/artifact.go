package repository

import (
	"context"
	"io"
)

// ArtifactStore holds staged inputs between admission and execution.
type ArtifactStore interface {
	Put(ctx context.Context, ref string, r io.Reader) error
	// Fetch makes the artifact available as a local file. release must be
	// called once the caller is done with path.
	// Missing artifacts yield domain.ErrArtifactNotFound.
	Fetch(ctx context.Context, ref string) (path string, release func(), err error)
	// Delete is idempotent.
	Delete(ctx context.Context, ref string) error
}
