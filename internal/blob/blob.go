// Package blob serves attachment bytes referenced by drafts.
package blob

import (
	"context"
	"io"
)

// Info describes a stored blob.
type Info struct {
	ID          string
	Filename    string
	ContentType string
	Size        int64
}

// Store opens attachment blobs by ID. A missing blob is a mailerr NotFound.
type Store interface {
	Open(ctx context.Context, id string) (io.ReadCloser, *Info, error)
}
