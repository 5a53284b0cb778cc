// Package objectstore abstracts blob storage for parsed templates, section
// output blobs and rendered binaries. Every artifact layer stores its heavy
// payload here and keeps only the blob key in the Artifact Store (ent).
package objectstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no object.
var ErrNotFound = errors.New("objectstore: object not found")

// Store is the narrow blob storage contract every pipeline stage depends on.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
