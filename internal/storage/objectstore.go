package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by ObjectStore implementations when a key
// does not exist, so callers can distinguish absence from transport faults.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the remote tier. Implementations must be safe for
// concurrent use.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body io.Reader) error
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
	// DeleteObject removes a key. Deleting a missing key is not an error.
	DeleteObject(ctx context.Context, key string) error
}
