package storage

import (
	"context"
	"errors"
	"io"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is an opaque key to URL blob store. Keys are deterministic paths.
type ObjectStore interface {
	CreateBucket(ctx context.Context) error

	// PutObject writes data under key and returns a URL for the stored object.
	PutObject(ctx context.Context, key string, data io.Reader, contentType string) (string, error)

	// GetObject opens key for reading. A missing key yields ErrObjectNotFound.
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	DeleteObjects(ctx context.Context, prefix string) error
}
