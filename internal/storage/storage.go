// Package storage persists export artifacts on the local filesystem or
// in an S3 compatible object store.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotExist is returned when the requested object is not in the store.
var ErrNotExist = errors.New("object does not exist")

// ObjectInfo describes a stored artifact.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
	ContentType  string
}

// ListOptions narrows a List call to keys with a common prefix and caps
// the result count. Zero MaxKeys means no cap.
type ListOptions struct {
	Prefix  string
	MaxKeys int
}

// Storage is the backend interface the export store writes through.
// Implementations wrap missing keys in ErrNotExist.
type Storage interface {
	// Get opens the object for reading together with its metadata.
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)

	// Put stores the object under key, replacing any previous content.
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*ObjectInfo, error)

	// Delete removes the object. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the object is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Stat returns metadata without reading the content.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// List enumerates objects matching opts.
	List(ctx context.Context, opts ListOptions) ([]*ObjectInfo, error)

	// Close releases backend resources.
	Close() error
}

// StorageType names a storage backend.
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
)
