package port

import (
	"context"
	"time"
)

// FileStorage defines blob storage operations. Paths are relative to the
// storage root.
type FileStorage interface {
	Save(ctx context.Context, path string, content []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) bool
	Delete(ctx context.Context, path string) error
	GetFullPath(relativePath string) string
}

// StoredObject describes one blob found under the storage root
type StoredObject struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// BlobLister enumerates the blobs stored under a directory
type BlobLister interface {
	List(ctx context.Context, dir string) ([]StoredObject, error)
}

// DocumentIndex reports every blob path referenced by a stored request
type DocumentIndex interface {
	ReferencedDocuments(ctx context.Context) (map[string]struct{}, error)
}
