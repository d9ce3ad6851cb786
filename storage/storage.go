// Package storage keeps uploaded photo bytes in a blob store.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a key has no object
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	ContentType  string            `json:"contentType"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"lastModified"`
}

// ListPage is one page of a key listing in key order. Cursor continues the
// listing when Truncated is set.
type ListPage struct {
	Objects   []ObjectInfo
	Truncated bool
	Cursor    string
}

// BlobStore stores photo bytes under string keys
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, metadata map[string]string) error
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns up to limit objects whose key starts with prefix
	List(ctx context.Context, prefix string, limit int, cursor string) (*ListPage, error)
}
