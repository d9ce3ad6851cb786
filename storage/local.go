package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	metadataSuffix = ".meta.json"
	tempPrefix     = ".upload-"
)

// LocalStore keeps objects as files under a directory with a JSON sidecar
// holding their metadata
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", root, err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) pathFor(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || strings.HasSuffix(key, metadataSuffix) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean[1:])), nil
}

// Put implements BlobStore
func (s *LocalStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target, err := s.pathFor(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create file for %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if size >= 0 && written != size {
		return fmt.Errorf("short write for %s: got %d bytes, want %d", key, written, size)
	}

	info := ObjectInfo{
		Key:          key,
		Size:         written,
		ContentType:  contentType,
		Metadata:     metadata,
		LastModified: time.Now().UTC(),
	}
	meta, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode metadata for %s: %w", key, err)
	}
	if err := os.WriteFile(target+metadataSuffix, meta, 0644); err != nil {
		return fmt.Errorf("failed to write metadata for %s: %w", key, err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", key, err)
	}

	return nil
}

// Head implements BlobStore
func (s *LocalStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target, err := s.pathFor(key)
	if err != nil {
		return nil, ErrNotFound
	}

	stat, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", key, err)
	}

	info := ObjectInfo{Key: key, Size: stat.Size(), LastModified: stat.ModTime().UTC()}
	meta, err := os.ReadFile(target + metadataSuffix)
	switch {
	case err == nil:
		if err := json.Unmarshal(meta, &info); err != nil {
			return nil, fmt.Errorf("corrupt metadata for %s: %w", key, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read metadata for %s: %w", key, err)
	}

	return &info, nil
}

// Get implements BlobStore
func (s *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target, err := s.pathFor(key)
	if err != nil {
		return nil, ErrNotFound
	}

	f, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}

	return f, nil
}

// List implements BlobStore. The cursor is the last key of the previous page.
func (s *LocalStore) List(ctx context.Context, prefix string, limit int, cursor string) (*ListPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, metadataSuffix) || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) && key > cursor {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	sort.Strings(keys)

	page := &ListPage{}
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
		page.Truncated = true
		page.Cursor = keys[len(keys)-1]
	}

	page.Objects = make([]ObjectInfo, 0, len(keys))
	for _, key := range keys {
		info, err := s.Head(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue // removed while listing
		}
		if err != nil {
			return nil, err
		}
		page.Objects = append(page.Objects, *info)
	}

	return page, nil
}
