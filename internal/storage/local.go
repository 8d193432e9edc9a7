package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage keeps export artifacts as plain files under a base
// directory. Writes are staged in a temp file and renamed into place,
// so readers never observe a partially written export.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage creates the base directory if needed and returns a
// store rooted there.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create storage directory %s: %w", baseDir, err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

func (l *LocalStorage) objectPath(key string) string {
	return filepath.Join(l.baseDir, filepath.FromSlash(key))
}

// Get opens the artifact for reading along with its metadata.
func (l *LocalStorage) Get(_ context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	file, err := os.Open(l.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotExist, key)
		}
		return nil, nil, fmt.Errorf("open %s: %w", key, err)
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, nil, fmt.Errorf("stat %s: %w", key, err)
	}

	return file, &ObjectInfo{
		Key:          key,
		Size:         stat.Size(),
		LastModified: stat.ModTime(),
	}, nil
}

// Put stores the artifact. The bytes are synced to disk before the
// rename makes the file visible, and a short read against the declared
// size is an error rather than a truncated publish.
func (l *LocalStorage) Put(_ context.Context, key string, reader io.Reader, size int64, contentType string) (*ObjectInfo, error) {
	path := l.objectPath(key)
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".staging-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmp != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	written, err := io.Copy(tmp, reader)
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", key, err)
	}
	if size >= 0 && written != size {
		return nil, fmt.Errorf("write %s: wrote %d bytes, expected %d", key, written, size)
	}

	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", key, err)
	}
	tmp = nil // rename owns the file from here

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("publish %s: %w", key, err)
	}

	return &ObjectInfo{
		Key:         key,
		Size:        written,
		ContentType: contentType,
	}, nil
}

// Delete removes the artifact. Deleting a missing key is not an error.
func (l *LocalStorage) Delete(_ context.Context, key string) error {
	if err := os.Remove(l.objectPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Exists reports whether the artifact is present.
func (l *LocalStorage) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(l.objectPath(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", key, err)
}

// Stat returns artifact metadata without opening the file.
func (l *LocalStorage) Stat(_ context.Context, key string) (*ObjectInfo, error) {
	stat, err := os.Stat(l.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
		}
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
	}

	return &ObjectInfo{
		Key:          key,
		Size:         stat.Size(),
		LastModified: stat.ModTime(),
	}, nil
}

// List returns artifacts whose names start with opts.Prefix. Artifact
// names are flat, so only direct children of the base directory are
// considered.
func (l *LocalStorage) List(_ context.Context, opts ListOptions) ([]*ObjectInfo, error) {
	entries, err := os.ReadDir(l.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read storage directory: %w", err)
	}

	objects := make([]*ObjectInfo, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			// dot entries are staging files from in flight writes
			continue
		}
		if !strings.HasPrefix(name, opts.Prefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		objects = append(objects, &ObjectInfo{
			Key:          name,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		if opts.MaxKeys > 0 && len(objects) >= opts.MaxKeys {
			break
		}
	}

	return objects, nil
}

// Close is a no-op for local storage.
func (l *LocalStorage) Close() error {
	return nil
}
