// Package filestore is a storage.Store keeping one file per key on a go-billy
// filesystem. Writes go to a temporary file that is renamed over the target, so
// readers never observe a partial value.
package filestore

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"

	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/storage"
)

const (
	componentName = "filestore"
	fileSuffix    = ".dat"
	tempPrefix    = ".tmp-"
)

// Store persists values under dir on fs.
type Store struct {
	fs  billy.Filesystem
	dir string
	mu  sync.RWMutex
}

var _ storage.Store = (*Store)(nil)

// New creates the directory if needed and returns a store rooted there.
func New(fs billy.Filesystem, dir string) (*Store, error) {
	if fs == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, componentName, "New", "filesystem is required")
	}
	if dir == "" {
		dir = "."
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, storage.Unavailable(err, componentName, "New", "create directory "+dir)
	}
	return &Store{fs: fs, dir: dir}, nil
}

func (s *Store) filename(key string) string {
	return path.Join(s.dir, url.PathEscape(key)+fileSuffix)
}

// Put writes data to a temporary file and renames it into place.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := s.fs.TempFile(s.dir, tempPrefix)
	if err != nil {
		return storage.Unavailable(err, componentName, "Put", "create temp file")
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = s.fs.Remove(tmpName)
		return storage.Unavailable(err, componentName, "Put", "write "+key)
	}

	if err := s.fs.Rename(tmpName, s.filename(key)); err != nil {
		_ = s.fs.Remove(tmpName)
		return storage.Unavailable(err, componentName, "Put", "rename into place "+key)
	}
	return nil
}

// Get reads the file for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := s.fs.Open(s.filename(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.NotFound(componentName, key)
		}
		return nil, storage.Unavailable(err, componentName, "Get", "open "+key)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, storage.Unavailable(err, componentName, "Get", "read "+key)
	}
	return data, nil
}

// List returns keys with prefix, sorted. Leftover temporary files are ignored.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	infos, err := s.fs.ReadDir(s.dir)
	if err != nil {
		return nil, storage.Unavailable(err, componentName, "List", "read directory "+s.dir)
	}

	keys := []string{}
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || strings.HasPrefix(name, tempPrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes the file for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.Remove(s.filename(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return storage.Unavailable(err, componentName, "Delete", "remove "+key)
	}
	return nil
}
