// Package local implements internal/objectstore.Store over the local
// filesystem, the default backend for single-node deployments (spec.md
// §4.D: "the local cache directory").
package local

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.obscore.dev/obscore/internal/objectstore"
)

func init() {
	objectstore.Register("local", func(ctx context.Context, u *url.URL) (objectstore.Store, error) {
		return New(u.Path)
	})
}

// Store is a filesystem-backed objectstore.Store rooted at Dir.
type Store struct {
	Dir string
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, objectstore.ErrObjectStore.Wrap(err)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.Dir, filepath.FromSlash(key))
}

// Put writes data to Dir/key via a temp file plus atomic rename, mirroring
// the Partition Writer's own local-cache write pattern (spec.md §4.D), and
// refuses to overwrite an existing key.
func (s *Store) Put(ctx context.Context, key string, data io.Reader, size int64) error {
	dst := s.path(key)
	if _, err := os.Stat(dst); err == nil {
		return objectstore.ErrExists.New("%s", key)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return objectstore.ErrObjectStore.Wrap(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return objectstore.ErrObjectStore.Wrap(err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		return objectstore.ErrObjectStore.Wrap(err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return objectstore.ErrObjectStore.Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return objectstore.ErrObjectStore.Wrap(err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return objectstore.ErrObjectStore.Wrap(err)
	}
	return nil
}

// Get opens key, optionally seeking to r.Offset and limiting to r.Length.
func (s *Store) Get(ctx context.Context, key string, r *objectstore.Range) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, objectstore.ErrNotFound.New("%s", key)
		}
		return nil, objectstore.ErrObjectStore.Wrap(err)
	}
	if r == nil || (r.Offset == 0 && r.Length == 0) {
		return f, nil
	}
	if _, err := f.Seek(r.Offset, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, objectstore.ErrObjectStore.Wrap(err)
	}
	return limitedReadCloser{r: io.LimitReader(f, r.Length), c: f}, nil
}

type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l limitedReadCloser) Close() error                { return l.c.Close() }

// List returns every key under Dir with the given prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	root := s.Dir
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, objectstore.ErrObjectStore.Wrap(err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes key; deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return objectstore.ErrObjectStore.Wrap(err)
	}
	return nil
}
