// Package local implements objectstore.Store on a local directory. Object keys
// are slash-separated paths relative to the root directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/helix-io/helix/internal/objectstore"
)

// Store is a filesystem-backed object store.
type Store struct {
	root string

	mu     sync.RWMutex
	closed bool
}

// New returns a store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("local: root directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("local: create root %s: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("local: resolve root %s: %w", dir, err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("local: store is closed")
	}
	return nil
}

func (s *Store) path(op, key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrInvalidKey}
	}
	return filepath.Join(s.root, clean), nil
}

func wrap(op, key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrNotFound}
	}
	if errors.Is(err, fs.ErrPermission) {
		return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrAccessDenied}
	}
	return &objectstore.ObjectError{Op: op, Key: key, Err: err}
}

// Put writes the object to a temporary file and renames it into place, so
// readers never observe a partial object.
func (s *Store) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	p, err := s.path("Put", key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return wrap("Put", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".tmp-*")
	if err != nil {
		return wrap("Put", key, err)
	}
	written, err := io.Copy(tmp, reader)
	if err == nil && size >= 0 && written != size {
		err = fmt.Errorf("wrote %d bytes, expected %d", written, size)
	}
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), p)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return wrap("Put", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	p, err := s.path("Get", key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, wrap("Get", key, err)
	}
	return f, nil
}

func (s *Store) Head(ctx context.Context, key string) (objectstore.ObjectMeta, error) {
	if err := s.checkClosed(); err != nil {
		return objectstore.ObjectMeta{}, err
	}
	p, err := s.path("Head", key)
	if err != nil {
		return objectstore.ObjectMeta{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return objectstore.ObjectMeta{}, wrap("Head", key, err)
	}
	if info.IsDir() {
		return objectstore.ObjectMeta{}, &objectstore.ObjectError{Op: "Head", Key: key, Err: objectstore.ErrNotFound}
	}
	return objectstore.ObjectMeta{
		Key:          key,
		Size:         info.Size(),
		LastModified: info.ModTime(),
	}, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	p, err := s.path("Delete", key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wrap("Delete", key, err)
	}
	return nil
}

// List walks the root directory. Temporary files of in-flight puts are skipped.
func (s *Store) List(ctx context.Context, prefix string) ([]objectstore.ObjectMeta, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	var result []objectstore.ObjectMeta
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		result = append(result, objectstore.ObjectMeta{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, wrap("List", prefix, err)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ objectstore.Store = (*Store)(nil)
