package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

const tempPrefix = ".upload-"

// FSStore keeps objects as files on an afero filesystem.
type FSStore struct {
	fs afero.Fs
}

func NewFSStore(fs afero.Fs) *FSStore {
	return &FSStore{fs: fs}
}

// NewDirStore stores objects below root on the local disk.
func NewDirStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return NewFSStore(afero.NewBasePathFs(afero.NewOsFs(), root)), nil
}

// Put writes to a temporary file and renames it, so readers never see a partial
// object.
func (s *FSStore) Put(_ context.Context, key string, body []byte, _ string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	dir := path.Dir(key)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create object folder: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("close object: %w", err)
	}
	if err := s.fs.Rename(tmpName, key); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("store object: %w", err)
	}
	return nil
}

func (s *FSStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	info, err := s.fs.Stat(key)
	if err != nil {
		return nil, s.statError(key, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	f, err := s.fs.Open(key)
	if err != nil {
		return nil, s.statError(key, err)
	}
	return f, nil
}

func (s *FSStore) Exists(_ context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	info, err := s.fs.Stat(key)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat object: %w", err)
	}
	return !info.IsDir(), nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	ok, err := s.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err := s.fs.Remove(key); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

// List returns the keys starting with prefix, sorted.
func (s *FSStore) List(_ context.Context, prefix string) ([]string, error) {
	root := "."
	if i := strings.LastIndex(prefix, "/"); i > 0 {
		root = prefix[:i]
	}
	if _, err := s.fs.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var keys []string
	err := afero.Walk(s.fs, root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), tempPrefix) {
			return nil
		}
		key := strings.TrimPrefix(filepath.ToSlash(p), "./")
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FSStore) statError(key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Errorf("open object: %w", err)
}
