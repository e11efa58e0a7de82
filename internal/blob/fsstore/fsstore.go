// Package fsstore keeps blobs on the local filesystem under one root.
package fsstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/mohammed-shakir/estate-geolayers/internal/blob"
)

type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("fsstore: root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("fsstore: create root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) resolve(p string) (string, error) {
	c, err := blob.Clean(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(c)), nil
}

func (s *Store) Exists(_ context.Context, p string) (bool, error) {
	full, err := s.resolve(p)
	if err != nil {
		return false, err
	}
	fi, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %q: %w", p, err)
	}
	return !fi.IsDir(), nil
}

func (s *Store) Get(_ context.Context, p string) ([]byte, error) {
	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("get %q: %w", p, blob.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", p, err)
	}
	return b, nil
}

// Put writes through a temp file and rename, so readers never observe a
// partially written document.
func (s *Store) Put(_ context.Context, p string, data []byte) error {
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("put %q: %w", p, err)
	}
	if err := atomic.WriteFile(full, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("put %q: %w", p, err)
	}
	return nil
}

func (s *Store) MakeDirectory(_ context.Context, dir string) error {
	full, err := s.resolve(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return fmt.Errorf("mkdir %q: %w", dir, err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, paths ...string) error {
	for _, p := range paths {
		full, err := s.resolve(p)
		if err != nil {
			return err
		}
		if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %q: %w", p, err)
		}
	}
	return nil
}
