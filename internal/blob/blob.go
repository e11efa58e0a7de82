// Package blob is the byte-addressable store uploaded and transformed
// GeoJSON files live in, keyed by slash-separated path.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("blob not found")

type Store interface {
	Exists(ctx context.Context, path string) (bool, error)
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte) error
	MakeDirectory(ctx context.Context, dir string) error
	Delete(ctx context.Context, paths ...string) error
}

// Clean normalizes p to a relative slash path and rejects paths that
// escape the store root.
func Clean(p string) (string, error) {
	s := strings.ReplaceAll(p, "\\", "/")
	if slices.Contains(strings.Split(s, "/"), "..") {
		return "", fmt.Errorf("blob path %q: escapes root", p)
	}
	c := strings.TrimPrefix(path.Clean("/"+s), "/")
	if c == "" {
		return "", fmt.Errorf("blob path %q: empty", p)
	}
	return c, nil
}

// Memory keeps blobs in a map.
type Memory struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{files: map[string][]byte{}, dirs: map[string]struct{}{}}
}

func (m *Memory) Exists(_ context.Context, p string) (bool, error) {
	c, err := Clean(p)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[c]
	return ok, nil
}

func (m *Memory) Get(_ context.Context, p string) ([]byte, error) {
	c, err := Clean(p)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.files[c]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", c, ErrNotFound)
	}
	return slices.Clone(b), nil
}

func (m *Memory) Put(_ context.Context, p string, data []byte) error {
	c, err := Clean(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[c] = slices.Clone(data)
	return nil
}

func (m *Memory) MakeDirectory(_ context.Context, dir string) error {
	c, err := Clean(dir)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.dirs[c] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, paths ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range paths {
		c, err := Clean(p)
		if err != nil {
			return err
		}
		delete(m.files, c)
	}
	return nil
}

// HasDirectory reports whether dir was created with MakeDirectory.
func (m *Memory) HasDirectory(dir string) bool {
	c, err := Clean(dir)
	if err != nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.dirs[c]
	return ok
}

// Paths lists the stored blob paths in sorted order.
func (m *Memory) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
