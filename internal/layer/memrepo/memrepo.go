// Package memrepo is an in-process layer repository for tests and
// single-binary deployments.
package memrepo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mohammed-shakir/estate-geolayers/internal/layer"
)

type Repo struct {
	mu     sync.RWMutex
	rows   map[uint64]*layer.Layer
	nextID uint64
	now    func() time.Time
}

func New() *Repo {
	return &Repo{rows: map[uint64]*layer.Layer{}, now: time.Now}
}

// WithClock replaces the clock used for timestamps.
func (r *Repo) WithClock(now func() time.Time) *Repo {
	r.now = now
	return r
}

func (r *Repo) Create(_ context.Context, l *layer.Layer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l.ID == 0 {
		r.nextID++
		l.ID = r.nextID
	} else if l.ID > r.nextID {
		r.nextID = l.ID
	}
	if _, ok := r.rows[l.ID]; ok {
		return fmt.Errorf("layer %d already exists", l.ID)
	}
	ts := r.now()
	l.CreatedAt, l.UpdatedAt = ts, ts
	r.rows[l.ID] = l.Clone()
	return nil
}

func (r *Repo) Load(_ context.Context, id uint64) (*layer.Layer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.rows[id]
	if !ok {
		return nil, fmt.Errorf("load layer %d: %w", id, layer.ErrNotFound)
	}
	return l.Clone(), nil
}

func (r *Repo) Update(_ context.Context, id uint64, u layer.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("update layer %d: %w", id, layer.ErrNotFound)
	}
	u.Apply(l)
	l.UpdatedAt = r.now()
	return nil
}

func (r *Repo) Delete(_ context.Context, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return fmt.Errorf("delete layer %d: %w", id, layer.ErrNotFound)
	}
	delete(r.rows, id)
	return nil
}

func (r *Repo) ListStale(_ context.Context, status layer.Status, before time.Time) ([]*layer.Layer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*layer.Layer
	for _, l := range r.rows {
		if l.Status == status && l.UpdatedAt.Before(before) {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
