// Package keyindex tracks which cache entries exist for each layer so they
// can be dropped together.
package keyindex

import (
	"context"
	"fmt"
	"slices"

	"github.com/mohammed-shakir/estate-geolayers/internal/cache/keys"
)

type Index interface {
	Add(ctx context.Context, layerID uint64, entries ...string) error
	Remove(ctx context.Context, layerID uint64, entries ...string) error
	Entries(ctx context.Context, layerID uint64) ([]string, error)
	Drop(ctx context.Context, layerID uint64) error
}

// SetStore is the subset of Redis the index needs; redisstore.Client
// implements it.
type SetStore interface {
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SRem(ctx context.Context, key string, members ...string) error
	Del(ctx context.Context, keys ...string) error
}

type redisIndex struct {
	cli SetStore
}

func NewRedisIndex(cli SetStore) Index {
	return &redisIndex{cli: cli}
}

func (ix *redisIndex) Add(ctx context.Context, layerID uint64, entries ...string) error {
	if err := ix.cli.SAdd(ctx, keys.LayerIndex(layerID), dedupe(entries)...); err != nil {
		return fmt.Errorf("keyindex add layer %d: %w", layerID, err)
	}
	return nil
}

func (ix *redisIndex) Remove(ctx context.Context, layerID uint64, entries ...string) error {
	if err := ix.cli.SRem(ctx, keys.LayerIndex(layerID), entries...); err != nil {
		return fmt.Errorf("keyindex remove layer %d: %w", layerID, err)
	}
	return nil
}

// Entries returns the indexed entry keys in sorted order. Some may already
// have expired.
func (ix *redisIndex) Entries(ctx context.Context, layerID uint64) ([]string, error) {
	out, err := ix.cli.SMembers(ctx, keys.LayerIndex(layerID))
	if err != nil {
		return nil, fmt.Errorf("keyindex entries layer %d: %w", layerID, err)
	}
	slices.Sort(out)
	return out, nil
}

func (ix *redisIndex) Drop(ctx context.Context, layerID uint64) error {
	if err := ix.cli.Del(ctx, keys.LayerIndex(layerID)); err != nil {
		return fmt.Errorf("keyindex drop layer %d: %w", layerID, err)
	}
	return nil
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
