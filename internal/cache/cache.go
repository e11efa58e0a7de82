// Package cache stores derived layer views (statistics, simplified copies,
// tile buckets) so repeated reads skip recomputation.
package cache

import (
	"context"
	"time"
)

type Interface interface {
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
