package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/estate-geolayers/internal/cache/keyindex"
	"github.com/mohammed-shakir/estate-geolayers/internal/cache/keys"
	"github.com/mohammed-shakir/estate-geolayers/internal/core/observability"
)

const localTier = "local"

type ViewsOptions struct {
	Logger *slog.Logger
	// LocalSize bounds the in-process tier; zero disables it.
	LocalSize int
	// LocalMaxAge caps how long an entry lives in process, so other
	// replicas' Forget calls are observed eventually. Zero means the
	// entry TTL alone applies.
	LocalMaxAge time.Duration
	// OpTimeout bounds each Redis call made on a read path.
	OpTimeout time.Duration
	Now       func() time.Time
}

type localEntry struct {
	val     []byte
	expires time.Time
}

// Views is a read-through cache of derived layer views. Redis holds the
// shared copy; an optional LRU answers repeated reads in process. Redis
// failures degrade to recomputation.
type Views struct {
	store  Interface
	index  keyindex.Index
	log    *slog.Logger
	now    func() time.Time
	maxAge time.Duration
	opTO   time.Duration

	mu    sync.Mutex
	local *lru.Cache[string, localEntry]
}

// NewViews builds the cache. store and index may be nil, leaving only the
// local tier.
func NewViews(store Interface, index keyindex.Index, opts ViewsOptions) (*Views, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	v := &Views{
		store:  store,
		index:  index,
		log:    opts.Logger,
		now:    opts.Now,
		maxAge: opts.LocalMaxAge,
		opTO:   opts.OpTimeout,
	}
	if opts.LocalSize > 0 {
		c, err := lru.New[string, localEntry](opts.LocalSize)
		if err != nil {
			return nil, fmt.Errorf("local cache: %w", err)
		}
		v.local = c
	}
	return v, nil
}

// Remember returns the cached view of layerID under key, or computes it
// with fn and stores the result for ttl. A zero ttl never expires. Errors
// from fn are returned and nothing is cached.
func (v *Views) Remember(
	ctx context.Context,
	layerID uint64,
	key string,
	ttl time.Duration,
	fn func(context.Context) ([]byte, error),
) ([]byte, error) {
	entry := keys.Entry(layerID, key)

	if b, ok := v.getLocal(entry); ok {
		return b, nil
	}

	if v.store != nil {
		octx, cancel := v.opCtx(ctx)
		got, err := v.store.MGet(octx, []string{entry})
		cancel()
		if err != nil {
			v.log.Warn("view cache read failed", "layer_id", layerID, "key", key, "err", err)
		} else if b, ok := got[entry]; ok {
			v.putLocal(entry, b, ttl)
			return b, nil
		}
	}

	b, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	v.putLocal(entry, b, ttl)

	if v.store != nil {
		octx, cancel := v.opCtx(ctx)
		defer cancel()
		if err := v.store.Set(octx, entry, b, ttl); err != nil {
			v.log.Warn("view cache write failed", "layer_id", layerID, "key", key, "err", err)
			return b, nil
		}
		if v.index != nil {
			if err := v.index.Add(octx, layerID, entry); err != nil {
				v.log.Warn("view cache index failed", "layer_id", layerID, "key", key, "err", err)
			}
		}
	}
	return b, nil
}

// Forget drops the given views of a layer, or every view of it when no
// key is passed.
func (v *Views) Forget(ctx context.Context, layerID uint64, viewKeys ...string) error {
	if len(viewKeys) == 0 {
		return v.forgetLayer(ctx, layerID)
	}

	entries := make([]string, len(viewKeys))
	for i, k := range viewKeys {
		entries[i] = keys.Entry(layerID, k)
	}
	v.removeLocal(func(e string) bool { return slices.Contains(entries, e) })
	if v.store == nil {
		return nil
	}
	var errs []error
	if err := v.store.Del(ctx, entries...); err != nil {
		errs = append(errs, err)
	}
	if v.index != nil {
		if err := v.index.Remove(ctx, layerID, entries...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (v *Views) forgetLayer(ctx context.Context, layerID uint64) error {
	prefix := keys.LayerPrefix(layerID) + ":"
	v.removeLocal(func(e string) bool { return strings.HasPrefix(e, prefix) })
	if v.store == nil || v.index == nil {
		return nil
	}
	entries, err := v.index.Entries(ctx, layerID)
	if err != nil {
		return err
	}
	if err := v.store.Del(ctx, entries...); err != nil {
		return err
	}
	if err := v.index.Drop(ctx, layerID); err != nil {
		return err
	}
	v.log.Debug("layer views forgotten", "layer_id", layerID, "entries", len(entries))
	return nil
}

func (v *Views) getLocal(entry string) ([]byte, bool) {
	if v.local == nil {
		return nil, false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.local.Get(entry)
	if ok && !e.expires.IsZero() && !v.now().Before(e.expires) {
		v.local.Remove(entry)
		ok = false
	}
	if !ok {
		observability.AddCacheMisses(localTier, 1)
		return nil, false
	}
	observability.AddCacheHits(localTier, 1)
	return e.val, true
}

func (v *Views) putLocal(entry string, b []byte, ttl time.Duration) {
	if v.local == nil {
		return
	}
	age := ttl
	if v.maxAge > 0 && (age <= 0 || v.maxAge < age) {
		age = v.maxAge
	}
	e := localEntry{val: b}
	if age > 0 {
		e.expires = v.now().Add(age)
	}
	v.mu.Lock()
	v.local.Add(entry, e)
	v.mu.Unlock()
}

func (v *Views) removeLocal(match func(string) bool) {
	if v.local == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, k := range v.local.Keys() {
		if match(k) {
			v.local.Remove(k)
		}
	}
}

func (v *Views) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if v.opTO <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, v.opTO)
}
