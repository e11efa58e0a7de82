package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/estate-geolayers/internal/cache/keyindex"
	"github.com/mohammed-shakir/estate-geolayers/internal/cache/keys"
	"github.com/mohammed-shakir/estate-geolayers/internal/cache/redisstore"
)

func newRedisViews(t *testing.T, opts ViewsOptions) (*Views, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })

	v, err := NewViews(cli, keyindex.NewRedisIndex(cli), opts)
	if err != nil {
		t.Fatalf("NewViews: %v", err)
	}
	return v, mr
}

type counter struct{ n atomic.Int32 }

func (c *counter) fn(val string) func(context.Context) ([]byte, error) {
	return func(context.Context) ([]byte, error) {
		c.n.Add(1)
		return []byte(val), nil
	}
}

func TestRemember_ComputesOnceThenHits(t *testing.T) {
	v, mr := newRedisViews(t, ViewsOptions{})
	ctx := context.Background()
	var c counter

	for range 3 {
		got, err := v.Remember(ctx, 1, keys.Statistics, time.Minute, c.fn("stats"))
		if err != nil || string(got) != "stats" {
			t.Fatalf("Remember got=%q err=%v", got, err)
		}
	}
	if c.n.Load() != 1 {
		t.Fatalf("computed %d times want 1", c.n.Load())
	}

	entry := keys.Entry(1, keys.Statistics)
	if ttl := mr.TTL(entry); ttl != time.Minute {
		t.Fatalf("redis ttl=%v want 1m", ttl)
	}
	if ok, _ := mr.SIsMember(keys.LayerIndex(1), entry); !ok {
		t.Fatalf("entry not recorded in layer index")
	}
}

func TestRemember_ExpiredEntryIsRecomputed(t *testing.T) {
	v, mr := newRedisViews(t, ViewsOptions{})
	ctx := context.Background()
	var c counter

	_, _ = v.Remember(ctx, 1, keys.Zoom(3), time.Second, c.fn("a"))
	mr.FastForward(2 * time.Second)
	got, err := v.Remember(ctx, 1, keys.Zoom(3), time.Second, c.fn("b"))
	if err != nil || string(got) != "b" {
		t.Fatalf("after expiry got=%q err=%v", got, err)
	}
	if c.n.Load() != 2 {
		t.Fatalf("computed %d times want 2", c.n.Load())
	}
}

func TestRemember_ZeroTTLNeverExpires(t *testing.T) {
	v, mr := newRedisViews(t, ViewsOptions{})
	_, _ = v.Remember(context.Background(), 1, keys.Zoom(1), 0, (&counter{}).fn("x"))
	if ttl := mr.TTL(keys.Entry(1, keys.Zoom(1))); ttl != 0 {
		t.Fatalf("ttl=%v want none", ttl)
	}
}

func TestRemember_ErrorIsNotCached(t *testing.T) {
	v, mr := newRedisViews(t, ViewsOptions{LocalSize: 8})
	boom := errors.New("boom")

	_, err := v.Remember(context.Background(), 1, keys.Statistics, time.Minute,
		func(context.Context) ([]byte, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
	if mr.Exists(keys.Entry(1, keys.Statistics)) {
		t.Fatalf("failed computation was cached")
	}
}

func TestRemember_RedisDownDegradesToCompute(t *testing.T) {
	v, mr := newRedisViews(t, ViewsOptions{OpTimeout: 100 * time.Millisecond})
	mr.Close()

	var c counter
	got, err := v.Remember(context.Background(), 1, keys.Statistics, time.Minute, c.fn("s"))
	if err != nil || string(got) != "s" {
		t.Fatalf("got=%q err=%v", got, err)
	}
}

func TestForget_SingleKeyAndWholeLayer(t *testing.T) {
	v, mr := newRedisViews(t, ViewsOptions{LocalSize: 16})
	ctx := context.Background()
	var c counter

	_, _ = v.Remember(ctx, 1, keys.Zoom(1), time.Minute, c.fn("z1"))
	_, _ = v.Remember(ctx, 1, keys.Zoom(2), time.Minute, c.fn("z2"))
	_, _ = v.Remember(ctx, 2, keys.Zoom(1), time.Minute, c.fn("other"))

	if err := v.Forget(ctx, 1, keys.Zoom(1)); err != nil {
		t.Fatalf("Forget key: %v", err)
	}
	if mr.Exists(keys.Entry(1, keys.Zoom(1))) || !mr.Exists(keys.Entry(1, keys.Zoom(2))) {
		t.Fatalf("Forget(key) removed the wrong entries")
	}

	if err := v.Forget(ctx, 1); err != nil {
		t.Fatalf("Forget layer: %v", err)
	}
	if mr.Exists(keys.Entry(1, keys.Zoom(2))) || mr.Exists(keys.LayerIndex(1)) {
		t.Fatalf("Forget(layer) left entries behind: %v", mr.Keys())
	}
	if !mr.Exists(keys.Entry(2, keys.Zoom(1))) {
		t.Fatalf("Forget(layer) touched another layer")
	}

	before := c.n.Load()
	got, _ := v.Remember(ctx, 1, keys.Zoom(2), time.Minute, c.fn("fresh"))
	if string(got) != "fresh" || c.n.Load() != before+1 {
		t.Fatalf("local tier kept a forgotten entry: %q", got)
	}
}

func TestLocalOnly_MaxAgeBoundsEntries(t *testing.T) {
	now := time.Unix(0, 0)
	v, err := NewViews(nil, nil, ViewsOptions{
		LocalSize:   4,
		LocalMaxAge: time.Second,
		Now:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewViews: %v", err)
	}
	ctx := context.Background()
	var c counter

	_, _ = v.Remember(ctx, 1, keys.Statistics, 0, c.fn("a"))
	_, _ = v.Remember(ctx, 1, keys.Statistics, 0, c.fn("a"))
	if c.n.Load() != 1 {
		t.Fatalf("local tier missed: computed %d", c.n.Load())
	}

	now = now.Add(2 * time.Second)
	_, _ = v.Remember(ctx, 1, keys.Statistics, 0, c.fn("a"))
	if c.n.Load() != 2 {
		t.Fatalf("entry outlived max age: computed %d", c.n.Load())
	}

	if err := v.Forget(ctx, 1); err != nil {
		t.Fatalf("Forget: %v", err)
	}
}
