package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/estate-geolayers/internal/ingest"
	"github.com/mohammed-shakir/estate-geolayers/internal/layer"
	"github.com/mohammed-shakir/estate-geolayers/internal/layer/memrepo"
)

type scripted struct {
	mu       sync.Mutex
	errs     []error
	attempts []ingest.Attempt
	block    bool
}

func (s *scripted) Process(ctx context.Context, _ uint64, at ingest.Attempt) error {
	s.mu.Lock()
	s.attempts = append(s.attempts, at)
	n := len(s.attempts)
	block := s.block
	var err error
	if n <= len(s.errs) {
		err = s.errs[n-1]
	}
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (s *scripted) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

type hookRecorder struct {
	mu    sync.Mutex
	calls []error
}

func (h *hookRecorder) hook(_ context.Context, _ uint64, err error) {
	h.mu.Lock()
	h.calls = append(h.calls, err)
	h.mu.Unlock()
}

func noSleep(r *Runner) *Runner {
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func TestRunner_SucceedsAfterRetry(t *testing.T) {
	p := &scripted{errs: []error{errors.New("flaky"), nil}}
	h := &hookRecorder{}
	r := noSleep(NewRunner(p, Policy{MaxAttempts: 3, Timeout: time.Minute}, RunnerOptions{Failed: h.hook}))

	if err := r.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.count() != 2 {
		t.Fatalf("attempts=%d want 2", p.count())
	}
	if p.attempts[1].Number != 2 || p.attempts[1].Max != 3 {
		t.Fatalf("second attempt=%+v", p.attempts[1])
	}
	if len(h.calls) != 0 {
		t.Fatalf("failed hook must not run on success")
	}
}

func TestRunner_ExhaustedCallsHookOnce(t *testing.T) {
	boom := errors.New("boom")
	p := &scripted{errs: []error{boom, boom, boom, boom}}
	h := &hookRecorder{}
	r := noSleep(NewRunner(p, Policy{MaxAttempts: 3, Timeout: time.Minute}, RunnerOptions{Failed: h.hook}))

	before := time.Now()
	err := r.Run(context.Background(), 1)
	if !errors.Is(err, boom) {
		t.Fatalf("Run err=%v want boom", err)
	}
	if p.count() != 3 {
		t.Fatalf("attempts=%d want 3", p.count())
	}
	if len(h.calls) != 1 || !errors.Is(h.calls[0], boom) {
		t.Fatalf("hook calls=%v", h.calls)
	}
	dl := p.attempts[0].Deadline
	if dl.Before(before.Add(time.Minute)) || dl.After(time.Now().Add(time.Minute)) {
		t.Fatalf("deadline %v not one timeout from start", dl)
	}
}

func TestRunner_PermanentErrorSkipsRetries(t *testing.T) {
	perm := &ingest.StepError{Kind: ingest.MalformedDocument, Step: ingest.StepParse, Err: errors.New("bad")}
	p := &scripted{errs: []error{perm}}
	h := &hookRecorder{}
	r := noSleep(NewRunner(p, Policy{MaxAttempts: 3, Timeout: time.Minute}, RunnerOptions{
		Failed:    h.hook,
		Retryable: ingest.Retryable,
	}))

	if err := r.Run(context.Background(), 1); !errors.Is(err, ingest.MalformedDocument) {
		t.Fatalf("Run err=%v", err)
	}
	if p.count() != 1 || len(h.calls) != 1 {
		t.Fatalf("attempts=%d hooks=%d want 1/1", p.count(), len(h.calls))
	}
}

func TestRunner_TimeoutCountsAsFailedAttempt(t *testing.T) {
	p := &scripted{block: true}
	h := &hookRecorder{}
	r := noSleep(NewRunner(p, Policy{MaxAttempts: 2, Timeout: 20 * time.Millisecond}, RunnerOptions{Failed: h.hook}))

	err := r.Run(context.Background(), 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run err=%v want deadline exceeded", err)
	}
	if p.count() != 2 || len(h.calls) != 1 {
		t.Fatalf("attempts=%d hooks=%d want 2/1", p.count(), len(h.calls))
	}
}

func TestRunner_CancelledContextSkipsHook(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &scripted{block: true}
	h := &hookRecorder{}
	r := NewRunner(p, Policy{MaxAttempts: 3, Timeout: time.Minute}, RunnerOptions{Failed: h.hook})

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if err := r.Run(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err=%v want canceled", err)
	}
	if len(h.calls) != 0 {
		t.Fatalf("hook must not run on shutdown")
	}
}

func TestRunner_RecoversPanics(t *testing.T) {
	h := &hookRecorder{}
	r := noSleep(NewRunner(panicky{}, Policy{MaxAttempts: 1, Timeout: time.Second}, RunnerOptions{Failed: h.hook}))
	if err := r.Run(context.Background(), 1); err == nil {
		t.Fatalf("expected error from panicking processor")
	}
	if len(h.calls) != 1 {
		t.Fatalf("hook calls=%d want 1", len(h.calls))
	}
}

type panicky struct{}

func (panicky) Process(context.Context, uint64, ingest.Attempt) error { panic("nil map") }

func TestMarkFailed_LeavesLayerInError(t *testing.T) {
	ctx := context.Background()
	repo := memrepo.New()
	l := layer.New(1, "x", "a.geojson")
	if err := repo.Create(ctx, l); err != nil {
		t.Fatal(err)
	}
	MarkFailed(repo, nil)(ctx, l.ID, errors.New("read: file not found: a.geojson"))

	got, _ := repo.Load(ctx, l.ID)
	if got.Status != layer.StatusError || got.ErrorMessage == nil || *got.ErrorMessage != "read: file not found: a.geojson" {
		t.Fatalf("layer after hook: %+v", got)
	}
}

func TestPool_RunsQueuedJobsAndDrainsOnClose(t *testing.T) {
	p := &scripted{}
	r := NewRunner(p, Policy{MaxAttempts: 1, Timeout: time.Second}, RunnerOptions{})
	pool := NewPool(context.Background(), r, PoolOptions{Workers: 2, Queue: 8})

	for id := range uint64(5) {
		if err := pool.Dispatch(context.Background(), id+1); err != nil {
			t.Fatalf("Dispatch(%d): %v", id+1, err)
		}
	}
	pool.Close()
	if p.count() != 5 {
		t.Fatalf("processed=%d want 5", p.count())
	}
	if err := pool.Submit(9); !errors.Is(err, ErrClosed) {
		t.Fatalf("Submit after Close err=%v", err)
	}
	if ok, _ := pool.Readiness(); ok {
		t.Fatalf("closed pool must not be ready")
	}
	pool.Close()
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	proc := gate{release: release, started: started}
	r := NewRunner(proc, Policy{MaxAttempts: 1, Timeout: time.Minute}, RunnerOptions{})
	pool := NewPool(context.Background(), r, PoolOptions{Workers: 1, Queue: 1})

	if err := pool.Submit(1); err != nil {
		t.Fatalf("Submit 1: %v", err)
	}
	<-started
	if err := pool.Submit(2); err != nil {
		t.Fatalf("Submit 2: %v", err)
	}
	if err := pool.Submit(3); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit 3 err=%v want ErrQueueFull", err)
	}
	close(release)
	pool.Close()
}

type gate struct {
	release chan struct{}
	started chan struct{}
}

func (g gate) Process(ctx context.Context, _ uint64, _ ingest.Attempt) error {
	select {
	case g.started <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return nil
}
