package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/mohammed-shakir/estate-geolayers/internal/core/observability"
)

var (
	ErrQueueFull = errors.New("jobs: queue full")
	ErrClosed    = errors.New("jobs: pool closed")
)

type PoolOptions struct {
	Workers int
	Queue   int
	Logger  *slog.Logger
}

// Pool is a bounded in-process dispatcher: a fixed set of workers drains a
// buffered queue of layer ids through a Runner.
type Pool struct {
	runner *Runner
	queue  chan uint64
	log    *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts the workers. They stop once Close has drained the queue;
// cancelling ctx aborts in-flight runs.
func NewPool(ctx context.Context, r *Runner, opts PoolOptions) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Queue < 0 {
		opts.Queue = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &Pool{
		runner: r,
		queue:  make(chan uint64, opts.Queue),
		log:    opts.Logger,
	}
	for range opts.Workers {
		p.wg.Add(1)
		go p.work(ctx)
	}
	return p
}

func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()
	for id := range p.queue {
		observability.SetJobQueueDepth(len(p.queue))
		if err := p.runner.Run(ctx, id); err != nil {
			p.log.Debug("pool job finished with error", "layer_id", id, "err", err)
		}
	}
}

// Submit enqueues layerID without blocking.
func (p *Pool) Submit(layerID uint64) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- layerID:
		observability.SetJobQueueDepth(len(p.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) Dispatch(_ context.Context, layerID uint64) error {
	return p.Submit(layerID)
}

// Close stops accepting work and waits for queued jobs to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}

// Readiness reports the pool as ready until it is closed.
func (p *Pool) Readiness() (bool, []int32) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed, nil
}
