// Package reaper fails layers left in processing longer than any job could
// have run, e.g. after a worker died between attempts.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mohammed-shakir/estate-geolayers/internal/core/observability"
	"github.com/mohammed-shakir/estate-geolayers/internal/layer"
)

// Message is stored on every reaped layer.
const Message = "processing timed out"

type Options struct {
	Logger *slog.Logger
	// Schedule is a cron spec with an optional seconds field or a
	// descriptor such as "@every 5m".
	Schedule   string
	StaleAfter time.Duration
	Now        func() time.Time
}

type Reaper struct {
	repo     layer.Repository
	cron     *cron.Cron
	schedule string
	stale    time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
}

func New(repo layer.Repository, opts Options) (*Reaper, error) {
	if opts.StaleAfter <= 0 {
		return nil, errors.New("reaper: stale-after must be positive")
	}
	if opts.Schedule == "" {
		opts.Schedule = "@every 5m"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	cl := cronLogger{log: opts.Logger}
	return &Reaper{
		repo: repo,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		schedule: opts.Schedule,
		stale:    opts.StaleAfter,
		log:      opts.Logger,
		now:      opts.Now,
	}, nil
}

// Start schedules sweeps until Stop is called. ctx bounds each sweep.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("reaper already running")
	}
	if _, err := r.cron.AddFunc(r.schedule, func() {
		if _, err := r.Sweep(ctx); err != nil {
			r.log.Error("reaper sweep failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("reaper schedule %q: %w", r.schedule, err)
	}
	r.cron.Start()
	r.running = true
	r.log.Info("reaper started", "schedule", r.schedule, "stale_after", r.stale)
	return nil
}

// Stop waits for a running sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	<-r.cron.Stop().Done()
	r.running = false
}

// Sweep marks every layer that has been processing since before the stale
// cutoff as failed and returns how many it marked.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.stale)
	stale, err := r.repo.ListStale(ctx, layer.StatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale layers: %w", err)
	}
	n := 0
	var errs []error
	for _, l := range stale {
		if err := r.repo.Update(ctx, l.ID, layer.MarkError(Message)); err != nil {
			errs = append(errs, fmt.Errorf("layer %d: %w", l.ID, err))
			continue
		}
		n++
		r.log.Warn("stale layer marked failed", "layer_id", l.ID, "since", l.UpdatedAt)
	}
	observability.AddReaped(n)
	return n, errors.Join(errs...)
}

// cronLogger routes cron's own logging into slog.
type cronLogger struct{ log *slog.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	c.log.Debug("cron: "+msg, kv...)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.log.Error("cron: "+msg, append(kv, "err", err)...)
}
