// Package jobs runs layer ingestion with bounded attempts and a per-attempt
// timeout, either in process or fed from Kafka.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/estate-geolayers/internal/core/observability"
	"github.com/mohammed-shakir/estate-geolayers/internal/ingest"
	"github.com/mohammed-shakir/estate-geolayers/internal/layer"
)

// Processor is the ingestion entry point a job invokes.
type Processor interface {
	Process(ctx context.Context, layerID uint64, at ingest.Attempt) error
}

// Dispatcher queues a layer for processing.
type Dispatcher interface {
	Dispatch(ctx context.Context, layerID uint64) error
}

// FailedHook is called once all attempts of a job have failed.
type FailedHook func(ctx context.Context, layerID uint64, err error)

type Policy struct {
	MaxAttempts int
	Timeout     time.Duration
	Backoff     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Timeout: 5 * time.Minute, Backoff: 5 * time.Second}
}

type RunnerOptions struct {
	Logger *slog.Logger
	Failed FailedHook
	// Retryable decides whether a failed attempt is worth repeating.
	// Nil retries every failure.
	Retryable func(error) bool
}

type Runner struct {
	proc      Processor
	policy    Policy
	failed    FailedHook
	retryable func(error) bool
	log       *slog.Logger
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
}

func NewRunner(p Processor, policy Policy, opts RunnerOptions) *Runner {
	def := DefaultPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.Timeout <= 0 {
		policy.Timeout = def.Timeout
	}
	if policy.Backoff < 0 {
		policy.Backoff = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Retryable == nil {
		opts.Retryable = func(error) bool { return true }
	}
	return &Runner{
		proc:      p,
		policy:    policy,
		failed:    opts.Failed,
		retryable: opts.Retryable,
		log:       opts.Logger,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func (r *Runner) Policy() Policy { return r.policy }

// Run processes one layer until an attempt succeeds or the policy is
// exhausted. On exhaustion the Failed hook runs before Run returns. A
// cancelled ctx stops between attempts without calling the hook.
func (r *Runner) Run(ctx context.Context, layerID uint64) error {
	var last error
	for n := 1; n <= r.policy.MaxAttempts; n++ {
		at := ingest.Attempt{Number: n, Max: r.policy.MaxAttempts, Deadline: r.now().Add(r.policy.Timeout)}
		last = r.attempt(ctx, layerID, at)
		if last == nil {
			observability.IncJobAttempt("ok")
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("layer %d: %w", layerID, ctx.Err())
		}
		if n == r.policy.MaxAttempts || !r.retryable(last) {
			break
		}
		observability.IncJobAttempt("retry")
		r.log.Warn("ingest attempt failed, retrying",
			"layer_id", layerID, "attempt", n, "max_attempts", r.policy.MaxAttempts, "err", last)
		if err := r.sleep(ctx, r.policy.Backoff); err != nil {
			return fmt.Errorf("layer %d: %w", layerID, err)
		}
	}

	observability.IncJobAttempt("exhausted")
	r.log.Error("ingest job failed", "layer_id", layerID, "err", last)
	if r.failed != nil {
		r.failed(context.WithoutCancel(ctx), layerID, last)
	}
	return last
}

func (r *Runner) attempt(ctx context.Context, layerID uint64, at ingest.Attempt) (err error) {
	actx, cancel := context.WithDeadline(ctx, at.Deadline)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.proc.Process(actx, layerID, at)
}

// MarkFailed is the default Failed hook: it leaves the layer in error with
// the last failure as its message.
func MarkFailed(repo layer.Repository, log *slog.Logger) FailedHook {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, layerID uint64, err error) {
		msg := "processing failed"
		if err != nil {
			msg = err.Error()
		}
		if uerr := repo.Update(ctx, layerID, layer.MarkError(msg)); uerr != nil {
			log.Error("mark layer failed", "layer_id", layerID, "err", uerr)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
