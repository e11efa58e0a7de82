package kafkaqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/estate-geolayers/internal/core/observability"
)

// JobRunner runs every attempt of one layer's job.
type JobRunner interface {
	Run(ctx context.Context, layerID uint64) error
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
}

// Consumer feeds jobs from the consumer group into a JobRunner. An offset
// is marked only after the run has finished, successfully or with retries
// exhausted, so a crash mid-run redelivers the job.
type Consumer struct {
	log      *slog.Logger
	cfg      Config
	runner   JobRunner
	ms       *metricSet
	dedupe   *jobDedupe
	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func NewConsumer(cfg Config, runner JobRunner, opts Options) *Consumer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Consumer{
		log:    opts.Logger,
		cfg:    cfg,
		runner: runner,
		ms:     newMetricSet(opts.Register),
		dedupe: newJobDedupe(4096),
		assign: map[int32]struct{}{},
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	if c.runner == nil {
		return errors.New("kafkaqueue: runner dependency is required")
	}

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, c.cfg.consumerConfig())
	if err != nil {
		return fmt.Errorf("consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	h := c.handler()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				c.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, []string{c.cfg.Topic}, h); err != nil {
				observability.IncKafkaConsumerError("consume")
				c.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range group.Errors() {
			observability.IncKafkaConsumerError("group")
			c.log.Error("kafka group error", "err", err)
		}
	}()

	c.log.Info("ingest job consumer started",
		"topic", c.cfg.Topic, "group", c.cfg.GroupID, "brokers", c.cfg.Brokers)
	return nil
}

func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.log.Info("ingest job consumer stopped")
}

func (c *Consumer) Readiness() (ready bool, partitions []int32) {
	if !c.assigned.Load() {
		return false, nil
	}
	c.assignMu.RLock()
	defer c.assignMu.RUnlock()
	for p := range c.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

func (c *Consumer) handler() *groupHandler {
	return &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			c.assignMu.Lock()
			c.assigned.Store(true)
			c.assign = map[int32]struct{}{}
			for _, parts := range sess.Claims() {
				for _, p := range parts {
					c.assign[p] = struct{}{}
				}
			}
			c.assignMu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			c.assignMu.Lock()
			c.assigned.Store(false)
			c.assign = map[int32]struct{}{}
			c.assignMu.Unlock()
		},
		process: c.handleMessage,
	}
}

// handleMessage returns an error only when the run was interrupted by
// shutdown; the message then stays unmarked and is redelivered.
func (c *Consumer) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	if !msg.Timestamp.IsZero() {
		c.ms.lagGauge.Set(time.Since(msg.Timestamp).Seconds())
	}

	job, err := decodeJob(msg.Value)
	if err != nil {
		observability.IncKafkaConsumerError("decode")
		c.ms.msgs.WithLabelValues("invalid").Inc()
		c.log.Error("skipping undecodable job",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if c.dedupe.seen(job.JobID) {
		c.ms.msgs.WithLabelValues("duplicate").Inc()
		c.log.Debug("skipping duplicate job", "job_id", job.JobID, "layer_id", job.LayerID)
		return nil
	}

	log := c.log.With("job_id", job.JobID, "layer_id", job.LayerID)
	log.Info("ingest job received", "partition", msg.Partition, "offset", msg.Offset)

	err = c.runner.Run(ctx, job.LayerID)
	c.ms.proc.Observe(time.Since(start).Seconds())
	if err != nil && ctx.Err() != nil {
		c.ms.msgs.WithLabelValues("interrupted").Inc()
		return fmt.Errorf("job %s interrupted: %w", job.JobID, err)
	}
	c.dedupe.done(job.JobID)
	if err != nil {
		c.ms.msgs.WithLabelValues("failed").Inc()
		log.Warn("ingest job failed", "err", err)
		return nil
	}
	c.ms.msgs.WithLabelValues("ok").Inc()
	return nil
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
