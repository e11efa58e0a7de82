package kafkaqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

// Producer publishes ingestion jobs to the jobs topic.
type Producer struct {
	sp    sarama.SyncProducer
	topic string
	log   *slog.Logger
	now   func() time.Time
}

func NewProducer(cfg Config, log *slog.Logger) (*Producer, error) {
	sp, err := sarama.NewSyncProducer(cfg.Brokers, cfg.producerConfig())
	if err != nil {
		return nil, fmt.Errorf("sync producer: %w", err)
	}
	return NewProducerWith(sp, cfg.Topic, log), nil
}

// NewProducerWith wraps an existing producer.
func NewProducerWith(sp sarama.SyncProducer, topic string, log *slog.Logger) *Producer {
	if log == nil {
		log = slog.Default()
	}
	return &Producer{sp: sp, topic: topic, log: log, now: time.Now}
}

// Dispatch publishes a job for layerID and waits for the broker ack.
func (p *Producer) Dispatch(ctx context.Context, layerID uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job := NewJob(layerID, p.now())
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	part, off, err := p.sp.SendMessage(&sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(job.Key()),
		Value:     sarama.ByteEncoder(b),
		Timestamp: job.RequestedAt,
	})
	if err != nil {
		return fmt.Errorf("publish job for layer %d: %w", layerID, err)
	}
	p.log.Info("ingest job dispatched",
		"layer_id", layerID, "job_id", job.JobID, "partition", part, "offset", off)
	return nil
}

func (p *Producer) Close() error { return p.sp.Close() }
