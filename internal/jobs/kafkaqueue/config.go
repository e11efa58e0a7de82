package kafkaqueue

import (
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/estate-geolayers/internal/core/config"
)

type Config struct {
	Brokers []string
	Topic   string
	GroupID string

	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool
}

// FromConfig fills the group timings the way every deployment runs them.
func FromConfig(c config.KafkaCfg) Config {
	return Config{
		Brokers:          c.Brokers,
		Topic:            c.Topic,
		GroupID:          c.GroupID,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		InitialOldest:    true,
	}
}

func (c Config) consumerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = c.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.RebalanceTimeout
	if c.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true
	return cfg
}

func (c Config) producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	return cfg
}
