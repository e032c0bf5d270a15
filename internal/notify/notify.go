// Package notify announces private data changes on a Kafka topic so a
// holder's other devices know to pull and merge.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// DefaultTopic carries Change records keyed by wallet id.
const DefaultTopic = "wallet.private-data.changed"

// Change is published after a private data write was accepted.
type Change struct {
	WalletID  string    `json:"walletId"`
	DeviceID  string    `json:"deviceId,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Record encodes c. The key is the wallet id, so one wallet's changes stay
// ordered within a partition.
func (c Change) Record(topic string) (*kgo.Record, error) {
	value, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode change: %w", err)
	}
	return &kgo.Record{Topic: topic, Key: []byte(c.WalletID), Value: value}, nil
}

// DecodeChange decodes a record written by Publish.
func DecodeChange(r *kgo.Record) (Change, error) {
	var c Change
	if err := json.Unmarshal(r.Value, &c); err != nil {
		return Change{}, fmt.Errorf("decode change at offset %d: %w", r.Offset, err)
	}
	return c, nil
}

type Option func(*config)

type config struct {
	logger *slog.Logger
	extra  []kgo.Opt
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithClientOpts passes extra options to the franz-go client.
func WithClientOpts(opts ...kgo.Opt) Option {
	return func(c *config) {
		c.extra = append(c.extra, opts...)
	}
}

func newConfig(opts []Option) config {
	cfg := config{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// KafkaPublisher produces Change records.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, opts ...Option) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	cfg := newConfig(opts)
	clientOpts := append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}, cfg.extra...)
	client, err := kgo.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic, logger: cfg.logger}, nil
}

// Publish produces c and waits for the broker to acknowledge it.
func (p *KafkaPublisher) Publish(ctx context.Context, c Change) error {
	rec, err := c.Record(p.topic)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce change for wallet %s: %w", c.WalletID, err)
	}
	p.logger.DebugContext(ctx, "published private data change",
		"wallet_id", c.WalletID,
		"version", c.Version,
	)
	return nil
}

// EnsureTopic creates the publisher's topic if it does not exist.
func (p *KafkaPublisher) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	return EnsureTopic(ctx, p.client, p.topic, partitions, replicationFactor)
}

// Close flushes buffered records and closes the client.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	defer p.client.Close()
	return p.client.Flush(ctx)
}

// EnsureTopic creates topic through the admin API, treating an existing
// topic as success.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// KafkaSubscriber consumes Change records as part of a consumer group.
type KafkaSubscriber struct {
	client *kgo.Client
	logger *slog.Logger
}

func NewKafkaSubscriber(brokers []string, topic, group string, opts ...Option) (*KafkaSubscriber, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	cfg := newConfig(opts)
	clientOpts := append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumerGroup(group),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	}, cfg.extra...)
	client, err := kgo.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaSubscriber{client: client, logger: cfg.logger}, nil
}

// Run polls until ctx is done, calling fn for each decoded change. A record
// that does not decode is logged and skipped; an error from fn stops Run.
func (s *KafkaSubscriber) Run(ctx context.Context, fn func(context.Context, Change) error) error {
	for {
		fetches := s.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return nil
		}
		for _, fe := range fetches.Errors() {
			s.logger.WarnContext(ctx, "kafka fetch error",
				"topic", fe.Topic,
				"partition", fe.Partition,
				"error", fe.Err,
			)
		}

		var handlerErr error
		fetches.EachRecord(func(r *kgo.Record) {
			if handlerErr != nil {
				return
			}
			change, err := DecodeChange(r)
			if err != nil {
				s.logger.WarnContext(ctx, "skipping undecodable change", "error", err)
				return
			}
			handlerErr = fn(ctx, change)
		})
		if handlerErr != nil {
			return handlerErr
		}
	}
}

func (s *KafkaSubscriber) Close() {
	s.client.Close()
}
