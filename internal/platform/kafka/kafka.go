// Package kafka connects to the event broker and publishes relayed ledger
// events with franz-go.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"tokenbank/internal/platform/config"
	"tokenbank/pkg/platform/outbox"
)

// Header names set on every record.
const (
	HeaderEventID   = "event-id"
	HeaderEventKind = "event-kind"
)

// NewClient builds a producer client for the configured brokers and checks
// that at least one is reachable.
func NewClient(ctx context.Context, cfg config.KafkaConfig) (*kgo.Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchMaxBytes(1<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping kafka: %w", err)
	}
	return client, nil
}

// EnsureTopic creates topic if it does not exist yet.
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

// Publisher produces outbox messages synchronously so the relay acknowledges
// only what the broker accepted. Records are keyed by Message.Key, which
// keeps one account's events ordered within a partition.
type Publisher struct {
	client  *kgo.Client
	topic   string
	timeout time.Duration
}

func NewPublisher(client *kgo.Client, topic string) *Publisher {
	return &Publisher{client: client, topic: topic, timeout: 10 * time.Second}
}

func (p *Publisher) Publish(ctx context.Context, msgs []outbox.Message) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	records := make([]*kgo.Record, len(msgs))
	for i, m := range msgs {
		records[i] = &kgo.Record{
			Topic:     p.topic,
			Key:       []byte(m.Key),
			Value:     m.Payload,
			Timestamp: m.OccurredAt,
			Headers: []kgo.RecordHeader{
				{Key: HeaderEventID, Value: []byte(m.ID)},
				{Key: HeaderEventKind, Value: []byte(m.Kind)},
			},
		}
	}
	return p.client.ProduceSync(ctx, records...).FirstErr()
}
