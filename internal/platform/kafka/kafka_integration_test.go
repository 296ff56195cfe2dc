//go:build integration

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"tokenbank/internal/platform/config"
	"tokenbank/pkg/platform/outbox"
	"tokenbank/pkg/testutil/containers"
)

func TestPublisherDeliversKeyedRecords(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	rp := containers.GetManager().GetRedpanda(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg := config.KafkaConfig{Brokers: []string{rp.Broker}, Topic: "ledger-events-test", ClientID: "tokenbank-test"}
	client, err := NewClient(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, EnsureTopic(ctx, client, cfg.Topic, 1, 1))
	// Creating an existing topic is not an error.
	require.NoError(t, EnsureTopic(ctx, client, cfg.Topic, 1, 1))

	occurred := time.Now().UTC().Truncate(time.Millisecond)
	pub := NewPublisher(client, cfg.Topic)
	require.NoError(t, pub.Publish(ctx, []outbox.Message{
		{ID: "e1", Key: "acct-1", Kind: "deposited", Payload: []byte(`{"amount":100}`), OccurredAt: occurred},
		{ID: "e2", Key: "acct-1", Kind: "withdrawn", Payload: []byte(`{"amount":40}`), OccurredAt: occurred},
	}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Broker),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	var records []*kgo.Record
	for len(records) < 2 {
		fetches := consumer.PollFetches(ctx)
		require.NoError(t, ctx.Err())
		fetches.EachRecord(func(r *kgo.Record) {
			records = append(records, r)
		})
	}

	require.Len(t, records, 2)
	assert.Equal(t, "acct-1", string(records[0].Key))
	assert.JSONEq(t, `{"amount":100}`, string(records[0].Value))
	assert.Equal(t, []kgo.RecordHeader{
		{Key: HeaderEventID, Value: []byte("e1")},
		{Key: HeaderEventKind, Value: []byte("deposited")},
	}, records[0].Headers)
	assert.Equal(t, "e2", string(records[1].Headers[0].Value))
}

func TestNewClientRequiresBrokers(t *testing.T) {
	_, err := NewClient(context.Background(), config.KafkaConfig{})
	assert.Error(t, err)
}
