package outbox_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"tokenbank/pkg/platform/circuit"
	"tokenbank/pkg/platform/outbox"
	"tokenbank/pkg/platform/outbox/mocks"
)

type RelaySuite struct {
	suite.Suite
	ctx       context.Context
	ctrl      *gomock.Controller
	source    *mocks.MockSource
	publisher *mocks.MockPublisher
	metrics   *outbox.Metrics
	breaker   *circuit.Breaker
	relay     *outbox.Relay
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.source = mocks.NewMockSource(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)
	s.metrics = outbox.NewMetricsWith(prometheus.NewRegistry())
	s.breaker = circuit.New("test", circuit.WithFailureThreshold(1), circuit.WithCooldown(time.Hour))

	relay, err := outbox.NewRelay(s.source, s.publisher,
		outbox.WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
		outbox.WithMetrics(s.metrics),
		outbox.WithBreaker(s.breaker),
		outbox.WithBatchSize(10),
		outbox.WithRetries(2, time.Millisecond),
	)
	s.Require().NoError(err)
	s.relay = relay
}

func batch(ids ...string) []outbox.Message {
	msgs := make([]outbox.Message, len(ids))
	for i, id := range ids {
		msgs[i] = outbox.Message{ID: id, Key: "acct", Kind: "deposited", Payload: []byte(`{}`)}
	}
	return msgs
}

func (s *RelaySuite) TestPublishesThenAcknowledges() {
	msgs := batch("e1", "e2")
	gomock.InOrder(
		s.source.EXPECT().Pending(gomock.Any(), 10).Return(msgs, nil),
		s.publisher.EXPECT().Publish(gomock.Any(), msgs).Return(nil),
		s.source.EXPECT().Ack(gomock.Any(), []string{"e1", "e2"}).Return(nil),
	)

	n, err := s.relay.RelayOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal(2.0, testutil.ToFloat64(s.metrics.Published))
}

func (s *RelaySuite) TestEmptyBatchPublishesNothing() {
	s.source.EXPECT().Pending(gomock.Any(), 10).Return(nil, nil)

	n, err := s.relay.RelayOnce(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *RelaySuite) TestTransientPublishFailureIsRetried() {
	msgs := batch("e1")
	s.source.EXPECT().Pending(gomock.Any(), 10).Return(msgs, nil)
	gomock.InOrder(
		s.publisher.EXPECT().Publish(gomock.Any(), msgs).Return(errors.New("leader not available")),
		s.publisher.EXPECT().Publish(gomock.Any(), msgs).Return(nil),
	)
	s.source.EXPECT().Ack(gomock.Any(), []string{"e1"}).Return(nil)

	n, err := s.relay.RelayOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.False(s.breaker.IsOpen())
}

func (s *RelaySuite) TestExhaustedRetriesOpenBreakerWithoutAck() {
	msgs := batch("e1")
	s.source.EXPECT().Pending(gomock.Any(), 10).Return(msgs, nil).Times(1)
	s.publisher.EXPECT().Publish(gomock.Any(), msgs).Return(errors.New("broker down")).Times(3)

	_, err := s.relay.RelayOnce(s.ctx)
	s.Require().Error(err)
	s.True(s.breaker.IsOpen())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Failures))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.BreakerOpen))

	// While open, the store is not even read.
	n, err := s.relay.RelayOnce(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Skipped))
}

func (s *RelaySuite) TestAckFailureIsReported() {
	msgs := batch("e1")
	s.source.EXPECT().Pending(gomock.Any(), 10).Return(msgs, nil)
	s.publisher.EXPECT().Publish(gomock.Any(), msgs).Return(nil)
	s.source.EXPECT().Ack(gomock.Any(), []string{"e1"}).Return(errors.New("db gone"))

	_, err := s.relay.RelayOnce(s.ctx)
	s.Require().Error(err)
	s.Zero(testutil.ToFloat64(s.metrics.Published))
}

func (s *RelaySuite) TestRunStopsOnCancel() {
	ctx, cancel := context.WithCancel(s.ctx)
	s.source.EXPECT().Pending(gomock.Any(), 10).DoAndReturn(func(context.Context, int) ([]outbox.Message, error) {
		cancel()
		return nil, nil
	}).MinTimes(1)

	err := s.relay.Run(ctx)
	s.ErrorIs(err, context.Canceled)
}

func TestNewRelayRequiresDependencies(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, err := outbox.NewRelay(nil, mocks.NewMockPublisher(ctrl))
	if err == nil {
		t.Fatal("expected error for missing source")
	}
	_, err = outbox.NewRelay(mocks.NewMockSource(ctrl), nil)
	if err == nil {
		t.Fatal("expected error for missing publisher")
	}
}
