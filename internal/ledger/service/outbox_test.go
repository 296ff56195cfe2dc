package service

import (
	"context"
	"encoding/json"
	"sync"

	"tokenbank/internal/ledger/models"
	"tokenbank/pkg/platform/outbox"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []outbox.Message
}

func (p *recordingPublisher) Publish(_ context.Context, msgs []outbox.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func (s *ProcessorSuite) TestOutboxRelaysJournalOnce() {
	s.whitelist(tkn)
	_, err := s.deposit(250)
	s.Require().NoError(err)

	pub := &recordingPublisher{}
	relay, err := outbox.NewRelay(NewEventSource(s.backend), pub, outbox.WithBatchSize(50))
	s.Require().NoError(err)

	n, err := relay.RelayOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(4, n)

	kinds := make([]string, 0, len(pub.msgs))
	for _, m := range pub.msgs {
		kinds = append(kinds, m.Kind)
	}
	s.Equal([]string{
		string(models.EventRegistryInitialized),
		string(models.EventAccountInitialized),
		string(models.EventTokenWhitelisted),
		string(models.EventDeposited),
	}, kinds)
	s.Equal(s.registry.ID.String(), pub.msgs[0].Key)
	s.Equal(s.account.ID.String(), pub.msgs[3].Key)

	var deposited models.Event
	s.Require().NoError(json.Unmarshal(pub.msgs[3].Payload, &deposited))
	s.Equal(s.account.ID, deposited.AccountID)
	s.EqualValues(250, deposited.Amount)
	s.Equal(s.user.Identity, deposited.Actor)

	n, err = relay.RelayOnce(s.ctx)
	s.Require().NoError(err)
	s.Zero(n, "acknowledged events are not relayed again")

	events, err := s.processor.ListAccountEvents(s.ctx, s.account.ID, 0)
	s.Require().NoError(err)
	for _, e := range events {
		s.NotNil(e.PublishedAt)
	}
}

func (s *ProcessorSuite) TestEventSourceRejectsMalformedAck() {
	err := NewEventSource(s.backend).Ack(s.ctx, []string{"not-a-uuid"})
	s.Require().Error(err)
}
