package service

import (
	"context"
	"encoding/json"
	"fmt"

	"tokenbank/internal/ledger/models"
	"tokenbank/internal/storage"
	"tokenbank/pkg/domain"
	"tokenbank/pkg/platform/outbox"
	"tokenbank/pkg/requestcontext"
)

// EventSource exposes the ledger journal to the outbox relay. Messages are
// keyed by account (registry for registry-level events) so consumers see each
// account's transitions in commit order.
type EventSource struct {
	tx storage.Tx
}

func NewEventSource(tx storage.Tx) *EventSource {
	return &EventSource{tx: tx}
}

func (s *EventSource) Pending(ctx context.Context, limit int) ([]outbox.Message, error) {
	var events []*models.Event
	err := s.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		var err error
		events, err = stores.Events().ListUnpublished(ctx, limit)
		return err
	})
	if err != nil {
		return nil, err
	}

	msgs := make([]outbox.Message, 0, len(events))
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		msgs = append(msgs, outbox.Message{
			ID:         e.ID.String(),
			Key:        eventKey(e),
			Kind:       string(e.Kind),
			Payload:    payload,
			OccurredAt: e.OccurredAt,
		})
	}
	return msgs, nil
}

func (s *EventSource) Ack(ctx context.Context, ids []string) error {
	eventIDs := make([]domain.EventID, len(ids))
	for i, id := range ids {
		parsed, err := domain.ParseEventID(id)
		if err != nil {
			return err
		}
		eventIDs[i] = parsed
	}
	now := requestcontext.Now(ctx)
	return s.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		return stores.Events().MarkPublished(ctx, eventIDs, now)
	})
}

func eventKey(e *models.Event) string {
	if !e.AccountID.IsNil() {
		return e.AccountID.String()
	}
	return e.RegistryID.String()
}
