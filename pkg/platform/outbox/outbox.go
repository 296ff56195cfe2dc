// Package outbox relays messages committed to a transactional store to an
// external broker. Delivery is at least once: a batch is acknowledged only
// after the publisher accepted it, so a crash between the two re-sends it and
// consumers deduplicate on Message.ID.
package outbox

//go:generate mockgen -source=outbox.go -destination=mocks/mocks.go -package=mocks Source,Publisher

import (
	"context"
	"time"
)

// Message is one unpublished record.
type Message struct {
	ID         string
	Key        string
	Kind       string
	Payload    []byte
	OccurredAt time.Time
}

// Source hands out pending messages oldest first and records acknowledgements.
type Source interface {
	Pending(ctx context.Context, limit int) ([]Message, error)
	Ack(ctx context.Context, ids []string) error
}

// Publisher delivers a batch. A nil error means every message was accepted.
type Publisher interface {
	Publish(ctx context.Context, msgs []Message) error
}
