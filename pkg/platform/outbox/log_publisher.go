package outbox

import (
	"context"
	"log/slog"
)

// LogPublisher writes messages to the log. It is the relay target when no
// broker is configured, so events still leave the store in order.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, msgs []Message) error {
	for _, m := range msgs {
		p.logger.InfoContext(ctx, "ledger event",
			"event_id", m.ID,
			"key", m.Key,
			"kind", m.Kind,
			"occurred_at", m.OccurredAt,
			"payload", string(m.Payload),
		)
	}
	return nil
}
