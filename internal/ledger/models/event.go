package models

import (
	"time"

	"tokenbank/pkg/domain"
)

// EventKind names a committed ledger transition.
type EventKind string

const (
	EventRegistryInitialized EventKind = "registry_initialized"
	EventAccountInitialized  EventKind = "account_initialized"
	EventTokenWhitelisted    EventKind = "token_whitelisted"
	EventDeposited           EventKind = "deposited"
	EventWithdrawn           EventKind = "withdrawn"
)

// Event is the journal record of one committed transition. It is written in
// the same transaction as the state change and later relayed by the outbox.
type Event struct {
	ID          domain.EventID    `json:"id"`
	Kind        EventKind         `json:"kind"`
	RegistryID  domain.RegistryID `json:"registry_id"`
	AccountID   domain.AccountID  `json:"account_id,omitzero"`
	Token       domain.TokenType  `json:"token,omitempty"`
	Amount      domain.Amount     `json:"amount,omitzero"`
	Actor       domain.Identity   `json:"actor"`
	RequestID   string            `json:"request_id,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
}

func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	out := *e
	if e.PublishedAt != nil {
		at := *e.PublishedAt
		out.PublishedAt = &at
	}
	return &out
}
