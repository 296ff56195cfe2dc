package domain

import (
	"github.com/google/uuid"

	dErrors "tokenbank/pkg/domain-errors"
)

// Typed handles keep registry, account, holding and event references from
// being swapped at call sites. All of them are non-nil UUIDs.
type (
	RegistryID uuid.UUID
	AccountID  uuid.UUID
	HoldingID  uuid.UUID
	EventID    uuid.UUID
)

func NewRegistryID() RegistryID { return RegistryID(uuid.New()) }
func NewAccountID() AccountID   { return AccountID(uuid.New()) }
func NewHoldingID() HoldingID   { return HoldingID(uuid.New()) }
func NewEventID() EventID       { return EventID(uuid.New()) }

func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return u, nil
}

func ParseRegistryID(s string) (RegistryID, error) {
	u, err := parseUUID(s, "registry id")
	return RegistryID(u), err
}

func ParseAccountID(s string) (AccountID, error) {
	u, err := parseUUID(s, "account id")
	return AccountID(u), err
}

func ParseHoldingID(s string) (HoldingID, error) {
	u, err := parseUUID(s, "holding id")
	return HoldingID(u), err
}

func ParseEventID(s string) (EventID, error) {
	u, err := parseUUID(s, "event id")
	return EventID(u), err
}

func (id RegistryID) String() string { return uuid.UUID(id).String() }
func (id AccountID) String() string  { return uuid.UUID(id).String() }
func (id HoldingID) String() string  { return uuid.UUID(id).String() }
func (id EventID) String() string    { return uuid.UUID(id).String() }

func (id RegistryID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id AccountID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id HoldingID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id RegistryID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id AccountID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id HoldingID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id EventID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }

func (id *RegistryID) UnmarshalText(b []byte) error {
	parsed, err := ParseRegistryID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *AccountID) UnmarshalText(b []byte) error {
	parsed, err := ParseAccountID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *HoldingID) UnmarshalText(b []byte) error {
	parsed, err := ParseHoldingID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *EventID) UnmarshalText(b []byte) error {
	parsed, err := ParseEventID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
