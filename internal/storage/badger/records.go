package badger

import (
	"fmt"
	"time"

	ledgermodels "tokenbank/internal/ledger/models"
	tokenmodels "tokenbank/internal/token/models"
	"tokenbank/pkg/domain"
)

// Stored forms of the domain models. Fixed-size ids are kept as byte slices
// so the encoding does not depend on how msgpack treats named array types.

type registryRecord struct {
	ID            []byte    `msgpack:"id"`
	Authority     []byte    `msgpack:"authority"`
	AllowedTokens []string  `msgpack:"allowed_tokens"`
	CreatedAt     time.Time `msgpack:"created_at"`
	UpdatedAt     time.Time `msgpack:"updated_at"`
}

type accountRecord struct {
	ID         []byte            `msgpack:"id"`
	RegistryID []byte            `msgpack:"registry_id"`
	Owner      []byte            `msgpack:"owner"`
	Balances   map[string]uint64 `msgpack:"balances"`
	CreatedAt  time.Time         `msgpack:"created_at"`
	UpdatedAt  time.Time         `msgpack:"updated_at"`
}

type vaultRecord struct {
	RegistryID []byte    `msgpack:"registry_id"`
	Token      string    `msgpack:"token"`
	HoldingID  []byte    `msgpack:"holding_id"`
	Authority  []byte    `msgpack:"authority"`
	Bump       uint8     `msgpack:"bump"`
	CreatedAt  time.Time `msgpack:"created_at"`
}

type mintRecord struct {
	Token     string    `msgpack:"token"`
	Decimals  uint8     `msgpack:"decimals"`
	Authority []byte    `msgpack:"authority"`
	Supply    uint64    `msgpack:"supply"`
	CreatedAt time.Time `msgpack:"created_at"`
}

type holdingRecord struct {
	ID        []byte    `msgpack:"id"`
	Owner     []byte    `msgpack:"owner"`
	Token     string    `msgpack:"token"`
	Amount    uint64    `msgpack:"amount"`
	CreatedAt time.Time `msgpack:"created_at"`
	UpdatedAt time.Time `msgpack:"updated_at"`
}

type eventRecord struct {
	Seq         uint64     `msgpack:"seq"`
	ID          []byte     `msgpack:"id"`
	Kind        string     `msgpack:"kind"`
	RegistryID  []byte     `msgpack:"registry_id"`
	AccountID   []byte     `msgpack:"account_id"`
	Token       string     `msgpack:"token"`
	Amount      uint64     `msgpack:"amount"`
	Actor       []byte     `msgpack:"actor"`
	RequestID   string     `msgpack:"request_id"`
	OccurredAt  time.Time  `msgpack:"occurred_at"`
	PublishedAt *time.Time `msgpack:"published_at"`
}

func fixed(dst []byte, src []byte, field string) error {
	if len(src) != len(dst) {
		return fmt.Errorf("stored %s has length %d, want %d", field, len(src), len(dst))
	}
	copy(dst, src)
	return nil
}

func toRegistryRecord(r *ledgermodels.Registry) registryRecord {
	tokens := make([]string, len(r.AllowedTokens))
	for i, t := range r.AllowedTokens {
		tokens[i] = string(t)
	}
	return registryRecord{
		ID:            r.ID[:],
		Authority:     r.Authority[:],
		AllowedTokens: tokens,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (rec registryRecord) model() (*ledgermodels.Registry, error) {
	r := &ledgermodels.Registry{
		AllowedTokens: make([]domain.TokenType, len(rec.AllowedTokens)),
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	if err := fixed(r.ID[:], rec.ID, "registry id"); err != nil {
		return nil, err
	}
	if err := fixed(r.Authority[:], rec.Authority, "registry authority"); err != nil {
		return nil, err
	}
	for i, t := range rec.AllowedTokens {
		r.AllowedTokens[i] = domain.TokenType(t)
	}
	return r, nil
}

func toAccountRecord(a *ledgermodels.Account) accountRecord {
	balances := make(map[string]uint64, len(a.Balances))
	for token, amount := range a.Balances {
		balances[string(token)] = uint64(amount)
	}
	return accountRecord{
		ID:         a.ID[:],
		RegistryID: a.RegistryID[:],
		Owner:      a.Owner[:],
		Balances:   balances,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func (rec accountRecord) model() (*ledgermodels.Account, error) {
	a := &ledgermodels.Account{
		Balances:  make(map[domain.TokenType]domain.Amount, len(rec.Balances)),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if err := fixed(a.ID[:], rec.ID, "account id"); err != nil {
		return nil, err
	}
	if err := fixed(a.RegistryID[:], rec.RegistryID, "account registry id"); err != nil {
		return nil, err
	}
	if err := fixed(a.Owner[:], rec.Owner, "account owner"); err != nil {
		return nil, err
	}
	for token, amount := range rec.Balances {
		a.Balances[domain.TokenType(token)] = domain.Amount(amount)
	}
	return a, nil
}

func toVaultRecord(v *ledgermodels.Vault) vaultRecord {
	return vaultRecord{
		RegistryID: v.RegistryID[:],
		Token:      string(v.Token),
		HoldingID:  v.HoldingID[:],
		Authority:  v.Authority[:],
		Bump:       v.Bump,
		CreatedAt:  v.CreatedAt,
	}
}

func (rec vaultRecord) model() (*ledgermodels.Vault, error) {
	v := &ledgermodels.Vault{Token: domain.TokenType(rec.Token), Bump: rec.Bump, CreatedAt: rec.CreatedAt}
	if err := fixed(v.RegistryID[:], rec.RegistryID, "vault registry id"); err != nil {
		return nil, err
	}
	if err := fixed(v.HoldingID[:], rec.HoldingID, "vault holding id"); err != nil {
		return nil, err
	}
	if err := fixed(v.Authority[:], rec.Authority, "vault authority"); err != nil {
		return nil, err
	}
	return v, nil
}

func toMintRecord(m *tokenmodels.Mint) mintRecord {
	return mintRecord{
		Token:     string(m.Token),
		Decimals:  m.Decimals,
		Authority: m.Authority[:],
		Supply:    uint64(m.Supply),
		CreatedAt: m.CreatedAt,
	}
}

func (rec mintRecord) model() (*tokenmodels.Mint, error) {
	m := &tokenmodels.Mint{
		Token:     domain.TokenType(rec.Token),
		Decimals:  rec.Decimals,
		Supply:    domain.Amount(rec.Supply),
		CreatedAt: rec.CreatedAt,
	}
	if err := fixed(m.Authority[:], rec.Authority, "mint authority"); err != nil {
		return nil, err
	}
	return m, nil
}

func toHoldingRecord(h *tokenmodels.Holding) holdingRecord {
	return holdingRecord{
		ID:        h.ID[:],
		Owner:     h.Owner[:],
		Token:     string(h.Token),
		Amount:    uint64(h.Amount),
		CreatedAt: h.CreatedAt,
		UpdatedAt: h.UpdatedAt,
	}
}

func (rec holdingRecord) model() (*tokenmodels.Holding, error) {
	h := &tokenmodels.Holding{
		Token:     domain.TokenType(rec.Token),
		Amount:    domain.Amount(rec.Amount),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if err := fixed(h.ID[:], rec.ID, "holding id"); err != nil {
		return nil, err
	}
	if err := fixed(h.Owner[:], rec.Owner, "holding owner"); err != nil {
		return nil, err
	}
	return h, nil
}

func toEventRecord(seq uint64, e *ledgermodels.Event) eventRecord {
	return eventRecord{
		Seq:         seq,
		ID:          e.ID[:],
		Kind:        string(e.Kind),
		RegistryID:  e.RegistryID[:],
		AccountID:   e.AccountID[:],
		Token:       string(e.Token),
		Amount:      uint64(e.Amount),
		Actor:       e.Actor[:],
		RequestID:   e.RequestID,
		OccurredAt:  e.OccurredAt,
		PublishedAt: e.PublishedAt,
	}
}

func (rec eventRecord) model() (*ledgermodels.Event, error) {
	e := &ledgermodels.Event{
		Kind:        ledgermodels.EventKind(rec.Kind),
		Token:       domain.TokenType(rec.Token),
		Amount:      domain.Amount(rec.Amount),
		RequestID:   rec.RequestID,
		OccurredAt:  rec.OccurredAt,
		PublishedAt: rec.PublishedAt,
	}
	if err := fixed(e.ID[:], rec.ID, "event id"); err != nil {
		return nil, err
	}
	if err := fixed(e.RegistryID[:], rec.RegistryID, "event registry id"); err != nil {
		return nil, err
	}
	if err := fixed(e.AccountID[:], rec.AccountID, "event account id"); err != nil {
		return nil, err
	}
	if err := fixed(e.Actor[:], rec.Actor, "event actor"); err != nil {
		return nil, err
	}
	return e, nil
}
