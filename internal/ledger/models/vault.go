package models

import (
	"time"

	"tokenbank/pkg/domain"
	dErrors "tokenbank/pkg/domain-errors"
)

// Vault is the pooled holding that custodies every deposit of one token
// under one registry. The holding is owned by the custody authority derived
// from (RegistryID, Token), so only the processor can move funds out of it.
type Vault struct {
	RegistryID domain.RegistryID `json:"registry_id"`
	Token      domain.TokenType  `json:"token"`
	HoldingID  domain.HoldingID  `json:"holding_id"`
	Authority  domain.Identity   `json:"authority"`
	Bump       uint8             `json:"bump"`
	CreatedAt  time.Time         `json:"created_at"`
}

// VaultKey addresses a vault slot, whether or not the vault exists yet.
type VaultKey struct {
	RegistryID domain.RegistryID
	Token      domain.TokenType
}

func (v *Vault) Key() VaultKey {
	return VaultKey{RegistryID: v.RegistryID, Token: v.Token}
}

func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

// CustodyAuthority is the capability to sign transfers out of a vault. It is
// only obtainable through DeriveCustody, never from caller input.
type CustodyAuthority struct {
	registryID domain.RegistryID
	token      domain.TokenType
	identity   domain.Identity
	bump       uint8
}

// DeriveCustody computes the custody authority for (registryID, token).
func DeriveCustody(registryID domain.RegistryID, token domain.TokenType) (CustodyAuthority, error) {
	identity, bump, err := domain.DeriveCustodyAuthority(registryID, token)
	if err != nil {
		return CustodyAuthority{}, err
	}
	return CustodyAuthority{registryID: registryID, token: token, identity: identity, bump: bump}, nil
}

func (c CustodyAuthority) Identity() domain.Identity { return c.identity }
func (c CustodyAuthority) Bump() uint8               { return c.bump }

// Governs reports whether this authority is the one recorded on v.
func (c CustodyAuthority) Governs(v *Vault) bool {
	return v != nil &&
		v.RegistryID == c.registryID &&
		v.Token == c.token &&
		v.Authority == c.identity &&
		v.Bump == c.bump
}

// NewVault builds the vault record for a freshly created holding.
func NewVault(custody CustodyAuthority, holdingID domain.HoldingID, now time.Time) (*Vault, error) {
	if custody.identity.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "custody authority is required")
	}
	return &Vault{
		RegistryID: custody.registryID,
		Token:      custody.token,
		HoldingID:  holdingID,
		Authority:  custody.identity,
		Bump:       custody.bump,
		CreatedAt:  now,
	}, nil
}
