package models

import "tokenbank/pkg/domain"

// DepositRequest moves Amount of Token from the caller's Source holding into
// the registry's vault and credits AccountID.
type DepositRequest struct {
	RegistryID domain.RegistryID
	AccountID  domain.AccountID
	Token      domain.TokenType
	Amount     domain.Amount
	Source     domain.HoldingID
	Caller     domain.Identity
}

// WithdrawRequest debits AccountID and releases Amount of Token from the
// vault into Destination.
type WithdrawRequest struct {
	RegistryID  domain.RegistryID
	AccountID   domain.AccountID
	Token       domain.TokenType
	Amount      domain.Amount
	Destination domain.HoldingID
	Caller      domain.Identity
}

// TransitionResult is the post-state of a deposit or withdrawal.
type TransitionResult struct {
	Account     *Account
	Vault       *Vault
	VaultAmount domain.Amount
}

// VaultView pairs a vault with the amount its holding currently custodies.
type VaultView struct {
	Vault  *Vault
	Amount domain.Amount
}

// TokenSolvency compares one vault with the ledger total for its token.
type TokenSolvency struct {
	Token       domain.TokenType `json:"token"`
	VaultAmount domain.Amount    `json:"vault_amount"`
	LedgerTotal domain.Amount    `json:"ledger_total"`
	Solvent     bool             `json:"solvent"`
}

// SolvencyReport is the result of auditing every vault of a registry.
type SolvencyReport struct {
	RegistryID domain.RegistryID `json:"registry_id"`
	Tokens     []TokenSolvency   `json:"tokens"`
	Solvent    bool              `json:"solvent"`
}
