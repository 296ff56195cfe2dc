package handler

import (
	"time"

	"tokenbank/internal/ledger/models"
	"tokenbank/pkg/domain"
)

type VaultResponse struct {
	RegistryID domain.RegistryID `json:"registry_id"`
	Token      domain.TokenType  `json:"token"`
	HoldingID  domain.HoldingID  `json:"holding_id"`
	Authority  domain.Identity   `json:"authority"`
	Amount     domain.Amount     `json:"amount"`
	CreatedAt  time.Time         `json:"created_at"`
}

// TransitionResponse is returned by deposits and withdrawals.
type TransitionResponse struct {
	Account *models.Account `json:"account"`
	Vault   VaultResponse   `json:"vault"`
}

type EventsResponse struct {
	Events []*models.Event `json:"events"`
}

func toVaultResponse(v *models.Vault, amount domain.Amount) VaultResponse {
	return VaultResponse{
		RegistryID: v.RegistryID,
		Token:      v.Token,
		HoldingID:  v.HoldingID,
		Authority:  v.Authority,
		Amount:     amount,
		CreatedAt:  v.CreatedAt,
	}
}

func toTransitionResponse(result *models.TransitionResult) TransitionResponse {
	return TransitionResponse{
		Account: result.Account,
		Vault:   toVaultResponse(result.Vault, result.VaultAmount),
	}
}
