package handler

import (
	"encoding/json"
	"strings"

	"tokenbank/pkg/domain"
	dErrors "tokenbank/pkg/domain-errors"
)

// AddTokenRequest is the body of POST /registries/{registryID}/tokens.
type AddTokenRequest struct {
	Token string `json:"token"`

	parsedToken domain.TokenType
}

func (r *AddTokenRequest) Normalize() {
	r.Token = strings.TrimSpace(r.Token)
}

// Validate implements httputil.Preparable.
func (r *AddTokenRequest) Validate() error {
	token, err := domain.ParseTokenType(r.Token)
	if err != nil {
		return err
	}
	r.parsedToken = token
	return nil
}

// TransferRequest is the body of deposit and withdrawal requests. Holding is
// the source holding for a deposit and the destination for a withdrawal.
type TransferRequest struct {
	Token   string      `json:"token"`
	Amount  json.Number `json:"amount"`
	Holding string      `json:"holding"`

	parsedToken   domain.TokenType
	parsedAmount  domain.Amount
	parsedHolding domain.HoldingID
}

func (r *TransferRequest) Normalize() {
	r.Token = strings.TrimSpace(r.Token)
	r.Holding = strings.TrimSpace(r.Holding)
}

// Validate checks shape only. Zero and negative amounts both reach the
// processor as zero, so the whitelist check still runs first and the
// rejection carries the InvalidAmount code.
func (r *TransferRequest) Validate() error {
	token, err := domain.ParseTokenType(r.Token)
	if err != nil {
		return err
	}
	amount, err := domain.ParseAmount(r.Amount.String())
	if err != nil && !dErrors.HasCode(err, dErrors.CodeInvalidAmount) {
		return err
	}
	holding, err := domain.ParseHoldingID(r.Holding)
	if err != nil {
		return err
	}
	r.parsedToken = token
	r.parsedAmount = amount
	r.parsedHolding = holding
	return nil
}
