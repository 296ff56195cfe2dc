package models

import "tokenbank/pkg/domain"

// TransferRequest moves Amount of Token between two holdings. Authority must
// be the owner of From.
type TransferRequest struct {
	From      domain.HoldingID
	To        domain.HoldingID
	Token     domain.TokenType
	Amount    domain.Amount
	Authority domain.Identity
}
