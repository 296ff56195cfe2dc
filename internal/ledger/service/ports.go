package service

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Transferer

import (
	"context"

	"tokenbank/internal/storage"
	tokenmodels "tokenbank/internal/token/models"
	"tokenbank/pkg/domain"
)

// Transferer is the host token runtime as seen by the ledger. All methods run
// inside the caller's transaction via stores. The ledger never edits holdings
// directly.
type Transferer interface {
	OpenHolding(ctx context.Context, stores storage.Stores, owner domain.Identity, token domain.TokenType) (*tokenmodels.Holding, error)
	Transfer(ctx context.Context, stores storage.Stores, req tokenmodels.TransferRequest) error
	Balance(ctx context.Context, stores storage.Stores, holdingID domain.HoldingID) (domain.Amount, error)
}
