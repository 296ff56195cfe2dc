package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/hashicorp/go-multierror"

	"tokenbank/internal/ledger/models"
	"tokenbank/internal/storage"
	"tokenbank/pkg/domain"
	dErrors "tokenbank/pkg/domain-errors"
	"tokenbank/pkg/requestcontext"
)

// CheckSolvency compares every vault of the registry with the sum of ledger
// balances for its token. Balances in a token without a vault are reported
// against a vault amount of zero. Vault slots are locked while reading, so deposits
// and withdrawals of those tokens wait for the audit.
//
// The report is always returned when the registry exists. A mismatch also
// yields an InvariantViolation error listing every failing token.
func (p *Processor) CheckSolvency(ctx context.Context, registryID domain.RegistryID) (*models.SolvencyReport, error) {
	if err := requireRegistryID(registryID); err != nil {
		return nil, err
	}

	var report *models.SolvencyReport
	err := p.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		if _, err := loadRegistry(ctx, stores, registryID); err != nil {
			return err
		}
		vaults, err := stores.Vaults().ListByRegistry(ctx, registryID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list vaults")
		}

		// ListByRegistry is sorted by token, which keeps slot locking ordered.
		vaultAmounts := make(map[domain.TokenType]domain.Amount, len(vaults))
		for _, v := range vaults {
			if err := stores.Vaults().LockSlot(ctx, v.Key()); err != nil {
				return err
			}
			amount, err := p.transferer.Balance(ctx, stores, v.HoldingID)
			if err != nil {
				return err
			}
			vaultAmounts[v.Token] = amount
		}

		accounts, err := stores.Accounts().ListByRegistry(ctx, registryID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list accounts")
		}
		totals := make(map[domain.TokenType]domain.Amount, len(vaults))
		var overflow *multierror.Error
		for _, a := range accounts {
			for token, balance := range a.Balances {
				sum, ok := totals[token].CheckedAdd(balance)
				if !ok {
					overflow = multierror.Append(overflow, fmt.Errorf("ledger total for %s overflows", token))
					continue
				}
				totals[token] = sum
			}
		}

		r := &models.SolvencyReport{RegistryID: registryID, Solvent: overflow == nil}
		for _, v := range vaults {
			entry := models.TokenSolvency{
				Token:       v.Token,
				VaultAmount: vaultAmounts[v.Token],
				LedgerTotal: totals[v.Token],
			}
			entry.Solvent = entry.VaultAmount == entry.LedgerTotal
			if !entry.Solvent {
				r.Solvent = false
			}
			r.Tokens = append(r.Tokens, entry)
		}

		// Balances owed in a token that has no vault are backed by nothing.
		var orphaned []domain.TokenType
		for token, total := range totals {
			if _, tracked := vaultAmounts[token]; !tracked && !total.IsZero() {
				orphaned = append(orphaned, token)
			}
		}
		slices.Sort(orphaned)
		for _, token := range orphaned {
			r.Solvent = false
			r.Tokens = append(r.Tokens, models.TokenSolvency{Token: token, LedgerTotal: totals[token]})
		}
		report = r
		return overflow.ErrorOrNil()
	})
	if err != nil {
		if report == nil {
			return nil, err
		}
		return report, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "ledger totals cannot be computed")
	}

	var mismatches *multierror.Error
	for _, t := range report.Tokens {
		if !t.Solvent {
			mismatches = multierror.Append(mismatches,
				fmt.Errorf("token %s: vault holds %d, ledger owes %d", t.Token, t.VaultAmount, t.LedgerTotal))
		}
	}
	if p.metrics != nil {
		p.metrics.IncrementSolvencyCheck(report.Solvent)
	}
	if err := mismatches.ErrorOrNil(); err != nil {
		p.logger.ErrorContext(ctx, "solvency check failed",
			"request_id", requestcontext.RequestID(ctx),
			"registry_id", registryID,
			"error", err,
		)
		return report, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "registry is not solvent")
	}
	return report, nil
}
