package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	ledgermodels "tokenbank/internal/ledger/models"
	"tokenbank/internal/storage"
	"tokenbank/internal/storage/storagetest"
	"tokenbank/pkg/domain"
	dErrors "tokenbank/pkg/domain-errors"
)

func TestMemoryBackend(t *testing.T) {
	suite.Run(t, &storagetest.Suite{
		NewBackend: func() storage.Backend { return New() },
	})
}

func TestLockWaitHonoursTxTimeout(t *testing.T) {
	b := New(WithTimeout(50 * time.Millisecond))
	key := ledgermodels.VaultKey{RegistryID: domain.NewRegistryID(), Token: "TKN"}

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.RunInTx(context.Background(), func(ctx context.Context, stores storage.Stores) error {
			if err := stores.Vaults().LockSlot(ctx, key); err != nil {
				return err
			}
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	err := b.RunInTx(context.Background(), func(ctx context.Context, stores storage.Stores) error {
		return stores.Vaults().LockSlot(ctx, key)
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout), "got %v", err)

	close(release)
	require.NoError(t, <-done)
}

func TestLocksReleasedAfterTx(t *testing.T) {
	b := New()
	key := ledgermodels.VaultKey{RegistryID: domain.NewRegistryID(), Token: "TKN"}
	for range 3 {
		err := b.RunInTx(context.Background(), func(ctx context.Context, stores storage.Stores) error {
			return stores.Vaults().LockSlot(ctx, key)
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, b.locks.Len())
}

func TestRelockingInOneTxIsNoop(t *testing.T) {
	b := New(WithTimeout(50 * time.Millisecond))
	key := ledgermodels.VaultKey{RegistryID: domain.NewRegistryID(), Token: "TKN"}
	err := b.RunInTx(context.Background(), func(ctx context.Context, stores storage.Stores) error {
		if err := stores.Vaults().LockSlot(ctx, key); err != nil {
			return err
		}
		return stores.Vaults().LockSlot(ctx, key)
	})
	require.NoError(t, err)
}
