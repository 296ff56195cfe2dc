package badger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	ledgermodels "tokenbank/internal/ledger/models"
	"tokenbank/internal/storage"
	"tokenbank/internal/storage/storagetest"
	"tokenbank/pkg/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestBadgerBackend(t *testing.T) {
	suite.Run(t, &storagetest.Suite{
		NewBackend: func() storage.Backend {
			b, err := Open("", WithLogger(quietLogger()))
			require.NoError(t, err)
			return b
		},
	})
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := Open(dir, WithLogger(quietLogger()))
	require.NoError(t, err)

	var owner domain.Identity
	owner[0] = 7
	registry, err := ledgermodels.NewRegistry(domain.NewRegistryID(), owner, time.Now())
	require.NoError(t, err)
	registry.ApplyAddToken("TKN", time.Now())
	require.NoError(t, b.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		return stores.Registries().Create(ctx, registry)
	}))
	require.NoError(t, b.Close())

	b, err = Open(dir, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer func() { assert.NoError(t, b.Close()) }()

	require.NoError(t, b.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		got, err := stores.Registries().FindByID(ctx, registry.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, owner, got.Authority)
		assert.Equal(t, []domain.TokenType{"TKN"}, got.AllowedTokens)
		return nil
	}))
}

func TestCodecRoundTrip(t *testing.T) {
	in := holdingRecord{ID: bytes.Repeat([]byte{1}, 16), Owner: bytes.Repeat([]byte{2}, 32), Token: "TKN", Amount: 1<<64 - 1}
	val, err := encodeEntity(in)
	require.NoError(t, err)

	var out holdingRecord
	require.NoError(t, decodeValue(val, &out))
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Amount, out.Amount)

	assert.Error(t, decodeValue([]byte("not snappy"), &out))
}

func TestSlotTouchConflicts(t *testing.T) {
	b, err := Open("", WithLogger(quietLogger()), WithConflictRetries(0, time.Millisecond))
	require.NoError(t, err)
	defer func() { assert.NoError(t, b.Close()) }()

	key := ledgermodels.VaultKey{RegistryID: domain.NewRegistryID(), Token: "TKN"}
	first := b.db.NewTransaction(true)
	defer first.Discard()
	second := b.db.NewTransaction(true)
	defer second.Discard()

	require.NoError(t, touch(first, vaultSlotKey(key)))
	require.NoError(t, touch(second, vaultSlotKey(key)))
	require.NoError(t, first.Commit())
	assert.Error(t, second.Commit(), "second writer of a slot must conflict")
}
