package service

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"tokenbank/internal/ledger/models"
	"tokenbank/internal/ledger/service/mocks"
	"tokenbank/internal/storage"
	"tokenbank/internal/storage/memory"
	tokenmodels "tokenbank/internal/token/models"
	"tokenbank/pkg/domain"
	dErrors "tokenbank/pkg/domain-errors"
	tu "tokenbank/pkg/testutil"
)

// RollbackSuite replaces the token runtime with a mock to check that a
// failure at any step leaves no partial state.
type RollbackSuite struct {
	suite.Suite
	ctx        context.Context
	ctrl       *gomock.Controller
	transferer *mocks.MockTransferer
	backend    *memory.Backend
	processor  *Processor
	logs       *bytes.Buffer

	admin    tu.Signer
	user     tu.Signer
	registry *models.Registry
	account  *models.Account
	source   domain.HoldingID
}

func TestRollbackSuite(t *testing.T) {
	suite.Run(t, new(RollbackSuite))
}

func (s *RollbackSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.transferer = mocks.NewMockTransferer(s.ctrl)
	s.backend = memory.New()

	s.logs = &bytes.Buffer{}
	p, err := New(s.backend, s.transferer, WithLogger(slog.New(slog.NewTextHandler(s.logs, nil))))
	s.Require().NoError(err)
	s.processor = p

	s.admin = tu.NewSigner(s.T())
	s.user = tu.NewSigner(s.T())
	s.source = domain.NewHoldingID()

	s.registry, err = s.processor.InitializeRegistry(s.ctx, s.admin.Identity)
	s.Require().NoError(err)
	_, err = s.processor.AddToken(s.ctx, s.registry.ID, s.admin.Identity, tkn)
	s.Require().NoError(err)
	s.account, err = s.processor.InitializeAccount(s.ctx, s.registry.ID, s.user.Identity)
	s.Require().NoError(err)
}

func (s *RollbackSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *RollbackSuite) depositReq(amount domain.Amount) models.DepositRequest {
	return models.DepositRequest{
		RegistryID: s.registry.ID,
		AccountID:  s.account.ID,
		Token:      tkn,
		Amount:     amount,
		Source:     s.source,
		Caller:     s.user.Identity,
	}
}

func (s *RollbackSuite) expectVaultOpened() domain.HoldingID {
	custody, _, err := domain.DeriveCustodyAuthority(s.registry.ID, tkn)
	s.Require().NoError(err)
	holdingID := domain.NewHoldingID()
	s.transferer.EXPECT().
		OpenHolding(gomock.Any(), gomock.Any(), custody, tkn).
		Return(&tokenmodels.Holding{ID: holdingID, Owner: custody, Token: tkn}, nil)
	return holdingID
}

func (s *RollbackSuite) storedBalance() domain.Amount {
	a, err := s.processor.GetAccount(s.ctx, s.account.ID)
	s.Require().NoError(err)
	return a.Balance(tkn)
}

func (s *RollbackSuite) eventCount() int {
	events, err := s.processor.ListAccountEvents(s.ctx, s.account.ID, 0)
	s.Require().NoError(err)
	return len(events)
}

func (s *RollbackSuite) TestDepositTransferFailureRollsBack() {
	s.expectVaultOpened()
	s.transferer.EXPECT().
		Transfer(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(dErrors.New(dErrors.CodeInsufficientFunds, "source holding is short"))

	_, err := s.processor.Deposit(s.ctx, s.depositReq(100))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientFunds))

	s.Equal(domain.Amount(0), s.storedBalance())
	s.Equal(1, s.eventCount())

	// The vault created in the failed transaction was discarded too, and
	// never announced.
	_, err = s.processor.GetVault(s.ctx, s.registry.ID, tkn)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.NotContains(s.logs.String(), "vault created")
}

func (s *RollbackSuite) TestDepositOverflowAfterTransferRollsBack() {
	vaultHolding := s.expectVaultOpened()
	s.transferer.EXPECT().
		Transfer(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).
		Times(2)
	s.transferer.EXPECT().
		Balance(gomock.Any(), gomock.Any(), vaultHolding).
		Return(domain.Amount(1), nil)

	_, err := s.processor.Deposit(s.ctx, s.depositReq(domain.MaxAmount))
	s.Require().NoError(err)

	_, err = s.processor.Deposit(s.ctx, s.depositReq(1))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeOverflow))
	s.Equal(domain.MaxAmount, s.storedBalance())
	s.Equal(2, s.eventCount())
}

func (s *RollbackSuite) TestDepositPassesCallerAsTransferAuthority() {
	vaultHolding := s.expectVaultOpened()
	s.transferer.EXPECT().
		Transfer(gomock.Any(), gomock.Any(), tokenmodels.TransferRequest{
			From:      s.source,
			To:        vaultHolding,
			Token:     tkn,
			Amount:    42,
			Authority: s.user.Identity,
		}).
		Return(nil)
	s.transferer.EXPECT().
		Balance(gomock.Any(), gomock.Any(), vaultHolding).
		Return(domain.Amount(42), nil)

	res, err := s.processor.Deposit(s.ctx, s.depositReq(42))
	s.Require().NoError(err)
	s.Equal(domain.Amount(42), res.VaultAmount)
	s.Equal(vaultHolding, res.Vault.HoldingID)
	s.Equal(1, strings.Count(s.logs.String(), "vault created"))
}

func (s *RollbackSuite) TestWithdrawSignsWithCustodyAuthority() {
	vaultHolding := s.expectVaultOpened()
	custody, _, err := domain.DeriveCustodyAuthority(s.registry.ID, tkn)
	s.Require().NoError(err)
	destination := domain.NewHoldingID()

	gomock.InOrder(
		s.transferer.EXPECT().Transfer(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil),
		s.transferer.EXPECT().Balance(gomock.Any(), gomock.Any(), vaultHolding).Return(domain.Amount(50), nil),
		s.transferer.EXPECT().
			Transfer(gomock.Any(), gomock.Any(), tokenmodels.TransferRequest{
				From:      vaultHolding,
				To:        destination,
				Token:     tkn,
				Amount:    20,
				Authority: custody,
			}).
			Return(nil),
		s.transferer.EXPECT().Balance(gomock.Any(), gomock.Any(), vaultHolding).Return(domain.Amount(30), nil),
	)

	_, err = s.processor.Deposit(s.ctx, s.depositReq(50))
	s.Require().NoError(err)
	res, err := s.processor.Withdraw(s.ctx, models.WithdrawRequest{
		RegistryID:  s.registry.ID,
		AccountID:   s.account.ID,
		Token:       tkn,
		Amount:      20,
		Destination: destination,
		Caller:      s.user.Identity,
	})
	s.Require().NoError(err)
	s.Equal(domain.Amount(30), res.Account.Balance(tkn))
	s.Equal(domain.Amount(30), res.VaultAmount)
}

func (s *RollbackSuite) TestWithdrawReleaseFailureRestoresDebit() {
	s.expectVaultOpened()
	gomock.InOrder(
		s.transferer.EXPECT().Transfer(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil),
		s.transferer.EXPECT().Balance(gomock.Any(), gomock.Any(), gomock.Any()).Return(domain.Amount(50), nil),
		s.transferer.EXPECT().
			Transfer(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(dErrors.New(dErrors.CodeInternal, "runtime unavailable")),
	)

	_, err := s.processor.Deposit(s.ctx, s.depositReq(50))
	s.Require().NoError(err)
	_, err = s.processor.Withdraw(s.ctx, models.WithdrawRequest{
		RegistryID:  s.registry.ID,
		AccountID:   s.account.ID,
		Token:       tkn,
		Amount:      50,
		Destination: domain.NewHoldingID(),
		Caller:      s.user.Identity,
	})
	s.Require().Error(err)
	s.Equal(domain.Amount(50), s.storedBalance())
}

func (s *RollbackSuite) TestRejectedBeforeRuntimeIsTouched() {
	// No expectations: the runtime must not be called for these.
	cases := []struct {
		name string
		req  models.DepositRequest
		code dErrors.Code
	}{
		{"unlisted token", func() models.DepositRequest { r := s.depositReq(1); r.Token = "NOPE"; return r }(), dErrors.CodeTokenNotWhitelisted},
		{"zero amount", s.depositReq(0), dErrors.CodeInvalidAmount},
		{"wrong caller", func() models.DepositRequest { r := s.depositReq(1); r.Caller = s.admin.Identity; return r }(), dErrors.CodeUnauthorized},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.processor.Deposit(s.ctx, tc.req)
			s.True(dErrors.HasCode(err, tc.code), "got %v", err)
		})
	}
}

func (s *RollbackSuite) TestTamperedVaultAuthorityIsRejected() {
	// A vault whose recorded authority does not match the derivation must
	// never be used.
	err := s.backend.RunInTx(s.ctx, func(ctx context.Context, stores storage.Stores) error {
		return stores.Vaults().Create(ctx, &models.Vault{
			RegistryID: s.registry.ID,
			Token:      tkn,
			HoldingID:  domain.NewHoldingID(),
			Authority:  s.admin.Identity,
		})
	})
	s.Require().NoError(err)

	_, err = s.processor.Deposit(s.ctx, s.depositReq(10))
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}
