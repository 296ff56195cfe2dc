package custody

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext is what the custody steps need from the scenario harness.
type TestContext interface {
	POST(ctx context.Context, actor, path string, body any) error
	GET(ctx context.Context, path string) error
	Remember(name, handle string)
	Handle(name string) (string, error)
	LastStatus() int
	LastErrorCode() string
	Decode(v any) error
}

func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	s := &custodySteps{tc: tc}

	// Token runtime fixtures
	ctx.Step(`^a mint "([^"]*)" with (\d+) decimals issued by "([^"]*)"$`, s.mintExists)
	ctx.Step(`^"([^"]*)" holds (\d+) "([^"]*)"$`, s.actorHolds)

	// Registry and accounts
	ctx.Step(`^a registry administered by "([^"]*)"$`, s.registryExists)
	ctx.Step(`^"([^"]*)" adds token "([^"]*)" to the registry$`, s.addToken)
	ctx.Step(`^"([^"]*)" has whitelisted "([^"]*)"$`, s.hasWhitelisted)
	ctx.Step(`^"([^"]*)" has opened an account$`, s.hasOpenedAccount)

	// Transitions
	ctx.Step(`^"([^"]*)" deposits (\d+) "([^"]*)"$`, s.deposit)
	ctx.Step(`^"([^"]*)" has deposited (\d+) "([^"]*)"$`, s.hasDeposited)
	ctx.Step(`^"([^"]*)" withdraws (\d+) "([^"]*)"$`, s.withdraw)
	ctx.Step(`^"([^"]*)" withdraws (\d+) "([^"]*)" from the account of "([^"]*)"$`, s.withdrawFrom)

	// Outcomes
	ctx.Step(`^the request succeeds$`, s.requestSucceeds)
	ctx.Step(`^the request fails with status (\d+) and error "([^"]*)"$`, s.requestFails)
	ctx.Step(`^the registry whitelist is "([^"]*)"$`, s.whitelistIs)
	ctx.Step(`^the registry whitelist is empty$`, s.whitelistIsEmpty)
	ctx.Step(`^"([^"]*)" has a ledger balance of (\d+) "([^"]*)"$`, s.ledgerBalanceIs)
	ctx.Step(`^the "([^"]*)" vault holds (\d+)$`, s.vaultHolds)
	ctx.Step(`^"([^"]*)" holds (\d+) "([^"]*)" outside the registry$`, s.holdingIs)
	ctx.Step(`^the registry is solvent$`, s.registrySolvent)
}

type custodySteps struct {
	tc TestContext
}

type created struct {
	ID string `json:"id"`
}

func holdingName(actor, token string) string {
	return "holding:" + actor + ":" + token
}

func accountName(actor string) string {
	return "account:" + actor
}

const registryName = "registry"

// must turns a recorded API failure into a step failure for Given steps.
func (s *custodySteps) must(err error) error {
	if err != nil {
		return err
	}
	if s.tc.LastStatus() != http.StatusOK {
		return fmt.Errorf("setup request failed: %d %s", s.tc.LastStatus(), s.tc.LastErrorCode())
	}
	return nil
}

func (s *custodySteps) mintExists(ctx context.Context, token string, decimals int, issuer string) error {
	if err := s.must(s.tc.POST(ctx, issuer, "/mints", map[string]any{"token": token, "decimals": decimals})); err != nil {
		return err
	}
	s.tc.Remember("issuer:"+token, issuer)
	return nil
}

func (s *custodySteps) actorHolds(ctx context.Context, actor string, amount int, token string) error {
	if err := s.must(s.tc.POST(ctx, actor, "/holdings", map[string]any{"token": token})); err != nil {
		return err
	}
	var h created
	if err := s.tc.Decode(&h); err != nil {
		return err
	}
	s.tc.Remember(holdingName(actor, token), h.ID)

	issuer, err := s.tc.Handle("issuer:" + token)
	if err != nil {
		return err
	}
	return s.must(s.tc.POST(ctx, issuer, "/mints/"+token+"/issue", map[string]any{"holding": h.ID, "amount": amount}))
}

func (s *custodySteps) registryExists(ctx context.Context, admin string) error {
	if err := s.must(s.tc.POST(ctx, admin, "/registries", nil)); err != nil {
		return err
	}
	var r created
	if err := s.tc.Decode(&r); err != nil {
		return err
	}
	s.tc.Remember(registryName, r.ID)
	return nil
}

func (s *custodySteps) addToken(ctx context.Context, actor, token string) error {
	registry, err := s.tc.Handle(registryName)
	if err != nil {
		return err
	}
	return s.tc.POST(ctx, actor, "/registries/"+registry+"/tokens", map[string]any{"token": token})
}

func (s *custodySteps) hasWhitelisted(ctx context.Context, actor, token string) error {
	return s.must(s.addToken(ctx, actor, token))
}

func (s *custodySteps) hasOpenedAccount(ctx context.Context, actor string) error {
	registry, err := s.tc.Handle(registryName)
	if err != nil {
		return err
	}
	if err := s.must(s.tc.POST(ctx, actor, "/registries/"+registry+"/accounts", nil)); err != nil {
		return err
	}
	var a created
	if err := s.tc.Decode(&a); err != nil {
		return err
	}
	s.tc.Remember(accountName(actor), a.ID)
	return nil
}

func (s *custodySteps) transfer(ctx context.Context, signer, owner, resource string, amount int, token string) error {
	registry, err := s.tc.Handle(registryName)
	if err != nil {
		return err
	}
	account, err := s.tc.Handle(accountName(owner))
	if err != nil {
		return err
	}
	holding, err := s.tc.Handle(holdingName(owner, token))
	if err != nil {
		return err
	}
	path := "/registries/" + registry + "/accounts/" + account + "/" + resource
	return s.tc.POST(ctx, signer, path, map[string]any{"token": token, "amount": amount, "holding": holding})
}

func (s *custodySteps) deposit(ctx context.Context, actor string, amount int, token string) error {
	return s.transfer(ctx, actor, actor, "deposits", amount, token)
}

func (s *custodySteps) hasDeposited(ctx context.Context, actor string, amount int, token string) error {
	return s.must(s.deposit(ctx, actor, amount, token))
}

func (s *custodySteps) withdraw(ctx context.Context, actor string, amount int, token string) error {
	return s.transfer(ctx, actor, actor, "withdrawals", amount, token)
}

func (s *custodySteps) withdrawFrom(ctx context.Context, signer string, amount int, token, owner string) error {
	return s.transfer(ctx, signer, owner, "withdrawals", amount, token)
}

func (s *custodySteps) requestSucceeds() error {
	if s.tc.LastStatus() != http.StatusOK {
		return fmt.Errorf("expected success, got %d %s", s.tc.LastStatus(), s.tc.LastErrorCode())
	}
	return nil
}

func (s *custodySteps) requestFails(status int, code string) error {
	if s.tc.LastStatus() != status || s.tc.LastErrorCode() != code {
		return fmt.Errorf("expected %d %s, got %d %s", status, code, s.tc.LastStatus(), s.tc.LastErrorCode())
	}
	return nil
}

func (s *custodySteps) whitelist(ctx context.Context) ([]string, error) {
	registry, err := s.tc.Handle(registryName)
	if err != nil {
		return nil, err
	}
	if err := s.must(s.tc.GET(ctx, "/registries/"+registry)); err != nil {
		return nil, err
	}
	var r struct {
		AllowedTokens []string `json:"allowed_tokens"`
	}
	if err := s.tc.Decode(&r); err != nil {
		return nil, err
	}
	return r.AllowedTokens, nil
}

func (s *custodySteps) whitelistIs(ctx context.Context, tokens string) error {
	got, err := s.whitelist(ctx)
	if err != nil {
		return err
	}
	want := strings.Split(tokens, ",")
	if !slices.Equal(got, want) {
		return fmt.Errorf("whitelist is %v, want %v", got, want)
	}
	return nil
}

func (s *custodySteps) whitelistIsEmpty(ctx context.Context) error {
	got, err := s.whitelist(ctx)
	if err != nil {
		return err
	}
	if len(got) != 0 {
		return fmt.Errorf("whitelist is %v, want empty", got)
	}
	return nil
}

func (s *custodySteps) ledgerBalanceIs(ctx context.Context, actor string, amount int, token string) error {
	account, err := s.tc.Handle(accountName(actor))
	if err != nil {
		return err
	}
	if err := s.must(s.tc.GET(ctx, "/accounts/"+account)); err != nil {
		return err
	}
	var a struct {
		Balances map[string]uint64 `json:"balances"`
	}
	if err := s.tc.Decode(&a); err != nil {
		return err
	}
	if got := a.Balances[token]; got != uint64(amount) {
		return fmt.Errorf("ledger balance of %s is %d, want %d", token, got, amount)
	}
	return nil
}

func (s *custodySteps) vaultHolds(ctx context.Context, token string, amount int) error {
	registry, err := s.tc.Handle(registryName)
	if err != nil {
		return err
	}
	if err := s.tc.GET(ctx, "/registries/"+registry+"/vaults/"+token); err != nil {
		return err
	}
	if s.tc.LastStatus() == http.StatusNotFound && amount == 0 {
		return nil
	}
	var v struct {
		Amount uint64 `json:"amount"`
	}
	if err := s.tc.Decode(&v); err != nil {
		return err
	}
	if v.Amount != uint64(amount) {
		return fmt.Errorf("vault holds %d, want %d", v.Amount, amount)
	}
	return nil
}

func (s *custodySteps) holdingIs(ctx context.Context, actor string, amount int, token string) error {
	holding, err := s.tc.Handle(holdingName(actor, token))
	if err != nil {
		return err
	}
	if err := s.must(s.tc.GET(ctx, "/holdings/"+holding)); err != nil {
		return err
	}
	var h struct {
		Amount uint64 `json:"amount"`
	}
	if err := s.tc.Decode(&h); err != nil {
		return err
	}
	if h.Amount != uint64(amount) {
		return fmt.Errorf("%s holds %d %s, want %d", actor, h.Amount, token, amount)
	}
	return nil
}

func (s *custodySteps) registrySolvent(ctx context.Context) error {
	registry, err := s.tc.Handle(registryName)
	if err != nil {
		return err
	}
	if err := s.must(s.tc.GET(ctx, "/registries/"+registry+"/solvency")); err != nil {
		return err
	}
	var report struct {
		Solvent bool `json:"solvent"`
	}
	if err := s.tc.Decode(&report); err != nil {
		return err
	}
	if !report.Solvent {
		return fmt.Errorf("registry is insolvent")
	}
	return nil
}
