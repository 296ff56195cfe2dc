package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	ledgermodels "tokenbank/internal/ledger/models"
	"tokenbank/internal/storage"
	tokenmodels "tokenbank/internal/token/models"
	"tokenbank/pkg/domain"
	"tokenbank/pkg/platform/sentinel"
	txcontext "tokenbank/pkg/platform/tx"
)

// stores resolves the executor from ctx on every call, so all statements
// join the transaction opened by RunInTx.
type stores struct {
	db *sql.DB
}

func (s *stores) Registries() storage.RegistryStore { return registryStore{s.db} }
func (s *stores) Accounts() storage.AccountStore    { return accountStore{s.db} }
func (s *stores) Vaults() storage.VaultStore        { return vaultStore{s.db} }
func (s *stores) Mints() storage.MintStore          { return mintStore{s.db} }
func (s *stores) Holdings() storage.HoldingStore    { return holdingStore{s.db} }
func (s *stores) Events() storage.EventStore        { return eventStore{s.db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	return fmt.Errorf("%s: %w", what, err)
}

func createErr(err error, what string) error {
	if isUniqueViolation(err) {
		return sentinel.ErrAlreadyUsed
	}
	return fmt.Errorf("%s: %w", what, err)
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// -----------------------------------------------------------------------------
// Registries
// -----------------------------------------------------------------------------

type registryStore struct{ db *sql.DB }

func (s registryStore) Create(ctx context.Context, r *ledgermodels.Registry) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO registries (id, authority, allowed_tokens, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.UUID(r.ID), r.Authority[:], pq.Array(tokenStrings(r.AllowedTokens)), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return createErr(err, "insert registry")
	}
	return nil
}

func (s registryStore) find(ctx context.Context, id domain.RegistryID, lock string) (*ledgermodels.Registry, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, authority, allowed_tokens, created_at, updated_at
		FROM registries WHERE id = $1 `+lock, uuid.UUID(id))
	r, err := scanRegistry(row)
	if err != nil {
		return nil, notFound(err, "find registry")
	}
	return r, nil
}

func (s registryStore) FindByID(ctx context.Context, id domain.RegistryID) (*ledgermodels.Registry, error) {
	return s.find(ctx, id, "")
}

func (s registryStore) FindForUpdate(ctx context.Context, id domain.RegistryID) (*ledgermodels.Registry, error) {
	return s.find(ctx, id, "FOR UPDATE")
}

func (s registryStore) Update(ctx context.Context, r *ledgermodels.Registry) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE registries SET allowed_tokens = $2, updated_at = $3 WHERE id = $1
	`, uuid.UUID(r.ID), pq.Array(tokenStrings(r.AllowedTokens)), r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update registry: %w", err)
	}
	return requireRow(res, "update registry")
}

func scanRegistry(row rowScanner) (*ledgermodels.Registry, error) {
	var (
		id        uuid.UUID
		authority []byte
		tokens    []string
		r         ledgermodels.Registry
	)
	if err := row.Scan(&id, &authority, pq.Array(&tokens), &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.ID = domain.RegistryID(id)
	if err := scanIdentity(r.Authority[:], authority, "registry authority"); err != nil {
		return nil, err
	}
	r.AllowedTokens = make([]domain.TokenType, len(tokens))
	for i, t := range tokens {
		r.AllowedTokens[i] = domain.TokenType(t)
	}
	return &r, nil
}

func tokenStrings(tokens []domain.TokenType) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = string(t)
	}
	return out
}

// -----------------------------------------------------------------------------
// Accounts
// -----------------------------------------------------------------------------

type accountStore struct{ db *sql.DB }

func (s accountStore) Create(ctx context.Context, a *ledgermodels.Account) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO accounts (id, registry_id, owner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.UUID(a.ID), uuid.UUID(a.RegistryID), a.Owner[:], a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return createErr(err, "insert account")
	}
	return s.writeBalances(ctx, a)
}

func (s accountStore) find(ctx context.Context, id domain.AccountID, lock string) (*ledgermodels.Account, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, registry_id, owner, created_at, updated_at
		FROM accounts WHERE id = $1 `+lock, uuid.UUID(id))
	a, err := scanAccount(row)
	if err != nil {
		return nil, notFound(err, "find account")
	}
	if err := s.loadBalances(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s accountStore) FindByID(ctx context.Context, id domain.AccountID) (*ledgermodels.Account, error) {
	return s.find(ctx, id, "")
}

func (s accountStore) FindForUpdate(ctx context.Context, id domain.AccountID) (*ledgermodels.Account, error) {
	return s.find(ctx, id, "FOR UPDATE")
}

func (s accountStore) Update(ctx context.Context, a *ledgermodels.Account) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE accounts SET updated_at = $2 WHERE id = $1
	`, uuid.UUID(a.ID), a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if err := requireRow(res, "update account"); err != nil {
		return err
	}
	return s.writeBalances(ctx, a)
}

func (s accountStore) ListByRegistry(ctx context.Context, registryID domain.RegistryID) ([]*ledgermodels.Account, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT id, registry_id, owner, created_at, updated_at
		FROM accounts WHERE registry_id = $1
		ORDER BY created_at, id
	`, uuid.UUID(registryID))
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	var out []*ledgermodels.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	_ = rows.Close()

	// Balances are loaded after the cursor is closed; a transaction runs
	// one statement at a time.
	for _, a := range out {
		if err := s.loadBalances(ctx, a); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s accountStore) loadBalances(ctx context.Context, a *ledgermodels.Account) error {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT token, amount::text FROM account_balances WHERE account_id = $1
	`, uuid.UUID(a.ID))
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}
	defer rows.Close()

	a.Balances = make(map[domain.TokenType]domain.Amount)
	for rows.Next() {
		var token, raw string
		if err := rows.Scan(&token, &raw); err != nil {
			return fmt.Errorf("scan balance: %w", err)
		}
		amount, err := parseAmount(raw)
		if err != nil {
			return err
		}
		a.Balances[domain.TokenType(token)] = amount
	}
	return rows.Err()
}

// writeBalances makes account_balances match a.Balances exactly.
func (s accountStore) writeBalances(ctx context.Context, a *ledgermodels.Account) error {
	exec := txcontext.Exec(ctx, s.db)
	tokens := make([]string, 0, len(a.Balances))
	for token, amount := range a.Balances {
		tokens = append(tokens, string(token))
		if _, err := exec.ExecContext(ctx, `
			INSERT INTO account_balances (account_id, token, amount)
			VALUES ($1, $2, $3::numeric)
			ON CONFLICT (account_id, token) DO UPDATE SET amount = EXCLUDED.amount
		`, uuid.UUID(a.ID), string(token), amountParam(amount)); err != nil {
			return fmt.Errorf("write balance: %w", err)
		}
	}
	if _, err := exec.ExecContext(ctx, `
		DELETE FROM account_balances WHERE account_id = $1 AND NOT (token = ANY($2))
	`, uuid.UUID(a.ID), pq.Array(tokens)); err != nil {
		return fmt.Errorf("prune balances: %w", err)
	}
	return nil
}

func scanAccount(row rowScanner) (*ledgermodels.Account, error) {
	var (
		id, registryID uuid.UUID
		owner          []byte
		a              ledgermodels.Account
	)
	if err := row.Scan(&id, &registryID, &owner, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.ID = domain.AccountID(id)
	a.RegistryID = domain.RegistryID(registryID)
	if err := scanIdentity(a.Owner[:], owner, "account owner"); err != nil {
		return nil, err
	}
	return &a, nil
}

// -----------------------------------------------------------------------------
// Vaults
// -----------------------------------------------------------------------------

type vaultStore struct{ db *sql.DB }

// LockSlot takes a transaction-scoped advisory lock, which also covers slots
// whose vault row does not exist yet.
func (s vaultStore) LockSlot(ctx context.Context, key ledgermodels.VaultKey) error {
	slot := "vault:" + key.RegistryID.String() + ":" + string(key.Token)
	if _, err := txcontext.Exec(ctx, s.db).ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, slot); err != nil {
		return fmt.Errorf("lock vault slot: %w", err)
	}
	return nil
}

func (s vaultStore) Find(ctx context.Context, key ledgermodels.VaultKey) (*ledgermodels.Vault, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT registry_id, token, holding_id, authority, bump, created_at
		FROM vaults WHERE registry_id = $1 AND token = $2
	`, uuid.UUID(key.RegistryID), string(key.Token))
	v, err := scanVault(row)
	if err != nil {
		return nil, notFound(err, "find vault")
	}
	return v, nil
}

func (s vaultStore) Create(ctx context.Context, v *ledgermodels.Vault) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO vaults (registry_id, token, holding_id, authority, bump, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.UUID(v.RegistryID), string(v.Token), uuid.UUID(v.HoldingID), v.Authority[:], int16(v.Bump), v.CreatedAt)
	if err != nil {
		return createErr(err, "insert vault")
	}
	return nil
}

func (s vaultStore) ListByRegistry(ctx context.Context, registryID domain.RegistryID) ([]*ledgermodels.Vault, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT registry_id, token, holding_id, authority, bump, created_at
		FROM vaults WHERE registry_id = $1
		ORDER BY token COLLATE "C"
	`, uuid.UUID(registryID))
	if err != nil {
		return nil, fmt.Errorf("list vaults: %w", err)
	}
	defer rows.Close()

	var out []*ledgermodels.Vault
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vault: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVault(row rowScanner) (*ledgermodels.Vault, error) {
	var (
		registryID, holdingID uuid.UUID
		token                 string
		authority             []byte
		bump                  int16
		v                     ledgermodels.Vault
	)
	if err := row.Scan(&registryID, &token, &holdingID, &authority, &bump, &v.CreatedAt); err != nil {
		return nil, err
	}
	v.RegistryID = domain.RegistryID(registryID)
	v.Token = domain.TokenType(token)
	v.HoldingID = domain.HoldingID(holdingID)
	v.Bump = uint8(bump)
	if err := scanIdentity(v.Authority[:], authority, "vault authority"); err != nil {
		return nil, err
	}
	return &v, nil
}

// -----------------------------------------------------------------------------
// Mints
// -----------------------------------------------------------------------------

type mintStore struct{ db *sql.DB }

func (s mintStore) Create(ctx context.Context, m *tokenmodels.Mint) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO mints (token, decimals, authority, supply, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5)
	`, string(m.Token), int16(m.Decimals), m.Authority[:], amountParam(m.Supply), m.CreatedAt)
	if err != nil {
		return createErr(err, "insert mint")
	}
	return nil
}

func (s mintStore) find(ctx context.Context, token domain.TokenType, lock string) (*tokenmodels.Mint, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT token, decimals, authority, supply::text, created_at
		FROM mints WHERE token = $1 `+lock, string(token))
	var (
		tok       string
		decimals  int16
		authority []byte
		supply    string
		m         tokenmodels.Mint
	)
	if err := row.Scan(&tok, &decimals, &authority, &supply, &m.CreatedAt); err != nil {
		return nil, notFound(err, "find mint")
	}
	m.Token = domain.TokenType(tok)
	m.Decimals = uint8(decimals)
	if err := scanIdentity(m.Authority[:], authority, "mint authority"); err != nil {
		return nil, err
	}
	amount, err := parseAmount(supply)
	if err != nil {
		return nil, err
	}
	m.Supply = amount
	return &m, nil
}

func (s mintStore) FindByToken(ctx context.Context, token domain.TokenType) (*tokenmodels.Mint, error) {
	return s.find(ctx, token, "")
}

func (s mintStore) FindForUpdate(ctx context.Context, token domain.TokenType) (*tokenmodels.Mint, error) {
	return s.find(ctx, token, "FOR UPDATE")
}

func (s mintStore) Update(ctx context.Context, m *tokenmodels.Mint) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE mints SET supply = $2::numeric WHERE token = $1
	`, string(m.Token), amountParam(m.Supply))
	if err != nil {
		return fmt.Errorf("update mint: %w", err)
	}
	return requireRow(res, "update mint")
}

// -----------------------------------------------------------------------------
// Holdings
// -----------------------------------------------------------------------------

type holdingStore struct{ db *sql.DB }

func (s holdingStore) Create(ctx context.Context, h *tokenmodels.Holding) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO holdings (id, owner, token, amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
	`, uuid.UUID(h.ID), h.Owner[:], string(h.Token), amountParam(h.Amount), h.CreatedAt, h.UpdatedAt)
	if err != nil {
		return createErr(err, "insert holding")
	}
	return nil
}

func (s holdingStore) find(ctx context.Context, id domain.HoldingID, lock string) (*tokenmodels.Holding, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, owner, token, amount::text, created_at, updated_at
		FROM holdings WHERE id = $1 `+lock, uuid.UUID(id))
	var (
		hid    uuid.UUID
		owner  []byte
		token  string
		amount string
		h      tokenmodels.Holding
	)
	if err := row.Scan(&hid, &owner, &token, &amount, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, notFound(err, "find holding")
	}
	h.ID = domain.HoldingID(hid)
	h.Token = domain.TokenType(token)
	if err := scanIdentity(h.Owner[:], owner, "holding owner"); err != nil {
		return nil, err
	}
	parsed, err := parseAmount(amount)
	if err != nil {
		return nil, err
	}
	h.Amount = parsed
	return &h, nil
}

func (s holdingStore) FindByID(ctx context.Context, id domain.HoldingID) (*tokenmodels.Holding, error) {
	return s.find(ctx, id, "")
}

func (s holdingStore) FindForUpdate(ctx context.Context, id domain.HoldingID) (*tokenmodels.Holding, error) {
	return s.find(ctx, id, "FOR UPDATE")
}

func (s holdingStore) Update(ctx context.Context, h *tokenmodels.Holding) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE holdings SET amount = $2::numeric, updated_at = $3 WHERE id = $1
	`, uuid.UUID(h.ID), amountParam(h.Amount), h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update holding: %w", err)
	}
	return requireRow(res, "update holding")
}

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

type eventStore struct{ db *sql.DB }

const eventColumns = `id, kind, registry_id, account_id, token, amount::text, actor, request_id, occurred_at, published_at`

func (s eventStore) Append(ctx context.Context, e *ledgermodels.Event) error {
	var accountID any
	if !e.AccountID.IsNil() {
		accountID = uuid.UUID(e.AccountID)
	}
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO ledger_events (id, kind, registry_id, account_id, token, amount, actor, request_id, occurred_at, published_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10)
	`, uuid.UUID(e.ID), string(e.Kind), uuid.UUID(e.RegistryID), accountID, string(e.Token),
		amountParam(e.Amount), e.Actor[:], e.RequestID, e.OccurredAt, e.PublishedAt)
	if err != nil {
		return createErr(err, "insert ledger event")
	}
	return nil
}

func (s eventStore) ListByAccount(ctx context.Context, accountID domain.AccountID, limit int) ([]*ledgermodels.Event, error) {
	return s.query(ctx, `
		SELECT `+eventColumns+` FROM ledger_events
		WHERE account_id = $1
		ORDER BY seq
		LIMIT NULLIF($2::bigint, 0)
	`, uuid.UUID(accountID), limit)
}

// ListUnpublished skips rows another relay has locked, so several relays
// can drain the outbox without publishing an event twice.
func (s eventStore) ListUnpublished(ctx context.Context, limit int) ([]*ledgermodels.Event, error) {
	return s.query(ctx, `
		SELECT `+eventColumns+` FROM ledger_events
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT NULLIF($1::bigint, 0)
		FOR UPDATE SKIP LOCKED
	`, limit)
}

func (s eventStore) MarkPublished(ctx context.Context, eventIDs []domain.EventID, at time.Time) error {
	unique := make(map[domain.EventID]struct{}, len(eventIDs))
	ids := make([]string, 0, len(eventIDs))
	for _, id := range eventIDs {
		if _, seen := unique[id]; seen {
			continue
		}
		unique[id] = struct{}{}
		ids = append(ids, id.String())
	}
	if len(ids) == 0 {
		return nil
	}
	exec := txcontext.Exec(ctx, s.db)

	var known int
	if err := exec.QueryRowContext(ctx, `
		SELECT count(*) FROM ledger_events WHERE id = ANY($1::uuid[])
	`, pq.Array(ids)).Scan(&known); err != nil {
		return fmt.Errorf("count ledger events: %w", err)
	}
	if known != len(ids) {
		return sentinel.ErrNotFound
	}
	if _, err := exec.ExecContext(ctx, `
		UPDATE ledger_events SET published_at = $2
		WHERE id = ANY($1::uuid[]) AND published_at IS NULL
	`, pq.Array(ids), at); err != nil {
		return fmt.Errorf("mark ledger events published: %w", err)
	}
	return nil
}

func (s eventStore) query(ctx context.Context, query string, args ...any) ([]*ledgermodels.Event, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger events: %w", err)
	}
	defer rows.Close()

	var out []*ledgermodels.Event
	for rows.Next() {
		var (
			id, registryID uuid.UUID
			accountID      uuid.NullUUID
			kind, token    string
			amount         string
			actor          []byte
			publishedAt    sql.NullTime
			e              ledgermodels.Event
		)
		if err := rows.Scan(&id, &kind, &registryID, &accountID, &token, &amount, &actor,
			&e.RequestID, &e.OccurredAt, &publishedAt); err != nil {
			return nil, fmt.Errorf("scan ledger event: %w", err)
		}
		e.ID = domain.EventID(id)
		e.Kind = ledgermodels.EventKind(kind)
		e.RegistryID = domain.RegistryID(registryID)
		if accountID.Valid {
			e.AccountID = domain.AccountID(accountID.UUID)
		}
		e.Token = domain.TokenType(token)
		parsed, err := parseAmount(amount)
		if err != nil {
			return nil, err
		}
		e.Amount = parsed
		if err := scanIdentity(e.Actor[:], actor, "event actor"); err != nil {
			return nil, err
		}
		if publishedAt.Valid {
			at := publishedAt.Time
			e.PublishedAt = &at
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
