package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callbilling/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// Repository is the persistence contract for balances, ledger entries and payments.
// Implementations join the transaction carried by ctx, if any.
type Repository interface {
	GetAccount(ctx context.Context, userID string) (Account, error)

	// LockAccount reads the account and locks it until the surrounding transaction ends.
	LockAccount(ctx context.Context, userID string) (Account, error)

	SetCredits(ctx context.Context, userID string, credits decimal.Decimal, at time.Time) error
	FindEntryByIdempotency(ctx context.Context, userID, key string) (LedgerEntry, bool, error)
	InsertEntry(ctx context.Context, e LedgerEntry) error
	InsertPayment(ctx context.Context, p Payment) error
	ListEntries(ctx context.Context, userID string, from, to time.Time, limit int) ([]LedgerEntry, error)
}

// NOTE: PostgresRepo assumes the users table carries the balance columns and
// ledger_entries has UNIQUE (user_id, idempotency_key).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const accountColumns = `id, credits, auto_topup_enabled, auto_topup_threshold, auto_topup_package_id,
       stripe_customer_id, payment_method_ref, updated_at`

func (r *PostgresRepo) scanAccount(ctx context.Context, q string, userID string) (Account, error) {
	var a Account
	if err := utils.Conn(ctx, r.db).QueryRowContext(ctx, q, userID).Scan(
		&a.UserID,
		&a.Credits,
		&a.AutoTopupEnabled,
		&a.AutoTopupThreshold,
		&a.AutoTopupPackageID,
		&a.StripeCustomerID,
		&a.PaymentMethodRef,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *PostgresRepo) GetAccount(ctx context.Context, userID string) (Account, error) {
	return r.scanAccount(ctx, `SELECT `+accountColumns+` FROM users WHERE id = $1`, userID)
}

func (r *PostgresRepo) LockAccount(ctx context.Context, userID string) (Account, error) {
	// Serializes concurrent money operations per user.
	return r.scanAccount(ctx, `SELECT `+accountColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID)
}

func (r *PostgresRepo) SetCredits(ctx context.Context, userID string, credits decimal.Decimal, at time.Time) error {
	const q = `UPDATE users SET credits = $2, updated_at = $3 WHERE id = $1`
	res, err := utils.Conn(ctx, r.db).ExecContext(ctx, q, userID, credits, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const entryColumns = `id, user_id, type, amount, balance_after, external_ref, idempotency_key, created_at`

func scanEntry(row interface{ Scan(...any) error }) (LedgerEntry, error) {
	var e LedgerEntry
	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.Type,
		&e.Amount,
		&e.BalanceAfter,
		&e.ExternalRef,
		&e.IdempotencyKey,
		&e.CreatedAt,
	)
	return e, err
}

func (r *PostgresRepo) FindEntryByIdempotency(ctx context.Context, userID, key string) (LedgerEntry, bool, error) {
	const q = `
SELECT ` + entryColumns + `
FROM ledger_entries
WHERE user_id = $1 AND idempotency_key = $2
LIMIT 1
`
	e, err := scanEntry(utils.Conn(ctx, r.db).QueryRowContext(ctx, q, userID, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LedgerEntry{}, false, nil
		}
		return LedgerEntry{}, false, err
	}
	return e, true, nil
}

func (r *PostgresRepo) InsertEntry(ctx context.Context, e LedgerEntry) error {
	const q = `
INSERT INTO ledger_entries (` + entryColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
	_, err := utils.Conn(ctx, r.db).ExecContext(ctx, q,
		e.ID,
		e.UserID,
		e.Type,
		e.Amount,
		e.BalanceAfter,
		e.ExternalRef,
		e.IdempotencyKey,
		e.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEntry
	}
	return err
}

func (r *PostgresRepo) InsertPayment(ctx context.Context, p Payment) error {
	const q = `
INSERT INTO payments (
  id, user_id, package_id, amount_cents, currency, credits, provider_ref, status, is_auto_topup, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (provider_ref) DO NOTHING
`
	_, err := utils.Conn(ctx, r.db).ExecContext(ctx, q,
		p.ID,
		p.UserID,
		p.PackageID,
		p.AmountCents,
		p.Currency,
		p.Credits,
		p.ProviderRef,
		p.Status,
		p.IsAutoTopup,
		p.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) ListEntries(ctx context.Context, userID string, from, to time.Time, limit int) ([]LedgerEntry, error) {
	const q = `
SELECT ` + entryColumns + `
FROM ledger_entries
WHERE user_id = $1
  AND ($2::timestamptz IS NULL OR created_at >= $2)
  AND ($3::timestamptz IS NULL OR created_at < $3)
ORDER BY created_at DESC
LIMIT $4
`
	rows, err := utils.Conn(ctx, r.db).QueryContext(ctx, q, userID, nullTime(from), nullTime(to), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 1000
	}
	return limit
}
