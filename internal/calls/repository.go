package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callbilling/pkg/utils"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresStore is the Store backed by the calls table.
//
// Expected constraints (see internal/migrations):
// - UNIQUE (carrier_call_id)
// - related_call_id REFERENCES calls(id)
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const callColumns = `id, carrier_call_id, user_id, destination_number, status, direction,
       duration_seconds, credits_used, related_call_id, started_at, ended_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (CallRecord, error) {
	var (
		r       CallRecord
		related sql.NullString
		ended   sql.NullTime
	)
	if err := row.Scan(
		&r.ID,
		&r.CarrierCallID,
		&r.UserID,
		&r.DestinationNumber,
		&r.Status,
		&r.Direction,
		&r.DurationSeconds,
		&r.CreditsUsed,
		&related,
		&r.StartedAt,
		&ended,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return CallRecord{}, err
	}
	r.RelatedCallID = related.String
	if ended.Valid {
		t := ended.Time
		r.EndedAt = &t
	}
	return r, nil
}

func queryOne(ctx context.Context, q utils.DBTX, query string, args ...any) (CallRecord, error) {
	r, err := scanCall(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}
	return r, nil
}

func queryMany(ctx context.Context, q utils.DBTX, query string, args ...any) ([]CallRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		r, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
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

func (s *PostgresStore) Create(ctx context.Context, rec CallRecord) (CallRecord, error) {
	if rec.UserID == "" || rec.CarrierCallID == "" {
		return CallRecord{}, ErrInvalidArgument
	}
	now := s.clock().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = CallStatusInitiated
	}
	if rec.DestinationNumber == "" {
		rec.DestinationNumber = UnknownDestination
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	const q = `
INSERT INTO calls (
  id, carrier_call_id, user_id, destination_number, status, direction,
  duration_seconds, credits_used, related_call_id, started_at, ended_at, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9, ''),$10,$11,$12,$13
)
RETURNING ` + callColumns

	var ended sql.NullTime
	if rec.EndedAt != nil {
		ended = nullTime(*rec.EndedAt)
	}
	out, err := queryOne(ctx, utils.Conn(ctx, s.db), q,
		rec.ID,
		rec.CarrierCallID,
		rec.UserID,
		rec.DestinationNumber,
		rec.Status,
		rec.Direction,
		rec.DurationSeconds,
		rec.CreditsUsed,
		rec.RelatedCallID,
		rec.StartedAt,
		ended,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return CallRecord{}, ErrDuplicateCarrierID
	}
	return out, err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (CallRecord, error) {
	const q = `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	return queryOne(ctx, utils.Conn(ctx, s.db), q, id)
}

func (s *PostgresStore) GetForUpdate(ctx context.Context, id string) (CallRecord, error) {
	const q = `SELECT ` + callColumns + ` FROM calls WHERE id = $1 FOR UPDATE`
	return queryOne(ctx, utils.Conn(ctx, s.db), q, id)
}

func (s *PostgresStore) GetByCarrierID(ctx context.Context, carrierCallID string) (CallRecord, error) {
	if carrierCallID == "" {
		return CallRecord{}, ErrNotFound
	}
	const q = `SELECT ` + callColumns + ` FROM calls WHERE carrier_call_id = $1`
	return queryOne(ctx, utils.Conn(ctx, s.db), q, carrierCallID)
}

func (s *PostgresStore) FindRecentByUserAndDestination(ctx context.Context, userID, destination string, around time.Time, window time.Duration) ([]CallRecord, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE user_id = $1
  AND destination_number = $2
  AND started_at BETWEEN $3 AND $4
ORDER BY started_at DESC
LIMIT 20
`
	return queryMany(ctx, utils.Conn(ctx, s.db), q, userID, destination, around.Add(-window), around.Add(window))
}

func (s *PostgresStore) FindLatestProvisional(ctx context.Context, userID string, notBefore time.Time) (CallRecord, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE user_id = $1
  AND status = 'initiated'
  AND starts_with(carrier_call_id, $2)
  AND ($3::timestamptz IS NULL OR created_at >= $3)
ORDER BY created_at DESC
LIMIT 1
`
	return queryOne(ctx, utils.Conn(ctx, s.db), q, userID, TempIDPrefix, nullTime(notBefore))
}

func (s *PostgresStore) Settle(ctx context.Context, id string, p SettleParams) (CallRecord, error) {
	if err := validateSettle(id, p); err != nil {
		return CallRecord{}, err
	}
	now := s.clock().UTC()
	if p.EndedAt.IsZero() {
		p.EndedAt = now
	}

	// The WHERE clause is the last line of the idempotency guard: a row that is
	// billed, linked, failed or busy never matches.
	const q = `
UPDATE calls SET
  status = $2,
  duration_seconds = $3,
  credits_used = $4,
  carrier_call_id = COALESCE(NULLIF($5, ''), carrier_call_id),
  destination_number = CASE
    WHEN destination_number = 'unknown' AND $6 <> '' AND $6 <> 'unknown' THEN $6
    ELSE destination_number
  END,
  related_call_id = NULLIF($7, ''),
  direction = COALESCE(NULLIF($8, ''), direction),
  ended_at = $9,
  updated_at = $10
WHERE id = $1
  AND related_call_id IS NULL
  AND (status = 'initiated' OR (status = 'completed' AND credits_used = 0))
RETURNING ` + callColumns

	out, err := queryOne(ctx, utils.Conn(ctx, s.db), q,
		id,
		p.Status,
		p.DurationSeconds,
		p.CreditsUsed,
		p.CarrierCallID,
		p.DestinationNumber,
		p.RelatedCallID,
		p.Direction,
		p.EndedAt,
		now,
	)
	switch {
	case errors.Is(err, ErrNotFound):
		return CallRecord{}, ErrAlreadySettled
	case isUniqueViolation(err):
		return CallRecord{}, ErrDuplicateCarrierID
	}
	return out, err
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, from, to time.Time, limit int) ([]CallRecord, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE user_id = $1
  AND ($2::timestamptz IS NULL OR started_at >= $2)
  AND ($3::timestamptz IS NULL OR started_at < $3)
ORDER BY started_at DESC
LIMIT $4
`
	return queryMany(ctx, utils.Conn(ctx, s.db), q, userID, nullTime(from), nullTime(to), clampLimit(limit))
}
