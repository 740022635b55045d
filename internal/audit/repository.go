package audit

import (
	"context"
	"database/sql"

	"callbilling/pkg/utils"
)

// PostgresRepo appends to audit_events, joining the transaction in ctx if any.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, user_id, type, actor_user_id, actor_role, ip_address, call_id, payment_ref, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := utils.Conn(ctx, r.db).ExecContext(ctx, q,
		e.ID, e.UserID, string(e.Type), e.ActorUserID, e.ActorRole, e.IPAddress,
		e.CallID, e.PaymentRef, e.Message, e.Metadata, e.CreatedAt,
	)
	return err
}
