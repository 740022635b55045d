package audit

import "time"

// Event is an immutable, append-only audit log record of a privileged or
// money-moving action outside normal call billing.
//
// Invariants:
// - Events are never updated or deleted (the table has a trigger for that).
// - user_id is the account whose balance the event concerns.
type Event struct {
	ID     string    `json:"id" db:"id"`
	UserID string    `json:"user_id" db:"user_id"`
	Type   EventType `json:"type" db:"type"`

	// ActorUserID is who caused the event; empty for system actions.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the resolved client IP when the event came from a request.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	CallID     string `json:"call_id,omitempty" db:"call_id"`
	PaymentRef string `json:"payment_ref,omitempty" db:"payment_ref"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is a JSON object with event specific details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeAdminCredit EventType = "admin_credit"
	EventTypeAutoTopup   EventType = "auto_topup"
)
