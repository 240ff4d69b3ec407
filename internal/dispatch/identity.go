package dispatch

import "time"

// IdentityRole discriminates the three kinds of bearer-token principal the
// thin HTTP adapter recognizes. Full user CRUD (profiles, KYC, licensing)
// is an explicit non-goal; this is only enough identity to gate the core
// ride/driver operations and address notification envelopes.
type IdentityRole string

const (
	RolePassenger IdentityRole = "passenger"
	RoleDriver    IdentityRole = "driver"
	RoleAdmin     IdentityRole = "admin"
)

// Identity is an issued bearer token bound to a role and a numeric user id.
// The id doubles as the driver_id/passenger_id used throughout the core
// (presence, locks, notification recipients) and as the
// recipient_user_id on the notification bus.
type Identity struct {
	ID        int64        `json:"id"`
	Role      IdentityRole `json:"role"`
	Token     string       `json:"token"`
	ExpiresAt *time.Time   `json:"expiresAt,omitempty"`
}
