package models

import "time"

// ConsentStatus is the status carried by a single ledger entry.
type ConsentStatus string

const (
	ConsentRequested ConsentStatus = "requested"
	ConsentGranted   ConsentStatus = "granted"
	ConsentDenied    ConsentStatus = "denied"
	ConsentRevoked   ConsentStatus = "revoked"
)

// Well-known consent scopes. Scopes are open-ended strings; these are the
// ones the core itself gates on.
const (
	ScopeMessaging = "messaging"
	ScopeLocation  = "location"
	ScopeStatus    = "status"
	ScopeEmergency = "emergency"
)

// ConsentRecord is one immutable entry in the append-only consent ledger.
// Status changes are new entries referencing the prior one via PrevID, never
// in-place overwrites, so the chain stays auditable.
type ConsentRecord struct {
	ID          string        `db:"id"`
	OwnerID     string        `db:"owner_id"`
	RequesterID string        `db:"requester_id"`
	GranteeID   string        `db:"grantee_id"`
	Scope       string        `db:"scope"`
	Status      ConsentStatus `db:"status"`
	Reason      string        `db:"reason"`
	PrevID      *string       `db:"prev_id"`
	CreatedAt   time.Time     `db:"created_at"`
	GrantedAt   *time.Time    `db:"granted_at"`
	ExpiresAt   *time.Time    `db:"expires_at"`
}

// Expired reports whether a granted entry has passed its expiry. Entries
// without an expiry never expire.
func (r ConsentRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}
