package models

import "time"

// TrustProfile is the accumulated reputation of a family member as seen by
// the local node. The ubuntu score is always within [0, 100].
type TrustProfile struct {
	UserID           string             `db:"user_id"`
	UbuntuScore      float64            `db:"ubuntu_score"`
	InteractionCount int                `db:"interaction_count"`
	Qualities        map[string]float64 `db:"-"`
	UpdatedAt        time.Time          `db:"updated_at"`
}

// DefaultUbuntuScore is the neutral score assigned on first interaction.
const DefaultUbuntuScore = 50.0
