package models

import "time"

// TriggerType classifies a safety-automation trigger.
type TriggerType string

const (
	TriggerCheckIn   TriggerType = "check-in"
	TriggerGeofence  TriggerType = "geofence"
	TriggerEmergency TriggerType = "emergency"
	TriggerCustom    TriggerType = "custom"
)

// TriggerState is the lifecycle state of a trigger.
type TriggerState string

const (
	TriggerArmed     TriggerState = "armed"
	TriggerTriggered TriggerState = "triggered"
	TriggerResolved  TriggerState = "resolved"
	TriggerDisabled  TriggerState = "disabled"
)

// Location is a WGS84 coordinate.
type Location struct {
	Latitude  float64 `db:"latitude" json:"latitude"`
	Longitude float64 `db:"longitude" json:"longitude"`
}

// TriggerCondition holds the type-specific parameters of a trigger. Only the
// fields relevant to the trigger's type are set.
type TriggerCondition struct {
	// Geofence: perimeter center and radius in meters.
	Center       Location
	RadiusMeters float64
	// Check-in: how long the owner may stay silent before the trigger fires.
	Interval time.Duration
	// Custom/emergency: free-form detail supplied by the creator.
	Detail string
}

// Trigger is a safety-automation rule evaluated by the trigger manager.
type Trigger struct {
	TriggerID       string
	Type            TriggerType
	OwnerID         string
	Condition       TriggerCondition
	State           TriggerState
	LastEvaluatedAt time.Time
}

// CheckIn is a recorded owner check-in event.
type CheckIn struct {
	ID        int64     `db:"id"`
	OwnerID   string    `db:"owner_id"`
	Latitude  float64   `db:"latitude"`
	Longitude float64   `db:"longitude"`
	CheckedAt time.Time `db:"checked_at"`
}
