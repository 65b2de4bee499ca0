package models

import "time"

// DeliveryState tracks a message's progress through the delivery pipeline.
// The state only ever advances: queued -> sent -> acked, or queued/sent ->
// failed. It never regresses from acked.
type DeliveryState string

const (
	DeliveryQueued DeliveryState = "queued"
	DeliverySent   DeliveryState = "sent"
	DeliveryAcked  DeliveryState = "acked"
	DeliveryFailed DeliveryState = "failed"
)

// deliveryRank orders states for the monotonic-advance check.
var deliveryRank = map[DeliveryState]int{
	DeliveryQueued: 0,
	DeliverySent:   1,
	DeliveryAcked:  2,
	DeliveryFailed: 2,
}

// CanAdvance reports whether a transition from s to next is a legal forward
// move. Terminal states (acked, failed) admit no further transitions.
func (s DeliveryState) CanAdvance(next DeliveryState) bool {
	if s == DeliveryAcked || s == DeliveryFailed {
		return false
	}
	return deliveryRank[next] > deliveryRank[s]
}

// BroadcastScope names the audience of a fan-out message.
type BroadcastScope string

const (
	BroadcastFamily BroadcastScope = "family"
)

// Message is a single application-level message tracked by the bridge from
// send request until acknowledgement or retry exhaustion.
type Message struct {
	MessageID      string         `db:"message_id"`
	SenderID       string         `db:"sender_id"`
	RecipientID    string         `db:"recipient_id"`
	BroadcastScope BroadcastScope `db:"broadcast_scope"`
	Scope          string         `db:"scope"`
	Payload        []byte         `db:"payload"`
	CreatedAt      time.Time      `db:"created_at"`
	DeliveryState  DeliveryState  `db:"delivery_state"`
	RetryCount     int            `db:"retry_count"`
}
