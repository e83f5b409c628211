package domain

import (
	"time"

	"github.com/google/uuid"
)

type DeliveryStatus string

const (
	StatusQueued    DeliveryStatus = "queued"
	StatusDelivered DeliveryStatus = "delivered"
	// StatusSkipped is terminal: the recipient left the target group
	// while the message was still queued, so it is never delivered.
	StatusSkipped DeliveryStatus = "skipped"
)

// Terminal reports whether a status can no longer change.
// Queued may still become Delivered or Skipped; the reverse never happens.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusSkipped
}

// DeliveryRecord tracks the outcome for one intended recipient of a
// message. A user-targeted message has exactly one record; a
// group-targeted message has one per member at fan-out time.
type DeliveryRecord struct {
	MessageID   uuid.UUID
	RecipientID string
	Status      DeliveryStatus
	ResolvedAt  time.Time
}

// Ack summarizes a send for the sender. It is returned synchronously
// and never persisted on its own.
type Ack struct {
	MessageID uuid.UUID
	Delivered int
	Queued    int
}
