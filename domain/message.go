// Package domain contains core concepts of the chat system.
// This file defines Message values and their targets.
// Messages are immutable once created; identity is assigned by the store.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type TargetKind string

const (
	TargetUser  TargetKind = "user"
	TargetGroup TargetKind = "group"
)

// Target is the resolved destination of a message: either a single user
// or a group whose membership is resolved at fan-out time.
type Target struct {
	Kind TargetKind
	ID   string
}

func UserTarget(userID string) Target {
	return Target{Kind: TargetUser, ID: userID}
}

func GroupTarget(groupID string) Target {
	return Target{Kind: TargetGroup, ID: groupID}
}

// Message represents an immutable chat event.
type Message struct {
	ID        uuid.UUID
	SenderID  string
	Target    Target
	Body      string
	CreatedAt time.Time
}
