//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"chat-hub/domain"

	"github.com/google/uuid"
)

// Channel is the capability set the hub requires from whatever
// bidirectional streaming connection the surrounding service layer
// provides (websocket here, could be a gRPC stream). Send must return
// promptly: implementations buffer and fail fast rather than block on a
// slow client.
type Channel interface {
	Send(payload []byte) error
	Close() error
}

// GroupDirectory resolves group membership. Membership is read at
// fan-out time and re-checked before replaying a queued group message.
type GroupDirectory interface {
	MembersOf(groupID string) ([]string, error)
	IsMember(groupID, userID string) (bool, error)
}

// UserDirectory answers existence checks for direct-message targets.
type UserDirectory interface {
	Exists(userID string) (bool, error)
}

// MessageStore owns durable Message and DeliveryRecord persistence.
// The hub never treats it as the source of truth for who is online.
//
// RecordDelivery is a per-key atomic read-modify-write: a Queued status
// appends the message to the recipient's replay queue, a terminal
// status upgrades the record and removes the queue entry. Status is
// monotonic; downgrades are silently ignored.
//
// QueuedFor streams the recipient's queued messages in enqueue order,
// one at a time. Returning an error from visit stops the iteration.
type MessageStore interface {
	CreateMessage(senderID string, target domain.Target, body string) (domain.Message, error)
	RecordDelivery(messageID uuid.UUID, recipientID string, status domain.DeliveryStatus) error
	QueuedFor(userID string, visit func(msg domain.Message) error) error
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker
// lifecycle events, avoiding manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
