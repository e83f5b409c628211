package hub

import (
	"log/slog"

	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/observability"
)

// QueueManager replays durably queued messages the moment their
// recipient's session is (re-)registered. Storage belongs to the
// Message Store; the manager only drives it.
type QueueManager struct {
	log       *slog.Logger
	store     contract.MessageStore
	directory contract.GroupDirectory
	monitor   *observability.Manager

	// deliver is the Router's online push path, bound during hub wiring.
	deliver func(ch contract.Channel, msg domain.Message, recipientID string) error
}

func NewQueueManager(log *slog.Logger, store contract.MessageStore,
	directory contract.GroupDirectory, monitor *observability.Manager) *QueueManager {
	return &QueueManager{log: log, store: store, directory: directory, monitor: monitor}
}

// Enqueue durably records msg as Queued for recipientID. The Router's
// offline branch calls it while holding the recipient's slot lock, so
// the queue write is atomic against a concurrent register + drain.
func (q *QueueManager) Enqueue(msg domain.Message, recipientID string) error {
	return q.store.RecordDelivery(msg.ID, recipientID, domain.StatusQueued)
}

// Drain replays every queued message for userID, oldest first. It runs
// inside the register critical section, so ch is guaranteed live and no
// newer send can overtake the replay.
//
// Queued group messages re-check membership first: a recipient who left
// the group gets a terminal Skipped record, never the message. A
// channel failure mid-drain stops the iteration; records not yet marked
// Delivered stay Queued for the next reconnect.
func (q *QueueManager) Drain(userID string, ch contract.Channel) {
	replayed := 0
	err := q.store.QueuedFor(userID, func(msg domain.Message) error {
		if msg.Target.Kind == domain.TargetGroup {
			member, err := q.directory.IsMember(msg.Target.ID, userID)
			if err != nil {
				return err
			}
			if !member {
				q.log.Info("skipping queued message, recipient left group",
					"user_id", userID,
					"group_id", msg.Target.ID,
					"message_id", msg.ID)
				q.monitor.IncrSkipped()
				return q.store.RecordDelivery(msg.ID, userID, domain.StatusSkipped)
			}
		}

		if err := q.deliver(ch, msg, userID); err != nil {
			return err
		}
		replayed++
		q.monitor.IncrDrained()
		return nil
	})
	if err != nil {
		q.log.Warn("drain interrupted, remaining messages stay queued",
			"user_id", userID,
			"replayed", replayed,
			"error", err)
		return
	}
	if replayed > 0 {
		q.log.Info("queued messages replayed", "user_id", userID, "count", replayed)
	}
}
