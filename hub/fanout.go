package hub

import (
	"fmt"
	"log/slog"
	"sort"

	"chat-hub/contract"
	"chat-hub/domain"
)

// Fanout resolves a group target into its current member set and
// invokes the Router once per member, aggregating the outcomes into a
// single Ack.
type Fanout struct {
	log       *slog.Logger
	router    *Router
	directory contract.GroupDirectory
	store     contract.MessageStore
}

func NewFanout(log *slog.Logger, router *Router, directory contract.GroupDirectory,
	store contract.MessageStore) *Fanout {
	return &Fanout{log: log, router: router, directory: directory, store: store}
}

// Send resolves membership at fan-out time, creates the message, then
// routes it to each member exactly once. Members joining after the
// resolution do not receive it. Members are processed in sorted order
// so the produced delivery records are stable; the aggregate counts do
// not depend on that order.
//
// The sender is part of the member set and is recorded Delivered
// without a push back onto their own stream: they authored the message.
// Channel-level failures for one member never abort the remaining
// members; store failures abort with an error and no Ack.
func (f *Fanout) Send(senderID, groupID, body string) (domain.Ack, error) {
	members, err := f.directory.MembersOf(groupID)
	if err != nil {
		return domain.Ack{}, err
	}
	sort.Strings(members)

	msg, err := f.store.CreateMessage(senderID, domain.GroupTarget(groupID), body)
	if err != nil {
		return domain.Ack{}, fmt.Errorf("create message: %w", err)
	}

	ack := domain.Ack{MessageID: msg.ID}
	for _, member := range members {
		if member == senderID {
			if err := f.store.RecordDelivery(msg.ID, member, domain.StatusDelivered); err != nil {
				return domain.Ack{}, err
			}
			ack.Delivered++
			continue
		}

		status, err := f.router.Route(msg, member)
		if err != nil {
			return domain.Ack{}, err
		}
		switch status {
		case domain.StatusDelivered:
			ack.Delivered++
		case domain.StatusQueued:
			ack.Queued++
		}
	}

	f.log.Debug("fan-out complete",
		"group_id", groupID,
		"message_id", msg.ID,
		"delivered", ack.Delivered,
		"queued", ack.Queued)
	return ack, nil
}
