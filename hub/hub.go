package hub

import (
	"fmt"
	"log/slog"

	"chat-hub/contract"
	"chat-hub/domain"
	apperrors "chat-hub/errors"
	"chat-hub/observability"
)

// Hub is the single entry point the surrounding service layer calls.
// It owns session lifecycle and the transient fan-out computation; the
// injected stores own everything durable.
type Hub struct {
	log      *slog.Logger
	registry *Registry
	router   *Router
	fanout   *Fanout
	queue    *QueueManager
	store    contract.MessageStore
	users    contract.UserDirectory
	monitor  *observability.Manager
}

func New(log *slog.Logger, store contract.MessageStore, directory contract.GroupDirectory,
	users contract.UserDirectory, monitor *observability.Manager) *Hub {
	registry := NewRegistry(log)
	router := NewRouter(log, registry, store)
	queue := NewQueueManager(log, store, directory, monitor)
	queue.deliver = router.Deliver
	router.enqueue = queue.Enqueue
	registry.onOnline = queue.Drain
	fanout := NewFanout(log, router, directory, store)

	return &Hub{
		log:      log,
		registry: registry,
		router:   router,
		fanout:   fanout,
		queue:    queue,
		store:    store,
		users:    users,
		monitor:  monitor,
	}
}

// Connect installs ch as userID's live channel. Any messages queued
// while the user was offline are replayed, in order, before Connect
// returns.
func (h *Hub) Connect(userID string, ch contract.Channel) {
	h.registry.Register(userID, ch)
	h.monitor.IncrSessions()
}

// Disconnect tears down the session bound to ch. Idempotent: repeating
// it, or calling it after a superseding Connect, has no effect on the
// newer session.
func (h *Hub) Disconnect(userID string, ch contract.Channel) {
	h.registry.Unregister(userID, ch)
	h.monitor.DecrSessions()
}

// SendDirect creates the message and routes it to a single recipient.
// The Ack reports delivered=1 xor queued=1.
func (h *Hub) SendDirect(senderID, recipientID, body string) (domain.Ack, error) {
	known, err := h.users.Exists(recipientID)
	if err != nil {
		return domain.Ack{}, fmt.Errorf("recipient lookup: %w", err)
	}
	if !known {
		return domain.Ack{}, apperrors.ErrRecipientUnknown
	}

	msg, err := h.store.CreateMessage(senderID, domain.UserTarget(recipientID), body)
	if err != nil {
		return domain.Ack{}, fmt.Errorf("create message: %w", err)
	}

	status, err := h.router.Route(msg, recipientID)
	if err != nil {
		return domain.Ack{}, err
	}

	ack := domain.Ack{MessageID: msg.ID}
	switch status {
	case domain.StatusDelivered:
		ack.Delivered = 1
		h.monitor.IncrDelivered()
	case domain.StatusQueued:
		ack.Queued = 1
		h.monitor.IncrQueued()
	}
	return ack, nil
}

// SendGroup fans the message out to every current member of groupID.
// delivered + queued always equals the member count at fan-out time.
func (h *Hub) SendGroup(senderID, groupID, body string) (domain.Ack, error) {
	ack, err := h.fanout.Send(senderID, groupID, body)
	if err != nil {
		return domain.Ack{}, err
	}
	h.monitor.AddDelivered(uint64(ack.Delivered))
	h.monitor.AddQueued(uint64(ack.Queued))
	return ack, nil
}

// Online reports the number of live sessions.
func (h *Hub) Online() int {
	return h.registry.Online()
}
