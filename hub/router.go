package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chat-hub/contract"
	"chat-hub/domain"
	apperrors "chat-hub/errors"
)

// Router is the single "is this user reachable right now" decision
// point, shared by direct sends, group fan-out and queue replay.
type Router struct {
	log      *slog.Logger
	registry *Registry
	store    contract.MessageStore

	// enqueue is the queue manager's durable Queued write, bound during
	// hub wiring. The router decides; the queue manager persists.
	enqueue func(msg domain.Message, recipientID string) error
}

func NewRouter(log *slog.Logger, registry *Registry, store contract.MessageStore) *Router {
	return &Router{log: log, registry: registry, store: store}
}

// envelope is the wire form pushed onto a recipient channel.
type envelope struct {
	Type       string    `json:"type"`
	MessageID  string    `json:"message_id"`
	SenderID   string    `json:"sender_id"`
	TargetKind string    `json:"target_kind"`
	TargetID   string    `json:"target_id"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

func encode(msg domain.Message) ([]byte, error) {
	return json.Marshal(envelope{
		Type:       "message",
		MessageID:  msg.ID.String(),
		SenderID:   msg.SenderID,
		TargetKind: string(msg.Target.Kind),
		TargetID:   msg.Target.ID,
		Body:       msg.Body,
		CreatedAt:  msg.CreatedAt,
	})
}

// Route decides between direct forward and queue-for-later. The whole
// decision, including the durable Queued record on the offline branch,
// runs under the recipient's slot lock: a send racing a reconnect
// either lands before the drain reads the queue or is pushed after the
// drain finished, never in between.
//
// A push failure is treated exactly like an offline recipient. Store
// failures propagate so the caller can retry the whole send.
func (r *Router) Route(msg domain.Message, recipientID string) (domain.DeliveryStatus, error) {
	status := domain.StatusQueued
	err := r.registry.WithSession(recipientID, func(ch contract.Channel) error {
		if ch != nil {
			derr := r.Deliver(ch, msg, recipientID)
			if derr == nil {
				status = domain.StatusDelivered
				return nil
			}
			if !errors.Is(derr, apperrors.ErrChannelUnavailable) {
				return derr
			}
			r.log.Warn("channel push failed, queuing instead",
				"recipient_id", recipientID,
				"message_id", msg.ID,
				"error", derr)
		}
		return r.enqueue(msg, recipientID)
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// Deliver pushes msg onto an already-resolved live channel and records
// the delivery. The record is only written after a confirmed push. Used
// by Route's online branch and by the queue drain, which owns the
// channel for the duration of the online transition.
func (r *Router) Deliver(ch contract.Channel, msg domain.Message, recipientID string) error {
	payload, err := encode(msg)
	if err != nil {
		return err
	}
	if err := ch.Send(payload); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrChannelUnavailable, err)
	}
	return r.store.RecordDelivery(msg.ID, recipientID, domain.StatusDelivered)
}
