// Package storage provides the BadgerDB-backed implementations of the
// hub's collaborator interfaces: message store, group directory and
// user directory.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"chat-hub/domain"
)

// MessageRepository persists messages, per-recipient delivery records
// and the replay queues in BadgerDB.
//
// Key layout:
//   - "msg:{message_id}"                  message body and metadata
//   - "dlv:{message_id}:{recipient_id}"   delivery record
//   - "queue:{recipient_id}:{seq_padded}" replay queue entry -> message_id
//
// Queue keys embed a 19-digit zero-padded sequence number allocated
// from a badger.Sequence, so a plain prefix scan yields the exact
// enqueue order (lexicographical order equals numeric order).
type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
	seq *badger.Sequence
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) (*MessageRepository, error) {
	seq, err := db.GetSequence([]byte("seq:queue"), 128)
	if err != nil {
		return nil, fmt.Errorf("queue sequence: %w", err)
	}
	return &MessageRepository{db: db, log: log, seq: seq}, nil
}

// Close releases the unclaimed part of the queue sequence.
func (m *MessageRepository) Close() error {
	return m.seq.Release()
}

type storedMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	TargetKind string    `json:"target_kind"`
	TargetID   string    `json:"target_id"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

type deliveryRecord struct {
	MessageID   string                `json:"message_id"`
	RecipientID string                `json:"recipient_id"`
	Status      domain.DeliveryStatus `json:"status"`
	// Seq is set while the record is Queued; it locates the replay
	// queue entry that a terminal transition must remove.
	Seq        *uint64   `json:"seq,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

func messageKey(id string) []byte {
	return []byte("msg:" + id)
}

func deliveryKey(messageID uuid.UUID, recipientID string) []byte {
	return []byte(fmt.Sprintf("dlv:%s:%s", messageID, recipientID))
}

func queueKey(recipientID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("queue:%s:%019d", recipientID, seq))
}

// CreateMessage assigns the identity and persists the immutable message.
func (m *MessageRepository) CreateMessage(senderID string, target domain.Target, body string) (domain.Message, error) {
	msg := domain.Message{
		ID:        uuid.New(),
		SenderID:  senderID,
		Target:    target,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(storedMessage{
		ID:         msg.ID.String(),
		SenderID:   msg.SenderID,
		TargetKind: string(msg.Target.Kind),
		TargetID:   msg.Target.ID,
		Body:       msg.Body,
		CreatedAt:  msg.CreatedAt,
	})
	if err != nil {
		return domain.Message{}, err
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(msg.ID.String()), data)
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("store message: %w", err)
	}
	return msg, nil
}

// RecordDelivery applies a per-key atomic read-modify-write on the
// delivery record. Status is monotonic: Queued never overwrites an
// existing record, and a terminal status never downgrades. Writing
// Queued appends a replay queue entry; writing a terminal status
// removes it, so the next drain for the recipient starts empty.
func (m *MessageRepository) RecordDelivery(messageID uuid.UUID, recipientID string, status domain.DeliveryStatus) error {
	now := time.Now().UTC()
	err := m.db.Update(func(txn *badger.Txn) error {
		key := deliveryKey(messageID, recipientID)
		existing, err := m.getRecord(txn, key)
		if err != nil {
			return err
		}

		if status == domain.StatusQueued {
			if existing != nil {
				return nil
			}
			seq, err := m.seq.Next()
			if err != nil {
				return err
			}
			if err := txn.Set(queueKey(recipientID, seq), []byte(messageID.String())); err != nil {
				return err
			}
			return putRecord(txn, key, deliveryRecord{
				MessageID:   messageID.String(),
				RecipientID: recipientID,
				Status:      domain.StatusQueued,
				Seq:         &seq,
				ResolvedAt:  now,
			})
		}

		if existing != nil && existing.Status.Terminal() {
			return nil
		}
		if existing != nil && existing.Seq != nil {
			if err := txn.Delete(queueKey(recipientID, *existing.Seq)); err != nil {
				return err
			}
		}
		return putRecord(txn, key, deliveryRecord{
			MessageID:   messageID.String(),
			RecipientID: recipientID,
			Status:      status,
			ResolvedAt:  now,
		})
	})
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// QueuedFor streams userID's queued messages in enqueue order, one at a
// time. The iteration runs on a read snapshot; visit may record
// delivery transitions through concurrent write transactions. Returning
// an error from visit stops the stream.
func (m *MessageRepository) QueuedFor(userID string, visit func(msg domain.Message) error) error {
	return m.db.View(func(txn *badger.Txn) error {
		prefix := []byte("queue:" + userID + ":")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rawID, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			msg, err := m.getMessage(txn, string(rawID))
			if err != nil {
				return err
			}
			if err := visit(msg); err != nil {
				return err
			}
		}
		return nil
	})
}

// Deliveries returns every delivery record produced for a message, used
// by the inspector and by tests.
func (m *MessageRepository) Deliveries(messageID uuid.UUID) ([]domain.DeliveryRecord, error) {
	var records []domain.DeliveryRecord
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("dlv:%s:", messageID))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec deliveryRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			records = append(records, domain.DeliveryRecord{
				MessageID:   messageID,
				RecipientID: rec.RecipientID,
				Status:      rec.Status,
				ResolvedAt:  rec.ResolvedAt,
			})
		}
		return nil
	})
	return records, err
}

func (m *MessageRepository) getMessage(txn *badger.Txn, id string) (domain.Message, error) {
	item, err := txn.Get(messageKey(id))
	if err != nil {
		return domain.Message{}, fmt.Errorf("load message %s: %w", id, err)
	}

	var stored storedMessage
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &stored)
	})
	if err != nil {
		return domain.Message{}, err
	}

	parsedID, err := uuid.Parse(stored.ID)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:       parsedID,
		SenderID: stored.SenderID,
		Target: domain.Target{
			Kind: domain.TargetKind(stored.TargetKind),
			ID:   stored.TargetID,
		},
		Body:      stored.Body,
		CreatedAt: stored.CreatedAt,
	}, nil
}

func (m *MessageRepository) getRecord(txn *badger.Txn, key []byte) (*deliveryRecord, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec deliveryRecord
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func putRecord(txn *badger.Txn, key []byte, rec deliveryRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}
