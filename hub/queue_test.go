package hub

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/mocks"
	"chat-hub/observability"
)

func queuedMessages(bodies ...string) []domain.Message {
	msgs := make([]domain.Message, 0, len(bodies))
	for _, body := range bodies {
		msgs = append(msgs, domain.Message{
			ID:        uuid.New(),
			SenderID:  "alice",
			Target:    domain.UserTarget("bob"),
			Body:      body,
			CreatedAt: time.Now().UTC(),
		})
	}
	return msgs
}

// streamQueued makes the store mock replay msgs through the visit
// callback, stopping on the first error like the real iterator.
func streamQueued(store *mocks.MockMessageStore, userID string, msgs []domain.Message) {
	store.EXPECT().
		QueuedFor(userID, gomock.Any()).
		DoAndReturn(func(_ string, visit func(domain.Message) error) error {
			for _, msg := range msgs {
				if err := visit(msg); err != nil {
					return err
				}
			}
			return nil
		})
}

func TestQueueManager_DrainReplaysOldestFirst(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockMessageStore(ctrl)
	directory := mocks.NewMockGroupDirectory(ctrl)
	monitor := observability.NewManager(slog.Default())
	manager := NewQueueManager(slog.Default(), store, directory, monitor)

	msgs := queuedMessages("first", "second", "third")
	streamQueued(store, "bob", msgs)

	var replayed []string
	manager.deliver = func(_ contract.Channel, msg domain.Message, recipientID string) error {
		req.Equal("bob", recipientID)
		replayed = append(replayed, msg.Body)
		return nil
	}

	manager.Drain("bob", &captureChannel{})

	req.Equal([]string{"first", "second", "third"}, replayed)
	req.Equal(uint64(3), monitor.Snapshot().Drained)
}

func TestQueueManager_DrainStopsOnChannelFailure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockMessageStore(ctrl)
	directory := mocks.NewMockGroupDirectory(ctrl)
	monitor := observability.NewManager(slog.Default())
	manager := NewQueueManager(slog.Default(), store, directory, monitor)

	msgs := queuedMessages("first", "second", "third")
	streamQueued(store, "bob", msgs)

	// Given a delivery path that breaks on the second message
	var replayed []string
	manager.deliver = func(_ contract.Channel, msg domain.Message, _ string) error {
		if msg.Body == "second" {
			return errors.New("socket gone")
		}
		replayed = append(replayed, msg.Body)
		return nil
	}

	manager.Drain("bob", &captureChannel{})

	// Then the iteration stopped; "third" was never visited
	req.Equal([]string{"first"}, replayed)
	req.Equal(uint64(1), monitor.Snapshot().Drained)
}

func TestQueueManager_DrainSkipsWhenRecipientLeftGroup(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockMessageStore(ctrl)
	directory := mocks.NewMockGroupDirectory(ctrl)
	monitor := observability.NewManager(slog.Default())
	manager := NewQueueManager(slog.Default(), store, directory, monitor)

	groupMsg := domain.Message{
		ID:        uuid.New(),
		SenderID:  "alice",
		Target:    domain.GroupTarget("team"),
		Body:      "meeting at noon",
		CreatedAt: time.Now().UTC(),
	}
	streamQueued(store, "bob", []domain.Message{groupMsg})

	// Given bob left the group while the message was queued
	directory.EXPECT().IsMember("team", "bob").Return(false, nil)
	store.EXPECT().
		RecordDelivery(groupMsg.ID, "bob", domain.StatusSkipped).
		Return(nil)

	manager.deliver = func(contract.Channel, domain.Message, string) error {
		t.Fatal("skipped message must never be delivered")
		return nil
	}

	manager.Drain("bob", &captureChannel{})
	req.Equal(uint64(1), monitor.Snapshot().Skipped)
	req.Equal(uint64(0), monitor.Snapshot().Drained)
}

func TestQueueManager_DrainDeliversToCurrentMembers(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockMessageStore(ctrl)
	directory := mocks.NewMockGroupDirectory(ctrl)
	monitor := observability.NewManager(slog.Default())
	manager := NewQueueManager(slog.Default(), store, directory, monitor)

	groupMsg := domain.Message{
		ID:        uuid.New(),
		SenderID:  "alice",
		Target:    domain.GroupTarget("team"),
		Body:      "meeting at noon",
		CreatedAt: time.Now().UTC(),
	}
	streamQueued(store, "bob", []domain.Message{groupMsg})
	directory.EXPECT().IsMember("team", "bob").Return(true, nil)

	var replayed []string
	manager.deliver = func(_ contract.Channel, msg domain.Message, _ string) error {
		replayed = append(replayed, msg.Body)
		return nil
	}

	manager.Drain("bob", &captureChannel{})
	req.Equal([]string{"meeting at noon"}, replayed)
}
