package hub

import (
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"chat-hub/domain"
	apperrors "chat-hub/errors"
	"chat-hub/mocks"
)

func TestFanout_CountsMatchMembershipAtSendTime(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockMessageStore(ctrl)
	directory := mocks.NewMockGroupDirectory(ctrl)
	registry := NewRegistry(slog.Default())
	router := NewRouter(slog.Default(), registry, store)
	wireEnqueue(t, router, store)
	fanout := NewFanout(slog.Default(), router, directory, store)

	// Given a three-member group: alice (sender), bob (online), carol (offline)
	bobCh := &captureChannel{}
	registry.Register("bob", bobCh)

	msg := domain.Message{
		ID:        uuid.New(),
		SenderID:  "alice",
		Target:    domain.GroupTarget("team"),
		Body:      "standup now",
		CreatedAt: time.Now().UTC(),
	}

	directory.EXPECT().MembersOf("team").Return([]string{"carol", "alice", "bob"}, nil)
	store.EXPECT().
		CreateMessage("alice", domain.GroupTarget("team"), "standup now").
		Return(msg, nil)

	// Sender recorded Delivered without a push; bob pushed; carol queued
	store.EXPECT().RecordDelivery(msg.ID, "alice", domain.StatusDelivered).Return(nil)
	store.EXPECT().RecordDelivery(msg.ID, "bob", domain.StatusDelivered).Return(nil)
	store.EXPECT().RecordDelivery(msg.ID, "carol", domain.StatusQueued).Return(nil)

	ack, err := fanout.Send("alice", "team", "standup now")
	req.NoError(err)

	req.Equal(msg.ID, ack.MessageID)
	req.Equal(2, ack.Delivered)
	req.Equal(1, ack.Queued)
	req.Equal(3, ack.Delivered+ack.Queued)

	// Only bob's stream saw the message; the sender gets no echo
	req.Equal([]string{"standup now"}, bobCh.bodies(t))
}

func TestFanout_GroupLookupFailureAborts(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockMessageStore(ctrl)
	directory := mocks.NewMockGroupDirectory(ctrl)
	registry := NewRegistry(slog.Default())
	router := NewRouter(slog.Default(), registry, store)
	wireEnqueue(t, router, store)
	fanout := NewFanout(slog.Default(), router, directory, store)

	directory.EXPECT().MembersOf("ghost").Return(nil, apperrors.ErrGroupUnknown)

	_, err := fanout.Send("alice", "ghost", "anyone here?")
	req.ErrorIs(err, apperrors.ErrGroupUnknown)
}

func TestFanout_ChannelFailureDoesNotAbortOtherMembers(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockMessageStore(ctrl)
	directory := mocks.NewMockGroupDirectory(ctrl)
	registry := NewRegistry(slog.Default())
	router := NewRouter(slog.Default(), registry, store)
	wireEnqueue(t, router, store)
	fanout := NewFanout(slog.Default(), router, directory, store)

	// bob's channel rejects the push, carol's accepts it
	registry.Register("bob", &captureChannel{failSend: true})
	carolCh := &captureChannel{}
	registry.Register("carol", carolCh)

	msg := domain.Message{
		ID:        uuid.New(),
		SenderID:  "alice",
		Target:    domain.GroupTarget("team"),
		Body:      "ship it",
		CreatedAt: time.Now().UTC(),
	}

	directory.EXPECT().MembersOf("team").Return([]string{"bob", "carol"}, nil)
	store.EXPECT().
		CreateMessage("alice", domain.GroupTarget("team"), "ship it").
		Return(msg, nil)
	store.EXPECT().RecordDelivery(msg.ID, "bob", domain.StatusQueued).Return(nil)
	store.EXPECT().RecordDelivery(msg.ID, "carol", domain.StatusDelivered).Return(nil)

	ack, err := fanout.Send("alice", "team", "ship it")
	req.NoError(err)
	req.Equal(1, ack.Delivered)
	req.Equal(1, ack.Queued)
	req.Equal([]string{"ship it"}, carolCh.bodies(t))
}
