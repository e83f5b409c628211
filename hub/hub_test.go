package hub

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"chat-hub/domain"
	apperrors "chat-hub/errors"
	"chat-hub/infrastructure/storage"
	"chat-hub/observability"
)

type hubFixture struct {
	hub      *Hub
	users    *storage.UserRepository
	groups   *storage.GroupRepository
	messages *storage.MessageRepository
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	req := require.New(t)
	log := slog.Default()

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	req.NoError(err)
	t.Cleanup(func() { _ = blugeWriter.Close() })

	messages, err := storage.NewMessageRepository(db, log)
	req.NoError(err)
	t.Cleanup(func() { _ = messages.Close() })

	groups := storage.NewGroupRepository(db, log)
	users := storage.NewUserRepository(db, blugeWriter, log, 10)
	monitor := observability.NewManager(log)

	return &hubFixture{
		hub:      New(log, messages, groups, users, monitor),
		users:    users,
		groups:   groups,
		messages: messages,
	}
}

func (f *hubFixture) createUser(t *testing.T, name string) string {
	t.Helper()
	user, err := f.users.CreateUser(name)
	require.NoError(t, err)
	return user.ID
}

func TestHub_DirectSendToOnlineRecipient(t *testing.T) {
	req := require.New(t)
	f := newHubFixture(t)
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")

	ch := &captureChannel{}
	f.hub.Connect(bob, ch)

	ack, err := f.hub.SendDirect(alice, bob, "hey bob")
	req.NoError(err)
	req.Equal(1, ack.Delivered)
	req.Equal(0, ack.Queued)
	req.Equal([]string{"hey bob"}, ch.bodies(t))
}

func TestHub_DirectSendToUnknownRecipient(t *testing.T) {
	req := require.New(t)
	f := newHubFixture(t)
	alice := f.createUser(t, "alice")

	_, err := f.hub.SendDirect(alice, "no-such-user", "hello?")
	req.ErrorIs(err, apperrors.ErrRecipientUnknown)
}

func TestHub_OfflineMessagesReplayInOrderOnReconnect(t *testing.T) {
	req := require.New(t)
	f := newHubFixture(t)
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")

	// Given two messages sent while bob is offline
	ack1, err := f.hub.SendDirect(alice, bob, "first")
	req.NoError(err)
	req.Equal(1, ack1.Queued)

	ack2, err := f.hub.SendDirect(alice, bob, "second")
	req.NoError(err)
	req.Equal(1, ack2.Queued)

	// When bob connects
	ch := &captureChannel{}
	f.hub.Connect(bob, ch)

	// Then both messages were replayed, oldest first, before Connect returned
	req.Equal([]string{"first", "second"}, ch.bodies(t))

	// And a second reconnect replays nothing: exactly-once
	f.hub.Disconnect(bob, ch)
	fresh := &captureChannel{}
	f.hub.Connect(bob, fresh)
	req.Empty(fresh.bodies(t))
}

func TestHub_ConcurrentSendsDuringReconnect(t *testing.T) {
	req := require.New(t)
	f := newHubFixture(t)
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")

	// Given a backlog queued while bob is offline
	backlog := []string{"queued-1", "queued-2", "queued-3"}
	for _, body := range backlog {
		ack, err := f.hub.SendDirect(alice, bob, body)
		req.NoError(err)
		req.Equal(1, ack.Queued)
	}

	// When bob reconnects while alice keeps sending
	const sends = 16
	ch := &captureChannel{}
	errs := make(chan error, sends)
	var wg sync.WaitGroup
	wg.Add(sends + 1)
	go func() {
		defer wg.Done()
		f.hub.Connect(bob, ch)
	}()
	for i := 0; i < sends; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := f.hub.SendDirect(alice, bob, fmt.Sprintf("live-%02d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	// Then the backlog replays first, in order: a send racing the
	// reconnect either lands behind it in the queue or is pushed after
	// the drain, never in between
	bodies := ch.bodies(t)
	req.Equal(backlog, bodies[:len(backlog)])

	// And every message arrives exactly once
	req.Len(bodies, len(backlog)+sends)
	seen := make(map[string]int)
	for _, body := range bodies {
		seen[body]++
	}
	for body, n := range seen {
		req.Equal(1, n, body)
	}
}

func TestHub_GroupFanoutAckMatchesMembership(t *testing.T) {
	req := require.New(t)
	f := newHubFixture(t)
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	carol := f.createUser(t, "carol")

	group, err := f.groups.CreateGroup("team")
	req.NoError(err)
	for _, member := range []string{alice, bob, carol} {
		req.NoError(f.groups.AddMember(group.ID, member))
	}

	bobCh := &captureChannel{}
	f.hub.Connect(bob, bobCh)

	// When alice sends with bob online and carol offline
	ack, err := f.hub.SendGroup(alice, group.ID, "standup in 5")
	req.NoError(err)

	// Then delivered + queued covers every member exactly once
	req.Equal(2, ack.Delivered)
	req.Equal(1, ack.Queued)
	req.Equal([]string{"standup in 5"}, bobCh.bodies(t))

	// Carol receives the queued copy on connect
	carolCh := &captureChannel{}
	f.hub.Connect(carol, carolCh)
	req.Equal([]string{"standup in 5"}, carolCh.bodies(t))
}

func TestHub_QueuedGroupMessageSkippedAfterLeaving(t *testing.T) {
	req := require.New(t)
	f := newHubFixture(t)
	alice := f.createUser(t, "alice")
	carol := f.createUser(t, "carol")

	group, err := f.groups.CreateGroup("team")
	req.NoError(err)
	req.NoError(f.groups.AddMember(group.ID, alice))
	req.NoError(f.groups.AddMember(group.ID, carol))

	// Given a message queued for offline carol
	ack, err := f.hub.SendGroup(alice, group.ID, "secret plans")
	req.NoError(err)
	req.Equal(1, ack.Queued)

	// When carol leaves the group before reconnecting
	req.NoError(f.groups.RemoveMember(group.ID, carol))

	carolCh := &captureChannel{}
	f.hub.Connect(carol, carolCh)

	// Then the message is never delivered and the record is terminal
	req.Empty(carolCh.bodies(t))

	records, err := f.messages.Deliveries(ack.MessageID)
	req.NoError(err)
	statusFor := make(map[string]domain.DeliveryStatus)
	for _, rec := range records {
		statusFor[rec.RecipientID] = rec.Status
	}
	req.Equal(domain.StatusSkipped, statusFor[carol])
	req.Equal(domain.StatusDelivered, statusFor[alice])

	// A later reconnect replays nothing either
	f.hub.Disconnect(carol, carolCh)
	fresh := &captureChannel{}
	f.hub.Connect(carol, fresh)
	req.Empty(fresh.bodies(t))
}

func TestHub_SenderNeverReceivesOwnGroupMessage(t *testing.T) {
	req := require.New(t)
	f := newHubFixture(t)
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")

	group, err := f.groups.CreateGroup("pair")
	req.NoError(err)
	req.NoError(f.groups.AddMember(group.ID, alice))
	req.NoError(f.groups.AddMember(group.ID, bob))

	aliceCh := &captureChannel{}
	bobCh := &captureChannel{}
	f.hub.Connect(alice, aliceCh)
	f.hub.Connect(bob, bobCh)

	ack, err := f.hub.SendGroup(alice, group.ID, "ping")
	req.NoError(err)
	req.Equal(2, ack.Delivered)

	req.Empty(aliceCh.bodies(t))
	req.Equal([]string{"ping"}, bobCh.bodies(t))
}

func TestHub_SupersedingSessionReceivesSubsequentSends(t *testing.T) {
	req := require.New(t)
	f := newHubFixture(t)
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")

	old := &captureChannel{}
	f.hub.Connect(bob, old)

	// When a second device connects for bob
	current := &captureChannel{}
	f.hub.Connect(bob, current)
	req.True(old.isClosed())

	_, err := f.hub.SendDirect(alice, bob, "new phone who dis")
	req.NoError(err)

	req.Empty(old.bodies(t))
	req.Equal([]string{"new phone who dis"}, current.bodies(t))
}
