package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-hub/contract"
)

// captureChannel records every payload pushed through it.
type captureChannel struct {
	mu       sync.Mutex
	payloads [][]byte
	closed   bool
	failSend bool
}

func (c *captureChannel) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("socket gone")
	}
	c.payloads = append(c.payloads, append([]byte(nil), payload...))
	return nil
}

func (c *captureChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *captureChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// bodies decodes the captured envelopes and returns their message bodies in push order.
func (c *captureChannel) bodies(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	for _, p := range c.payloads {
		var env envelope
		require.NoError(t, json.Unmarshal(p, &env))
		out = append(out, env.Body)
	}
	return out
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())
	ch := &captureChannel{}

	// When registering a session
	registry.Register("alice", ch)

	// Then the channel is resolvable and counted
	got, ok := registry.Lookup("alice")
	req.True(ok)
	req.Same(ch, got.(*captureChannel))
	req.Equal(1, registry.Online())
}

func TestRegistry_SupersedeClosesPriorSession(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())
	first := &captureChannel{}
	second := &captureChannel{}

	registry.Register("alice", first)

	// When a second session registers for the same user
	registry.Register("alice", second)

	// Then the first channel is closed and only the second is live
	req.True(first.isClosed())
	got, ok := registry.Lookup("alice")
	req.True(ok)
	req.Same(second, got.(*captureChannel))
	req.Equal(1, registry.Online())
}

func TestRegistry_StaleUnregisterIsIgnored(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())
	old := &captureChannel{}
	current := &captureChannel{}

	registry.Register("alice", old)
	registry.Register("alice", current)

	// When the superseded session finally tears down
	registry.Unregister("alice", old)

	// Then the newer session is untouched
	got, ok := registry.Lookup("alice")
	req.True(ok)
	req.Same(current, got.(*captureChannel))
}

func TestRegistry_UnregisterRemovesSession(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())
	ch := &captureChannel{}

	registry.Register("alice", ch)
	registry.Unregister("alice", ch)

	_, ok := registry.Lookup("alice")
	req.False(ok)
	req.True(ch.isClosed())
	req.Equal(0, registry.Online())
}

func TestRegistry_EmptySlotsAreReclaimed(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())

	// Given sends to many offline users and a completed session lifecycle
	for i := 0; i < 50; i++ {
		err := registry.WithSession(fmt.Sprintf("ghost-%02d", i), func(ch contract.Channel) error {
			req.Nil(ch)
			return nil
		})
		req.NoError(err)
	}
	ch := &captureChannel{}
	registry.Register("alice", ch)
	registry.Unregister("alice", ch)
	_, ok := registry.Lookup("nobody")
	req.False(ok)

	// Then no per-user state lingers
	registry.mu.RLock()
	remaining := len(registry.slots)
	registry.mu.RUnlock()
	req.Zero(remaining)

	// And a fresh session after the cleanup registers normally
	fresh := &captureChannel{}
	registry.Register("alice", fresh)
	got, ok := registry.Lookup("alice")
	req.True(ok)
	req.Same(fresh, got.(*captureChannel))
}

func TestRegistry_OnlineDoesNotBlockUnrelatedRegistrations(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())
	registry.Register("alice", &captureChannel{})

	// Given alice's slot held by a long-running routing decision
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = registry.WithSession("alice", func(ch contract.Channel) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	// And a session count in flight, stuck behind alice's slot
	counted := make(chan int, 1)
	go func() { counted <- registry.Online() }()

	// When a different user connects
	done := make(chan struct{})
	go func() {
		registry.Register("bob", &captureChannel{})
		close(done)
	}()

	// Then the new registration is not held up by the count
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("registering bob blocked behind the session count")
	}

	close(release)
	req.GreaterOrEqual(<-counted, 1)
}

func TestRegistry_OnOnlineFiresInsideRegister(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())
	ch := &captureChannel{}

	var hookUser string
	var hookCh contract.Channel
	registry.onOnline = func(userID string, c contract.Channel) {
		hookUser = userID
		hookCh = c
	}

	registry.Register("alice", ch)

	// The hook already ran by the time Register returned
	req.Equal("alice", hookUser)
	req.Same(ch, hookCh.(*captureChannel))
}

func TestRegistry_WithSessionSeesOfflineAsNil(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())

	var seen contract.Channel = &captureChannel{}
	err := registry.WithSession("nobody", func(ch contract.Channel) error {
		seen = ch
		return nil
	})
	req.NoError(err)
	req.Nil(seen)
}
