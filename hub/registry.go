// Package hub routes chat messages between live sessions: it tracks
// who currently holds a delivery channel, decides per-recipient between
// direct forward and queue-for-later, fans group messages out to their
// resolved members and replays queued messages on reconnect.
package hub

import (
	"log/slog"
	"sync"
	"time"

	"chat-hub/contract"
)

// OnlineFunc is invoked synchronously inside the register critical
// section, before Register returns. Replay and newly-arriving sends to
// the same user are therefore strictly ordered around the connection
// becoming visible.
type OnlineFunc func(userID string, ch contract.Channel)

// Registry maps a user identity to at most one live outbound channel.
// Each user owns a dedicated slot with its own mutex so that unrelated
// users' traffic never serializes; the registry-level lock only guards
// slot creation.
type Registry struct {
	log      *slog.Logger
	mu       sync.RWMutex
	slots    map[string]*slot
	onOnline OnlineFunc
}

type slot struct {
	mu          sync.Mutex
	ch          contract.Channel
	connectedAt time.Time
	// removed marks a slot taken out of the map; holders of a stale
	// pointer must go back through lockSlot.
	removed bool
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:   log,
		slots: make(map[string]*slot),
	}
}

func (r *Registry) slotFor(userID string) *slot {
	r.mu.RLock()
	s, ok := r.slots[userID]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.slots[userID]; ok {
		return s
	}
	s = &slot{}
	r.slots[userID] = s
	return s
}

// lockSlot returns the user's slot with its mutex held. A slot removed
// between lookup and lock is retried so nobody operates on an orphan.
func (r *Registry) lockSlot(userID string) *slot {
	for {
		s := r.slotFor(userID)
		s.mu.Lock()
		if !s.removed {
			return s
		}
		s.mu.Unlock()
	}
}

// removeIfEmpty drops userID's slot from the map once no channel is
// bound, so the registry does not grow with every identity ever seen.
// Lock order is registry before slot, same as Online.
func (r *Registry) removeIfEmpty(userID string, s *slot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.slots[userID] == s && s.ch == nil {
		s.removed = true
		delete(r.slots, userID)
	}
}

// Register installs ch as the live session for userID. A prior session
// for the same user is closed first: never two simultaneously-active
// channels per user. The became-online hook runs while the slot is
// still locked, making register + drain one atomic unit relative to
// concurrent sends to this user.
func (r *Registry) Register(userID string, ch contract.Channel) {
	s := r.lockSlot(userID)
	defer s.mu.Unlock()

	if s.ch != nil {
		_ = s.ch.Close()
		r.log.Warn("superseding live session", "user_id", userID)
	}
	s.ch = ch
	s.connectedAt = time.Now().UTC()
	r.log.Debug("session registered", "user_id", userID)

	if r.onOnline != nil {
		r.onOnline(userID, ch)
	}
}

// Unregister removes the session only if ch is still the channel on
// record. A stale disconnect racing a newer connect is silently
// ignored, so the newer session is never clobbered. The emptied slot
// is dropped from the map afterwards.
func (r *Registry) Unregister(userID string, ch contract.Channel) {
	s := r.lockSlot(userID)
	if s.ch != ch {
		s.mu.Unlock()
		r.log.Debug("ignoring stale disconnect", "user_id", userID)
		return
	}
	_ = s.ch.Close()
	s.ch = nil
	s.mu.Unlock()

	r.removeIfEmpty(userID, s)
	r.log.Debug("session unregistered", "user_id", userID)
}

// Lookup returns the live channel for userID, if any.
func (r *Registry) Lookup(userID string) (contract.Channel, bool) {
	s := r.lockSlot(userID)
	ch := s.ch
	s.mu.Unlock()

	if ch == nil {
		r.removeIfEmpty(userID, s)
		return nil, false
	}
	return ch, true
}

// WithSession runs fn under userID's slot lock; fn receives nil when
// the user is offline. Routing decisions and their follow-up
// persistence happen inside fn so they are atomic relative to connects
// and disconnects of the same user.
func (r *Registry) WithSession(userID string, fn func(ch contract.Channel) error) error {
	s := r.lockSlot(userID)
	err := fn(s.ch)
	empty := s.ch == nil
	s.mu.Unlock()

	// Sending to an offline user must not leave a slot behind.
	if empty {
		r.removeIfEmpty(userID, s)
	}
	return err
}

// Online counts live sessions. The slot pointers are snapshotted first
// so the registry lock is never held while waiting on a busy slot, and
// new users can keep registering during the count.
func (r *Registry) Online() int {
	r.mu.RLock()
	slots := make([]*slot, 0, len(r.slots))
	for _, s := range r.slots {
		slots = append(slots, s)
	}
	r.mu.RUnlock()

	count := 0
	for _, s := range slots {
		s.mu.Lock()
		if s.ch != nil {
			count++
		}
		s.mu.Unlock()
	}
	return count
}
