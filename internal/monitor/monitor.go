// Package monitor tracks each connected user's matchmaking state and reacts
// to presence changes pushed by the presence store. Its one real job is
// telling a partner-initiated unpair ("partner left") apart from one the
// user caused themselves, and re-entering the abandoned user into matching.
package monitor

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/roulette/chat-app/internal/presence"
)

// State is a user's position in the matchmaking lifecycle.
type State int

const (
	StateIdle State = iota
	StateSearching
	StatePaired
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StatePaired:
		return "paired"
	case StateLeaving:
		return "leaving"
	default:
		return "unknown"
	}
}

// Callbacks are invoked on transitions the owning server must act on. Both
// are called without the monitor lock held and may be nil.
type Callbacks struct {
	// PartnerLeft fires on Paired -> Searching: the user's partner vanished
	// and the user should be re-enqueued immediately.
	PartnerLeft func(userID, oldPartner string)

	// Matched fires when a pairing is observed via a presence change the
	// user did not initiate (they were claimed by someone else's enqueue).
	Matched func(userID, partnerID string)
}

// Subscriber delivers presence change events for a user.
// *messaging.Client satisfies it.
type Subscriber interface {
	SubscribePresenceChange(userID string, handler func(data []byte)) error
	UnsubscribePresenceChange(userID string) error
}

type userState struct {
	state   State
	partner string
}

// Monitor holds the per-user state machines for one server's connections.
type Monitor struct {
	mu        sync.Mutex
	users     map[string]*userState
	callbacks Callbacks
}

// New creates an empty monitor with the given callbacks.
func New(callbacks Callbacks) *Monitor {
	return &Monitor{
		users:     make(map[string]*userState),
		callbacks: callbacks,
	}
}

// Track registers a user in the Idle state (at login).
func (m *Monitor) Track(userID string) {
	m.mu.Lock()
	m.users[userID] = &userState{state: StateIdle}
	m.mu.Unlock()
}

// Forget drops a user's state (after logout or disconnect).
func (m *Monitor) Forget(userID string) {
	m.mu.Lock()
	delete(m.users, userID)
	m.mu.Unlock()
}

// StateOf returns the user's current state. Untracked users are Idle.
func (m *Monitor) StateOf(userID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return u.state
	}
	return StateIdle
}

// PartnerOf returns the user's current partner ID, or "".
func (m *Monitor) PartnerOf(userID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return u.partner
	}
	return ""
}

// OnEnqueue records that the user entered the matching queue.
func (m *Monitor) OnEnqueue(userID string) {
	m.mu.Lock()
	if u, ok := m.users[userID]; ok {
		u.state = StateSearching
		u.partner = ""
	}
	m.mu.Unlock()
}

// OnCancel records that the user withdrew from the matching queue. Only a
// Searching user goes back to Idle; a pairing that landed in the meantime
// is not undone by a late cancel.
func (m *Monitor) OnCancel(userID string) {
	m.mu.Lock()
	if u, ok := m.users[userID]; ok && u.state == StateSearching {
		u.state = StateIdle
	}
	m.mu.Unlock()
}

// OnLeave records that the user is tearing down their own session (skip or
// logout). The next partner-cleared presence event for this user is then
// recognised as self-initiated.
func (m *Monitor) OnLeave(userID string) {
	m.mu.Lock()
	if u, ok := m.users[userID]; ok {
		u.state = StateLeaving
		u.partner = ""
	}
	m.mu.Unlock()
}

// Watch subscribes the user's presence change feed and routes events into
// the state machine.
func (m *Monitor) Watch(sub Subscriber, userID string) error {
	return sub.SubscribePresenceChange(userID, func(data []byte) {
		var ev presence.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("[monitor] drop malformed presence event for %s: %v", userID, err)
			return
		}
		m.HandleEvent(ev)
	})
}

// Unwatch removes the user's presence subscription.
func (m *Monitor) Unwatch(sub Subscriber, userID string) {
	_ = sub.UnsubscribePresenceChange(userID)
}

// HandleEvent advances the user's state machine for one presence change.
func (m *Monitor) HandleEvent(ev presence.Event) {
	m.mu.Lock()
	u, ok := m.users[ev.UserID]
	if !ok || ev.Deleted {
		m.mu.Unlock()
		return
	}

	var (
		partnerLeft bool
		matched     bool
		oldPartner  string
		newPartner  string
	)

	switch {
	case ev.Partner != "" && u.state != StatePaired:
		// Paired: either our own successful enqueue or a peer claimed us.
		matched = ev.InitiatorID != ev.UserID
		u.state = StatePaired
		u.partner = ev.Partner
		newPartner = ev.Partner

	case ev.Partner == "" && u.state == StatePaired:
		oldPartner = u.partner
		if ev.OldPartner != "" {
			oldPartner = ev.OldPartner
		}
		u.partner = ""
		if ev.InitiatorID == ev.UserID {
			// Self-initiated skip or logout.
			u.state = StateIdle
		} else {
			// Partner left: back to searching right away.
			u.state = StateSearching
			partnerLeft = true
		}

	case ev.Searching && (u.state == StateIdle || u.state == StateLeaving):
		u.state = StateSearching
	}
	m.mu.Unlock()

	if matched && m.callbacks.Matched != nil {
		m.callbacks.Matched(ev.UserID, newPartner)
	}
	if partnerLeft && m.callbacks.PartnerLeft != nil {
		m.callbacks.PartnerLeft(ev.UserID, oldPartner)
	}
}
