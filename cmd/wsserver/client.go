package main

import (
	"sync"

	"github.com/roulette/chat-app/internal/relay"
)

// client holds the server-side view of one connected user: their profile
// and the relay state of their current session, if any. The session fields
// are shared between dispatcher goroutines, the match.found subscription,
// and the monitor callbacks, so every access goes through the methods
// below. The nickname is set once at login and never changes.
type client struct {
	nickname string

	mu        sync.Mutex
	sessionID string
	partnerID string
	channel   *relay.Channel
	unsubChat func() error
}

func newClient(nickname string) *client {
	return &client{nickname: nickname}
}

// beginSession claims the session slot for a fresh pairing. A pairing can
// arrive twice, through the match.found handler and through the monitor's
// Matched callback on separate delivery goroutines; exactly one caller wins
// the claim, the other gets false and backs off.
func (c *client) beginSession(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		return false
	}
	c.sessionID = sessionID
	return true
}

// releaseSession drops a claim made by beginSession whose relay subscribe
// failed, so a later delivery of the pairing can retry.
func (c *client) releaseSession() {
	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()
}

// attachRelay stores the relay state for the session claimed by beginSession.
func (c *client) attachRelay(partnerID string, ch *relay.Channel, unsub func() error) {
	c.mu.Lock()
	c.partnerID = partnerID
	c.channel = ch
	c.unsubChat = unsub
	c.mu.Unlock()
}

// endSession atomically clears the session state and hands back what the
// caller needs to tear it down: the session that was open and its
// unsubscribe hook. Safe to call when no session is open.
func (c *client) endSession() (sessionID string, unsub func() error) {
	c.mu.Lock()
	sessionID = c.sessionID
	unsub = c.unsubChat
	c.sessionID = ""
	c.partnerID = ""
	c.channel = nil
	c.unsubChat = nil
	c.mu.Unlock()
	return sessionID, unsub
}

// session returns a consistent snapshot of the session fields.
func (c *client) session() (sessionID, partnerID string, ch *relay.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.partnerID, c.channel
}

// clientRegistry maps user IDs to their client state.
type clientRegistry struct {
	mu sync.Mutex
	m  map[string]*client
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{m: make(map[string]*client)}
}

func (r *clientRegistry) get(userID string) *client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m[userID]
}

func (r *clientRegistry) put(userID string, c *client) {
	r.mu.Lock()
	r.m[userID] = c
	r.mu.Unlock()
}

func (r *clientRegistry) remove(userID string) *client {
	r.mu.Lock()
	c := r.m[userID]
	delete(r.m, userID)
	r.mu.Unlock()
	return c
}
