package relay

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roulette/chat-app/internal/messaging"
	"github.com/roulette/chat-app/internal/metrics"
)

// Bus is the pub/sub transport a channel runs over. *messaging.Client
// satisfies it.
type Bus interface {
	Publish(subject string, data []byte) error
	SubscribeData(subject string, handler func(data []byte)) (func() error, error)
}

// ChannelName derives the channel name from the unordered member pair by
// sorting the two IDs and joining them, so both members arrive at the same
// name without a lookup round-trip.
func ChannelName(userA, userB string) string {
	if strings.Compare(userA, userB) > 0 {
		userA, userB = userB, userA
	}
	return userA + "-" + userB
}

// Channel is the per-session relay conduit. Each session owns exactly one.
type Channel struct {
	bus     Bus
	name    string
	subject string
}

// Open creates the channel for a member pair. Opening is purely local: no
// transport state exists until Subscribe is called.
func Open(bus Bus, userA, userB string) *Channel {
	name := ChannelName(userA, userB)
	return &Channel{
		bus:     bus,
		name:    name,
		subject: messaging.SubjectChat + "." + name,
	}
}

// Name returns the deterministic channel name.
func (c *Channel) Name() string {
	return c.name
}

// Send validates and publishes a message. Fire-and-forget: no retry, no
// delivery confirmation. The ID and timestamp are filled in if the caller
// left them empty.
func (c *Channel) Send(msg *Message) error {
	if err := msg.Validate(); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return err
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if err := c.bus.Publish(c.subject, data); err != nil {
		return err
	}
	metrics.MessagesTotal.WithLabelValues("relayed").Inc()
	return nil
}

// Subscribe delivers the partner's messages to the handler. Events published
// by selfID are filtered out, so a sender never receives a mirrored copy of
// its own payload; the transport may or may not echo to the publisher, the
// filter makes the behaviour explicit either way. Returns an unsubscribe
// function.
func (c *Channel) Subscribe(selfID string, handler func(*Message)) (func() error, error) {
	return c.bus.SubscribeData(c.subject, func(data []byte) {
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[relay] drop malformed payload on %s: %v", c.name, err)
			return
		}
		if msg.SenderID == selfID {
			return // self-echo: the sender already holds its local copy
		}
		handler(&msg)
	})
}
