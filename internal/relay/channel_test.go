package relay

import (
	"strings"
	"sync"
	"testing"
)

// memoryBus is an in-process Bus for channel tests: published payloads are
// delivered synchronously to every subscriber of the subject.
type memoryBus struct {
	mu       sync.Mutex
	handlers map[string][]func([]byte)
	counts   map[string]int // publishes per subject
}

func newMemoryBus() *memoryBus {
	return &memoryBus{
		handlers: make(map[string][]func([]byte)),
		counts:   make(map[string]int),
	}
}

func (b *memoryBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	b.counts[subject]++
	handlers := append([]func([]byte){}, b.handlers[subject]...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

func (b *memoryBus) SubscribeData(subject string, handler func(data []byte)) (func() error, error) {
	b.mu.Lock()
	b.handlers[subject] = append(b.handlers[subject], handler)
	b.mu.Unlock()
	return func() error { return nil }, nil
}

func TestChannel_DeliversToPartnerOnly(t *testing.T) {
	bus := newMemoryBus()
	alice := Open(bus, "alice", "bob")
	bob := Open(bus, "alice", "bob")

	var aliceGot, bobGot []*Message
	if _, err := alice.Subscribe("alice", func(m *Message) { aliceGot = append(aliceGot, m) }); err != nil {
		t.Fatalf("subscribe alice: %v", err)
	}
	if _, err := bob.Subscribe("bob", func(m *Message) { bobGot = append(bobGot, m) }); err != nil {
		t.Fatalf("subscribe bob: %v", err)
	}

	if err := alice.Send(&Message{SenderID: "alice", SenderNickname: "Alice", Content: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(aliceGot) != 0 {
		t.Errorf("sender must not receive an echo of its own message, got %d", len(aliceGot))
	}
	if len(bobGot) != 1 {
		t.Fatalf("expected 1 message at bob, got %d", len(bobGot))
	}
	if bobGot[0].Content != "hi" || bobGot[0].SenderID != "alice" {
		t.Errorf("unexpected message: %+v", bobGot[0])
	}
}

func TestChannel_SendFillsIDAndTimestamp(t *testing.T) {
	bus := newMemoryBus()
	ch := Open(bus, "alice", "bob")

	msg := &Message{SenderID: "alice", Content: "hi"}
	if err := ch.Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID == "" {
		t.Error("expected message ID assigned")
	}
	if msg.Timestamp == 0 {
		t.Error("expected timestamp assigned")
	}
}

func TestChannel_RejectedMessageNeverPublished(t *testing.T) {
	bus := newMemoryBus()
	ch := Open(bus, "alice", "bob")

	bad := []*Message{
		{SenderID: "alice"},
		{SenderID: "alice", Content: strings.Repeat("a", MaxContentChars+1)},
		{SenderID: "alice", ImageData: "data:text/plain;base64,AAAA"},
	}
	for _, msg := range bad {
		if err := ch.Send(msg); err == nil {
			t.Errorf("expected validation error for %+v", msg)
		}
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()
	for subject, n := range bus.counts {
		if n != 0 {
			t.Errorf("rejected messages reached the transport: %s published %d times", subject, n)
		}
	}
}

func TestChannel_PerSenderOrdering(t *testing.T) {
	bus := newMemoryBus()
	alice := Open(bus, "alice", "bob")
	bob := Open(bus, "alice", "bob")

	var got []string
	if _, err := bob.Subscribe("bob", func(m *Message) { got = append(got, m.Content) }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for _, content := range []string{"one", "two", "three"} {
		if err := alice.Send(&Message{SenderID: "alice", Content: content}); err != nil {
			t.Fatalf("send %q: %v", content, err)
		}
	}

	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestChannel_BothMembersDeriveSameSubject(t *testing.T) {
	bus := newMemoryBus()
	a := Open(bus, "alice", "bob")
	b := Open(bus, "bob", "alice")

	if a.Name() != b.Name() {
		t.Errorf("members derived different channels: %q vs %q", a.Name(), b.Name())
	}
}
