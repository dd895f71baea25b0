// Package relay forwards messages between the two members of a session over
// a named pub/sub channel. Messages are never stored: delivery is
// best-effort and at-most-once, and a message published while the partner is
// not subscribed is simply lost.
package relay

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxContentChars is the maximum text length per message.
	MaxContentChars = 500

	// MaxImageBytes is the maximum inline image payload size (5 MB).
	MaxImageBytes = 5 << 20

	// imagePrefix is the data-URI prefix an inline image must carry.
	imagePrefix = "data:image/"
)

var (
	// ErrEmptyMessage is returned when a message has neither text nor image.
	ErrEmptyMessage = errors.New("relay: message has no content")

	// ErrContentTooLong is returned when the text exceeds MaxContentChars.
	ErrContentTooLong = fmt.Errorf("relay: content exceeds %d character limit", MaxContentChars)

	// ErrPayloadTooLarge is returned when the image exceeds MaxImageBytes.
	ErrPayloadTooLarge = fmt.Errorf("relay: image exceeds %d byte limit", MaxImageBytes)

	// ErrUnsupportedMediaType is returned when the attachment is not an
	// image-typed data URI.
	ErrUnsupportedMediaType = errors.New("relay: attachment is not an image")
)

// Message is the transient relay payload. It exists only on the wire and in
// each client's local view; the core never persists it.
type Message struct {
	ID             string `json:"id"`
	SenderID       string `json:"senderId"`
	SenderNickname string `json:"senderNickname"`
	Content        string `json:"content"`
	ImageData      string `json:"imageData,omitempty"`
	Timestamp      int64  `json:"timestamp"` // unix milliseconds
}

// Validate checks the send-path contract. It must pass before any publish
// is attempted; a rejected message never reaches the transport.
func (m *Message) Validate() error {
	content := strings.TrimSpace(m.Content)
	if content == "" && m.ImageData == "" {
		return ErrEmptyMessage
	}

	if utf8.RuneCountInString(content) > MaxContentChars {
		return ErrContentTooLong
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("relay: content contains invalid UTF-8")
	}

	if m.ImageData != "" {
		if !strings.HasPrefix(m.ImageData, imagePrefix) {
			return ErrUnsupportedMediaType
		}
		if len(m.ImageData) > MaxImageBytes {
			return ErrPayloadTooLarge
		}
	}

	return nil
}
