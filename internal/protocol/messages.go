// Package protocol defines the WebSocket message types and structures used
// for communication between the client and server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeLogin       = "login"
	TypeFindMatch   = "find_match"
	TypeCancelMatch = "cancel_match"
	TypeNext        = "next"
	TypeMessage     = "message"
	TypeReport      = "report"
	TypeLogout      = "logout"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeLoggedIn    = "logged_in"
	TypeSearching   = "searching"
	TypeMatchFound  = "match_found"
	TypePartnerLeft = "partner_left"
	TypeError       = "error"
	TypePong        = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// LoginMsg is sent by the client to create an anonymous profile with a
// display nickname.
type LoginMsg struct {
	Type     string `json:"type"`
	Nickname string `json:"nickname"`
}

// FindMatchMsg is sent by the client to enter the matching queue.
type FindMatchMsg struct {
	Type string `json:"type"`
}

// CancelMatchMsg is sent by the client to leave the matching queue.
type CancelMatchMsg struct {
	Type string `json:"type"`
}

// NextMsg is sent by the client to skip the current partner and search for
// a new one.
type NextMsg struct {
	Type string `json:"type"`
}

// ChatMsg is a message sent by the client within a chat session. Either
// content or image_data must be non-empty; image_data carries an inline
// image as a data URI.
type ChatMsg struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	ImageData string `json:"image_data,omitempty"`
}

// ReportMsg is sent by the client to report the current chat partner.
type ReportMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// LogoutMsg is sent by the client to delete its profile and leave.
type LogoutMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// LoggedInMsg is sent by the server when the profile is created.
type LoggedInMsg struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
}

// SearchingMsg confirms that the client has entered the matching queue.
type SearchingMsg struct {
	Type string `json:"type"`
}

// MatchFoundMsg is sent by the server when a partner has been found.
type MatchFoundMsg struct {
	Type            string `json:"type"`
	SessionID       string `json:"session_id"`
	PartnerID       string `json:"partner_id"`
	PartnerNickname string `json:"partner_nickname"`
}

// ServerChatMsg is a message relayed from the partner by the server.
type ServerChatMsg struct {
	Type           string `json:"type"`
	ID             string `json:"id"`
	SenderID       string `json:"sender_id"`
	SenderNickname string `json:"sender_nickname"`
	Content        string `json:"content"`
	ImageData      string `json:"image_data,omitempty"`
	Ts             int64  `json:"ts"`
}

// PartnerLeftMsg is sent by the server when the chat partner skipped,
// logged out, or disconnected.
type PartnerLeftMsg struct {
	Type string `json:"type"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeLogin:
		var m LoginMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeFindMatch:
		var m FindMatchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCancelMatch:
		var m CancelMatchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeNext:
		var m NextMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReport:
		var m ReportMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLogout:
		var m LogoutMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the Server*Msg structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
