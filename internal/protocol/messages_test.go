package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseClientMessage_Login(t *testing.T) {
	raw := []byte(`{"type":"login","nickname":"alice"}`)

	msgType, msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeLogin {
		t.Errorf("expected type %q, got %q", TypeLogin, msgType)
	}
	login, ok := msg.(LoginMsg)
	if !ok {
		t.Fatalf("expected LoginMsg, got %T", msg)
	}
	if login.Nickname != "alice" {
		t.Errorf("expected nickname alice, got %q", login.Nickname)
	}
}

func TestParseClientMessage_ChatMessage(t *testing.T) {
	raw := []byte(`{"type":"message","content":"hello","image_data":"data:image/png;base64,AAAA"}`)

	msgType, msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessage {
		t.Errorf("expected type %q, got %q", TypeMessage, msgType)
	}
	chat, ok := msg.(ChatMsg)
	if !ok {
		t.Fatalf("expected ChatMsg, got %T", msg)
	}
	if chat.Content != "hello" {
		t.Errorf("expected content hello, got %q", chat.Content)
	}
	if !strings.HasPrefix(chat.ImageData, "data:image/") {
		t.Errorf("unexpected image data: %q", chat.ImageData)
	}
}

func TestParseClientMessage_Report(t *testing.T) {
	raw := []byte(`{"type":"report","reason":"spam"}`)

	msgType, msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeReport {
		t.Errorf("expected type %q, got %q", TypeReport, msgType)
	}
	rep, ok := msg.(ReportMsg)
	if !ok {
		t.Fatalf("expected ReportMsg, got %T", msg)
	}
	if rep.Reason != "spam" {
		t.Errorf("expected reason spam, got %q", rep.Reason)
	}
}

func TestParseClientMessage_BareTypes(t *testing.T) {
	cases := []string{TypeFindMatch, TypeCancelMatch, TypeNext, TypeLogout, TypePing}
	for _, typ := range cases {
		raw := []byte(`{"type":"` + typ + `"}`)
		msgType, _, err := ParseClientMessage(raw)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", typ, err)
		}
		if msgType != typ {
			t.Errorf("expected type %q, got %q", typ, msgType)
		}
	}
}

func TestParseClientMessage_UnknownType(t *testing.T) {
	raw := []byte(`{"type":"teleport"}`)
	if _, _, err := ParseClientMessage(raw); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestParseClientMessage_MissingType(t *testing.T) {
	raw := []byte(`{"nickname":"alice"}`)
	if _, _, err := ParseClientMessage(raw); err == nil {
		t.Error("expected error for missing type field")
	}
}

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	raw := []byte(`{type: login`)
	if _, _, err := ParseClientMessage(raw); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeMatchFound, MatchFoundMsg{
		SessionID:       "s1",
		PartnerID:       "u2",
		PartnerNickname: "bob",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["type"] != TypeMatchFound {
		t.Errorf("expected type %q, got %v", TypeMatchFound, decoded["type"])
	}
	if decoded["session_id"] != "s1" || decoded["partner_id"] != "u2" {
		t.Errorf("payload fields missing: %v", decoded)
	}
}

func TestNewServerMessage_OverridesStructType(t *testing.T) {
	// The type argument wins over whatever the payload struct carried.
	data, err := NewServerMessage(TypePong, PongMsg{Type: "bogus"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != TypePong {
		t.Errorf("expected type %q, got %v", TypePong, decoded["type"])
	}
}
