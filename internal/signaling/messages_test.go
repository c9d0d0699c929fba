package signaling

import (
	"strings"
	"testing"

	"webrtc-signal-relay/internal/relay"
)

func TestParseClientMessageValid(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   string
	}{
		{"register", `{"type":"register","identity":"alice"}`},
		{"join", `{"type":"join","room":"lobby"}`},
		{"leave", `{"type":"leave","room":"lobby"}`},
		{"signal room", `{"type":"signal","room":"lobby","payload":{"sdp":"x"}}`},
		{"signal direct", `{"type":"signal","to":"bob","payload":[1,2]}`},
		{"end_call", `{"type":"end_call"}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseClientMessage([]byte(tc.in)); err != nil {
				t.Fatalf("parse: %v", err)
			}
		})
	}
}

func TestParseClientMessageInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   string
	}{
		{"unknown type", `{"type":"shout","room":"lobby"}`},
		{"unknown field", `{"type":"join","room":"lobby","extra":1}`},
		{"trailing data", `{"type":"end_call"}{"type":"end_call"}`},
		{"not json", `hello`},
		{"register missing identity", `{"type":"register"}`},
		{"register with room", `{"type":"register","identity":"a","room":"x"}`},
		{"join missing room", `{"type":"join"}`},
		{"join with payload", `{"type":"join","room":"x","payload":1}`},
		{"signal both modes", `{"type":"signal","room":"a","to":"b","payload":1}`},
		{"signal neither mode", `{"type":"signal","payload":1}`},
		{"signal missing payload", `{"type":"signal","to":"bob"}`},
		{"end_call with room", `{"type":"end_call","room":"x"}`},
		{"identity too long", `{"type":"register","identity":"` + strings.Repeat("a", 129) + `"}`},
		{"identity control chars", `{"type":"register","identity":"a\tb"}`},
		{"room control chars", `{"type":"join","room":"a\tb"}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseClientMessage([]byte(tc.in)); err == nil {
				t.Fatalf("expected error for %s", tc.in)
			}
		})
	}
}

func TestServerMessageFromEvent(t *testing.T) {
	msg := serverMessageFromEvent(relay.Event{
		Kind:    relay.EventSignal,
		From:    "alice",
		Payload: []byte(`{"x":1}`),
	})
	if msg.Type != messageTypeSignal || msg.From != "alice" || string(msg.Payload) != `{"x":1}` {
		t.Fatalf("signal mapping = %+v", msg)
	}

	msg = serverMessageFromEvent(relay.Event{Kind: relay.EventUserJoined, Room: "lobby", Identity: "bob"})
	if msg.Type != messageTypeUserJoined || msg.Room != "lobby" || msg.Identity != "bob" {
		t.Fatalf("user_joined mapping = %+v", msg)
	}

	msg = serverMessageFromEvent(relay.Event{Kind: relay.EventCallEnded, Identity: "bob"})
	if msg.Type != messageTypeCallEnded || msg.Identity != "bob" {
		t.Fatalf("call_ended mapping = %+v", msg)
	}
}
