package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"webrtc-signal-relay/internal/relay"
)

type messageType string

const (
	messageTypeRegister messageType = "register"
	messageTypeJoin     messageType = "join"
	messageTypeLeave    messageType = "leave"
	messageTypeSignal   messageType = "signal"
	messageTypeEndCall  messageType = "end_call"

	messageTypeRegistered messageType = "registered"
	messageTypeUserJoined messageType = "user_joined"
	messageTypeUserLeft   messageType = "user_left"
	messageTypeCallEnded  messageType = "call_ended"
	messageTypeError      messageType = "error"
)

const maxTokenBytes = 128

type clientMessage struct {
	Type     messageType     `json:"type"`
	Identity string          `json:"identity,omitempty"`
	Room     string          `json:"room,omitempty"`
	To       string          `json:"to,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func parseClientMessage(data []byte) (clientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg clientMessage
	if err := dec.Decode(&msg); err != nil {
		return clientMessage{}, err
	}
	if err := msg.validate(); err != nil {
		return clientMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return clientMessage{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

func (m clientMessage) validate() error {
	switch m.Type {
	case messageTypeRegister:
		if err := validateToken("identity", m.Identity); err != nil {
			return err
		}
		if m.Room != "" || m.To != "" || m.Payload != nil {
			return fmt.Errorf("register message has unexpected fields")
		}
	case messageTypeJoin, messageTypeLeave:
		if err := validateToken("room", m.Room); err != nil {
			return err
		}
		if m.Identity != "" || m.To != "" || m.Payload != nil {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case messageTypeSignal:
		if (m.Room == "") == (m.To == "") {
			return fmt.Errorf("signal message requires exactly one of room/to")
		}
		if m.Room != "" {
			if err := validateToken("room", m.Room); err != nil {
				return err
			}
		}
		if m.To != "" {
			if err := validateToken("to", m.To); err != nil {
				return err
			}
		}
		if len(m.Payload) == 0 {
			return fmt.Errorf("signal message missing payload")
		}
		if m.Identity != "" {
			return fmt.Errorf("signal message has unexpected fields")
		}
	case messageTypeEndCall:
		if m.Identity != "" || m.Room != "" || m.To != "" || m.Payload != nil {
			return fmt.Errorf("end_call message has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

func validateToken(field, value string) error {
	if value == "" {
		return fmt.Errorf("missing %s", field)
	}
	if len(value) > maxTokenBytes {
		return fmt.Errorf("%s exceeds %d bytes", field, maxTokenBytes)
	}
	for i := 0; i < len(value); i++ {
		if value[i] < 0x20 || value[i] == 0x7f {
			return fmt.Errorf("%s contains control characters", field)
		}
	}
	return nil
}

type serverMessage struct {
	Type     messageType     `json:"type"`
	Identity string          `json:"identity,omitempty"`
	Room     string          `json:"room,omitempty"`
	From     string          `json:"from,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func serverMessageFromEvent(ev relay.Event) serverMessage {
	switch ev.Kind {
	case relay.EventRegistered:
		return serverMessage{Type: messageTypeRegistered, Identity: ev.Identity}
	case relay.EventSignal:
		return serverMessage{Type: messageTypeSignal, From: ev.From, Payload: ev.Payload}
	case relay.EventUserJoined:
		return serverMessage{Type: messageTypeUserJoined, Room: ev.Room, Identity: ev.Identity}
	case relay.EventUserLeft:
		return serverMessage{Type: messageTypeUserLeft, Room: ev.Room, Identity: ev.Identity}
	case relay.EventCallEnded:
		return serverMessage{Type: messageTypeCallEnded, Identity: ev.Identity}
	default:
		return serverMessage{Type: messageType(ev.Kind)}
	}
}
