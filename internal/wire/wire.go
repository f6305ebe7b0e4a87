// Package wire defines the JSON frames exchanged with the chat server and
// the inbound frame decoder.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Outbound message types.
const (
	TypeGroup    = "group"
	TypeOneToOne = "one-to-one"
)

// Inbound frame discriminators.
const (
	FrameMessage = "message"
	FrameStatus  = "status"
	FrameError   = "error"
)

var ErrMalformedFrame = errors.New("malformed inbound frame")

// Outbound is the structured form of a client-to-server message. The ID is
// client-generated and threaded through the protocol so the sender can
// recognize its own message if the server echoes it back.
type Outbound struct {
	ID        string `json:"id,omitempty"`
	User      string `json:"user"`
	Text      string `json:"text"`
	Type      string `json:"type"`
	Recipient string `json:"recipient,omitempty"`
	Room      string `json:"room,omitempty"`
}

// Message is the data payload of an inbound "message" frame. The server is
// inconsistent about naming the sender field: direct deliveries use "user",
// group broadcasts use "sender". Both are accepted.
type Message struct {
	ID        string `json:"id,omitempty"`
	Sender    string `json:"sender,omitempty"`
	User      string `json:"user,omitempty"`
	Text      string `json:"text"`
	Room      string `json:"room,omitempty"`
	Recipient string `json:"recipient,omitempty"`
}

// From returns the sender handle regardless of which field carried it.
func (m Message) From() string {
	if m.Sender != "" {
		return m.Sender
	}
	return m.User
}

// Frame is a decoded inbound frame. Exactly one of Message, Status or
// ErrorText is populated, matching Type.
type Frame struct {
	Type      string
	Message   Message
	Status    map[string]string
	ErrorText string
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeInbound parses a raw server frame. Anything that is not valid JSON
// or does not carry a known type discriminator fails with ErrMalformedFrame;
// the caller logs and drops it.
func DecodeInbound(raw []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch env.Type {
	case FrameMessage:
		var msg Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return Frame{}, fmt.Errorf("%w: message data: %v", ErrMalformedFrame, err)
		}
		if msg.Text == "" && msg.From() == "" {
			return Frame{}, fmt.Errorf("%w: message data missing sender and text", ErrMalformedFrame)
		}
		return Frame{Type: FrameMessage, Message: msg}, nil

	case FrameStatus:
		var status map[string]string
		if err := json.Unmarshal(env.Data, &status); err != nil {
			return Frame{}, fmt.Errorf("%w: status data: %v", ErrMalformedFrame, err)
		}
		return Frame{Type: FrameStatus, Status: status}, nil

	case FrameError:
		var data struct {
			Message string `json:"message"`
			Detail  string `json:"detail"`
		}
		// Error payload shape varies; fall back to the raw bytes.
		text := string(env.Data)
		if err := json.Unmarshal(env.Data, &data); err == nil {
			if data.Message != "" {
				text = data.Message
			} else if data.Detail != "" {
				text = data.Detail
			}
		}
		return Frame{Type: FrameError, ErrorText: text}, nil

	default:
		return Frame{}, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, env.Type)
	}
}
