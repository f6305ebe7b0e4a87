package wire

import (
	"errors"
	"testing"
)

func TestDecodeInboundMessage(t *testing.T) {
	raw := []byte(`{"type":"message","data":{"sender":"deepan","text":"hi","room":"opcode_convo"}}`)

	frame, err := DecodeInbound(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if frame.Type != FrameMessage {
		t.Fatalf("expected message frame, got %q", frame.Type)
	}
	if frame.Message.From() != "deepan" {
		t.Errorf("expected sender deepan, got %q", frame.Message.From())
	}
	if frame.Message.Room != "opcode_convo" {
		t.Errorf("expected room opcode_convo, got %q", frame.Message.Room)
	}
}

func TestDecodeInboundMessageUserField(t *testing.T) {
	// Direct deliveries carry the sender in "user" rather than "sender".
	raw := []byte(`{"type":"message","data":{"user":"suba","text":"hello"}}`)

	frame, err := DecodeInbound(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if frame.Message.From() != "suba" {
		t.Errorf("expected sender suba, got %q", frame.Message.From())
	}
}

func TestDecodeInboundStatus(t *testing.T) {
	raw := []byte(`{"type":"status","data":{"leesa":"online","deepan":"offline"}}`)

	frame, err := DecodeInbound(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if frame.Type != FrameStatus {
		t.Fatalf("expected status frame, got %q", frame.Type)
	}
	if frame.Status["leesa"] != "online" {
		t.Errorf("expected leesa online, got %q", frame.Status["leesa"])
	}
	if frame.Status["deepan"] != "offline" {
		t.Errorf("expected deepan offline, got %q", frame.Status["deepan"])
	}
}

func TestDecodeInboundError(t *testing.T) {
	raw := []byte(`{"type":"error","data":{"message":"room not found"}}`)

	frame, err := DecodeInbound(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if frame.Type != FrameError {
		t.Fatalf("expected error frame, got %q", frame.Type)
	}
	if frame.ErrorText != "room not found" {
		t.Errorf("unexpected error text %q", frame.ErrorText)
	}
}

func TestDecodeInboundMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `this is not json`},
		{"unknown type", `{"type":"presence","data":{}}`},
		{"bad message data", `{"type":"message","data":"just a string"}`},
		{"bad status data", `{"type":"status","data":["online"]}`},
		{"empty message", `{"type":"message","data":{}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeInbound([]byte(tc.raw))
			if !errors.Is(err, ErrMalformedFrame) {
				t.Fatalf("expected ErrMalformedFrame, got %v", err)
			}
		})
	}
}

func TestOutboundOmitsEmptyFields(t *testing.T) {
	// One-to-one sends carry no room, group sends no recipient.
	frame, err := DecodeInbound([]byte(`{"type":"message","data":{"sender":"a","text":"x"}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if frame.Message.Room != "" || frame.Message.Recipient != "" {
		t.Errorf("expected empty room/recipient, got %q/%q", frame.Message.Room, frame.Message.Recipient)
	}
}
