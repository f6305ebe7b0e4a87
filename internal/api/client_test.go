package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/opcode-im/opcode/internal/chattest"
	"github.com/opcode-im/opcode/internal/presence"
)

func TestFetchPresence(t *testing.T) {
	server := chattest.NewServer()
	defer server.Close()
	server.SetPresence(map[string]string{"leesa": "online", "deepan": "offline"})

	client := NewClient(server.URL(), time.Second)
	snapshot, err := client.FetchPresence(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if snapshot["leesa"] != presence.Online {
		t.Errorf("expected leesa online, got %q", snapshot["leesa"])
	}
	if snapshot["deepan"] != presence.Offline {
		t.Errorf("expected deepan offline, got %q", snapshot["deepan"])
	}
}

func TestFetchPresenceUnavailable(t *testing.T) {
	server := chattest.NewServer()
	defer server.Close()
	server.FailPresence(http.StatusInternalServerError)

	client := NewClient(server.URL(), time.Second)
	_, err := client.FetchPresence(context.Background())
	if !errors.Is(err, presence.ErrUnavailable) {
		t.Fatalf("expected presence.ErrUnavailable, got %v", err)
	}
}

func TestFetchPresenceServerDown(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := client.FetchPresence(context.Background())
	if !errors.Is(err, presence.ErrUnavailable) {
		t.Fatalf("expected presence.ErrUnavailable, got %v", err)
	}
}

func TestFetchGroupHistory(t *testing.T) {
	server := chattest.NewServer()
	defer server.Close()
	server.SetGroupHistory("opcode_convo", []map[string]string{
		{"sender": "leesa", "text": "first"},
		{"user": "deepan", "text": "second"},
	})

	client := NewClient(server.URL(), time.Second)
	messages, err := client.FetchGroupHistory(context.Background(), "opcode_convo")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].From() != "leesa" || messages[0].Text != "first" {
		t.Errorf("unexpected first message %+v", messages[0])
	}
	// Older server builds used "user" instead of "sender".
	if messages[1].From() != "deepan" {
		t.Errorf("sender fallback failed: %+v", messages[1])
	}
}

func TestFetchGroupHistoryUnknownRoom(t *testing.T) {
	server := chattest.NewServer()
	defer server.Close()

	client := NewClient(server.URL(), time.Second)
	if _, err := client.FetchGroupHistory(context.Background(), "no_such_room"); err == nil {
		t.Fatal("expected error for unknown room")
	}
}

func TestPostGroupMessage(t *testing.T) {
	server := chattest.NewServer()
	defer server.Close()

	client := NewClient(server.URL(), time.Second)
	msg := SendRequest{Sender: "deepan", Text: "hi", Room: "opcode_convo", Type: "group"}
	if err := client.PostGroupMessage(context.Background(), msg); err != nil {
		t.Fatalf("post failed: %v", err)
	}

	posted := server.PostedMessages()
	if len(posted) != 1 {
		t.Fatalf("expected 1 posted message, got %d", len(posted))
	}
	if posted[0].Sender != "deepan" || posted[0].Room != "opcode_convo" {
		t.Errorf("unexpected posted message %+v", posted[0])
	}
}
