package history

import (
	"context"
	"testing"
	"time"
)

func TestDirectKeyIsUnordered(t *testing.T) {
	ab := DirectKey("alice", "bob")
	ba := DirectKey("bob", "alice")

	if ab != ba {
		t.Fatalf("direct key must not depend on handle order: %v vs %v", ab, ba)
	}
	if ab.Kind != KindDirect {
		t.Errorf("expected direct kind, got %q", ab.Kind)
	}
	if ab.ID != "alice|bob" {
		t.Errorf("expected canonical id alice|bob, got %q", ab.ID)
	}
}

func TestGroupKey(t *testing.T) {
	key := GroupKey("opcode_convo")
	if key.Kind != KindGroup || key.ID != "opcode_convo" {
		t.Fatalf("unexpected group key %v", key)
	}
	if key.String() != "group:opcode_convo" {
		t.Errorf("unexpected string form %q", key.String())
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := DirectKey("alice", "bob")

	sent := []Message{
		{ID: "m1", Sender: "alice", Text: "first", SentAt: time.Now(), Origin: OriginLocalEcho},
		{ID: "m2", Sender: "bob", Text: "second", SentAt: time.Now(), Origin: OriginRemote},
		{ID: "m3", Sender: "alice", Text: "third", SentAt: time.Now(), Origin: OriginLocalEcho},
	}
	for _, msg := range sent {
		if err := store.Append(ctx, "alice", key, msg); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	got, err := store.Load(ctx, "alice", key)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got) != len(sent) {
		t.Fatalf("expected %d messages, got %d", len(sent), len(got))
	}
	for i := range sent {
		if got[i].ID != sent[i].ID || got[i].Text != sent[i].Text {
			t.Errorf("message %d out of order: got %q want %q", i, got[i].Text, sent[i].Text)
		}
	}
}

func TestMemoryStoreOwnerIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := DirectKey("alice", "bob")

	if err := store.Append(ctx, "alice", key, Message{Sender: "alice", Text: "mine"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	// The symmetric key under the other owner's namespace must be empty.
	got, err := store.Load(ctx, "bob", DirectKey("bob", "alice"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("owner namespaces leaked: bob sees %d messages", len(got))
	}
}

func TestMemoryStoreClear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := GroupKey("opcode_convo")

	_ = store.Append(ctx, "leesa", key, Message{Sender: "leesa", Text: "hello"})
	if err := store.Clear(ctx, "leesa", key); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	got, err := store.Load(ctx, "leesa", key)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty log after clear, got %d messages", len(got))
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Append(ctx, "alice", Key{}, Message{Text: "x"}); err != ErrEmptyKey {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
	if _, err := store.Load(ctx, "alice", Key{}); err != ErrEmptyKey {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}
