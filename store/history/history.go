// Package history is the durable per-conversation message log. Logs are
// keyed by (owner handle, conversation key) so switching the active identity
// never exposes another identity's conversations.
package history

import (
	"context"
	"errors"
	"time"
)

// Kind discriminates the two conversation shapes.
type Kind string

const (
	KindGroup  Kind = "group"
	KindDirect Kind = "direct"
)

// Origin records how a message entered the local log.
type Origin string

const (
	// OriginLocalEcho marks a copy of the user's own message appended
	// immediately on send, before any server acknowledgment.
	OriginLocalEcho Origin = "local-echo"
	OriginRemote    Origin = "remote"
)

var ErrEmptyKey = errors.New("history: empty conversation key")

// Key identifies either a group room or an unordered direct-message pair.
type Key struct {
	Kind Kind
	// ID is the room name for group keys, or "a|b" with the handles in
	// lexical order for direct keys. The pair is unordered: the thread
	// between A and B is one log regardless of who is "self".
	ID string
}

// GroupKey returns the key for a group room.
func GroupKey(room string) Key {
	return Key{Kind: KindGroup, ID: room}
}

// DirectKey returns the canonical key for a one-to-one thread. The handle
// order does not matter.
func DirectKey(a, b string) Key {
	if b < a {
		a, b = b, a
	}
	return Key{Kind: KindDirect, ID: a + "|" + b}
}

// IsZero reports whether the key identifies nothing.
func (k Key) IsZero() bool { return k.Kind == "" || k.ID == "" }

func (k Key) String() string { return string(k.Kind) + ":" + k.ID }

// Message is one immutable entry in a conversation log. The log for a key is
// append-only in wire-arrival order at this client; there is no global
// ordering protocol.
type Message struct {
	ID     string    `json:"id,omitempty"`
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
	Origin Origin    `json:"origin"`
}

// Store defines message log persistence operations.
type Store interface {
	// Append adds one message to the log for (owner, key). Arrival order
	// is preserved across Load calls and process restarts.
	Append(ctx context.Context, owner string, key Key, msg Message) error
	// Load returns the persisted log in append order, or an empty slice if
	// no log exists yet for the key.
	Load(ctx context.Context, owner string, key Key) ([]Message, error)
	// Clear removes the log for (owner, key). Not exercised by normal
	// message flow; used when the identity changes or on explicit reset.
	Clear(ctx context.Context, owner string, key Key) error
}
