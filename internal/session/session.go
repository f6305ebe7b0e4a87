// Package session is the façade the surrounding UI talks to. It composes the
// connection manager, presence table, conversation router and history store,
// and exposes a single subscription stream of state snapshots. All mutation
// of the composed view happens in reaction to transport events or direct
// user actions; the only polling is the one-shot presence snapshot at
// startup.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/opcode-im/opcode/internal/api"
	"github.com/opcode-im/opcode/internal/auth"
	"github.com/opcode-im/opcode/internal/config"
	"github.com/opcode-im/opcode/internal/presence"
	"github.com/opcode-im/opcode/internal/router"
	"github.com/opcode-im/opcode/internal/transport"
	"github.com/opcode-im/opcode/store/history"
)

var ErrNotConnected = transport.ErrNotConnected

// Snapshot is the composed view delivered to subscribers: the selected
// conversation's log, the presence table and the connection state.
type Snapshot struct {
	Identity string
	State    transport.State
	Selected history.Key
	Messages []history.Message
	Presence map[string]presence.Status
}

// Session owns the identity, token and connection state for one signed-in
// user. Construct with New; one Session per identity.
type Session struct {
	cfg   *config.Config
	log   *slog.Logger
	store history.Store
	table *presence.Table
	api   *api.Client
	conn  *transport.Manager

	mu       sync.Mutex
	identity string
	token    string
	router   *router.Router
	selected history.Key
	subs     map[int]func(Snapshot)
	nextSub  int
}

// New wires a Session from configuration and a history store.
func New(cfg *config.Config, store history.Store, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		cfg:   cfg,
		log:   logger,
		store: store,
		table: presence.NewTable(),
		api:   api.NewClient(cfg.Server.HTTPBase, cfg.HTTPTimeout()),
		conn:  transport.New(cfg.Server.WSBase, cfg.RetryDelay(), logger),
		subs:  make(map[int]func(Snapshot)),
	}
	s.conn.OnEvent(s.handleEvent)
	s.conn.OnStateChange(func(transport.State) { s.emit() })
	return s
}

// Connect binds the session to an identity, fetches the presence snapshot,
// hydrates the group conversation and opens the live transport. The token is
// opaque to the core; a parseable JWT only earns a log line about its
// subject and expiry.
func (s *Session) Connect(ctx context.Context, identity, token string) error {
	if identity == "" {
		return transport.ErrNoIdentity
	}

	if claims, err := auth.Inspect(token); err == nil {
		if claims.Expired(time.Now()) {
			s.log.Warn("auth token is already expired", "subject", claims.UserID)
		}
	} else if !errors.Is(err, auth.ErrOpaqueToken) {
		s.log.Debug("token inspection failed", "error", err)
	}

	s.mu.Lock()
	s.identity = identity
	s.token = token
	s.selected = history.GroupKey(s.cfg.Group.Room)
	s.router = router.New(router.Config{
		Identity: identity,
		Room:     s.cfg.Group.Room,
		Members:  s.cfg.Group.Members,
	}, s.conn, s.store, s.api, s.table.Observe, s.log)
	s.mu.Unlock()

	// One-shot snapshot; failure degrades softly to all-offline.
	if snapshot, err := s.api.FetchPresence(ctx); err != nil {
		s.log.Warn("presence snapshot unavailable", "error", err)
	} else {
		s.table.Replace(snapshot)
	}

	s.hydrateGroup(ctx, identity)

	if err := s.conn.Connect(identity, token); err != nil {
		return err
	}
	s.emit()
	return nil
}

// hydrateGroup seeds the local group log from the server-side room history
// on first load. A non-empty local log wins: reloads must not duplicate what
// the store already persisted.
func (s *Session) hydrateGroup(ctx context.Context, identity string) {
	key := history.GroupKey(s.cfg.Group.Room)

	existing, err := s.store.Load(ctx, identity, key)
	if err != nil {
		s.log.Warn("group history load failed", "error", err)
		return
	}
	if len(existing) > 0 {
		return
	}

	messages, err := s.api.FetchGroupHistory(ctx, s.cfg.Group.Room)
	if err != nil {
		s.log.Warn("group history fetch failed", "room", s.cfg.Group.Room, "error", err)
		return
	}
	for _, msg := range messages {
		entry := history.Message{
			Sender: msg.From(),
			Text:   msg.Text,
			SentAt: time.Now(),
			Origin: history.OriginRemote,
		}
		if err := s.store.Append(ctx, identity, key, entry); err != nil {
			s.log.Warn("group history append failed", "error", err)
			return
		}
		s.table.Observe(msg.From())
	}
}

// SendMessage routes one outbound message to the conversation named by
// target. Validation and access-control failures come back to the caller so
// the UI can keep the unsent input and show the reason.
func (s *Session) SendMessage(ctx context.Context, text string, target history.Key) error {
	s.mu.Lock()
	r := s.router
	identity := s.identity
	s.mu.Unlock()
	if r == nil {
		return ErrNotConnected
	}

	var err error
	switch target.Kind {
	case history.KindGroup:
		err = r.Compose(ctx, text, router.ModeGroup, "")
	case history.KindDirect:
		err = r.Compose(ctx, text, router.ModeDirect, directPeer(target, identity))
	default:
		return history.ErrEmptyKey
	}
	if err == nil {
		s.emit()
	}
	return err
}

// SelectConversation switches the conversation whose log snapshots carry.
func (s *Session) SelectConversation(target history.Key) {
	s.mu.Lock()
	s.selected = target
	s.mu.Unlock()
	s.emit()
}

// Subscribe registers a callback for state snapshots. It fires once
// immediately with the current view and returns an unsubscribe function.
func (s *Session) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	fn(s.snapshot())
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// History returns the persisted log for any conversation of the current
// identity.
func (s *Session) History(ctx context.Context, key history.Key) ([]history.Message, error) {
	s.mu.Lock()
	identity := s.identity
	s.mu.Unlock()
	return s.store.Load(ctx, identity, key)
}

// ClearConversation drops the local log for a key. Not part of the normal
// message flow; used on explicit reset.
func (s *Session) ClearConversation(ctx context.Context, key history.Key) error {
	s.mu.Lock()
	identity := s.identity
	s.mu.Unlock()
	if err := s.store.Clear(ctx, identity, key); err != nil {
		return err
	}
	s.emit()
	return nil
}

// State returns the connection state.
func (s *Session) State() transport.State { return s.conn.State() }

// Presence returns the status for a handle, defaulting to offline.
func (s *Session) Presence(handle string) presence.Status { return s.table.Get(handle) }

// Close tears the session down: the transport is closed and any pending
// reconnect is cancelled. Safe to call from any state.
func (s *Session) Close() {
	s.conn.Disconnect()
}

func (s *Session) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventPresence:
		// Pushes are authoritative full snapshots: replace, never merge.
		s.table.ReplaceStrings(ev.Presence)
		s.emit()

	case transport.EventMessage:
		s.mu.Lock()
		r := s.router
		s.mu.Unlock()
		if r == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, appended, err := r.HandleInbound(ctx, ev.Message)
		cancel()
		if err != nil {
			s.log.Warn("inbound message dropped", "error", err)
			return
		}
		if appended {
			s.emit()
		}

	case transport.EventError:
		// Recovered locally: logged, never user-fatal.
		s.log.Warn("transport diagnostic", "error", ev.Err)
	}
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	identity := s.identity
	selected := s.selected
	s.mu.Unlock()

	snap := Snapshot{
		Identity: identity,
		State:    s.conn.State(),
		Selected: selected,
		Presence: s.table.Snapshot(),
	}
	if identity != "" && !selected.IsZero() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		messages, err := s.store.Load(ctx, identity, selected)
		cancel()
		if err != nil {
			s.log.Warn("history load failed", "conversation", selected.String(), "error", err)
		} else {
			snap.Messages = messages
		}
	}
	return snap
}

func (s *Session) emit() {
	s.mu.Lock()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	if len(subs) == 0 {
		return
	}
	snap := s.snapshot()
	for _, fn := range subs {
		fn(snap)
	}
}

// directPeer extracts the other party from a canonical direct key.
func directPeer(key history.Key, identity string) string {
	a, b, found := strings.Cut(key.ID, "|")
	if !found {
		return key.ID
	}
	if a == identity {
		return b
	}
	return a
}
