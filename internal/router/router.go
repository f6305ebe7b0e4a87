// Package router decides which conversation every outbound compose and
// inbound message belongs to, enforces the group room access rule and owns
// the local-echo / duplicate-suppression policy.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opcode-im/opcode/internal/api"
	"github.com/opcode-im/opcode/internal/wire"
	"github.com/opcode-im/opcode/store/history"
)

var (
	// ErrUnauthorized reports a group send by a handle outside the
	// configured member set. Callers must surface it, not swallow it.
	ErrUnauthorized = errors.New("router: not a member of the group room")
	// ErrNoPeer reports a direct send without a recipient.
	ErrNoPeer = errors.New("router: direct message requires a peer")
)

// Mode selects the routing of an outbound compose.
type Mode string

const (
	ModeDirect Mode = wire.TypeOneToOne
	ModeGroup  Mode = wire.TypeGroup
)

// Server echoes of our own messages that carry no client id are matched
// heuristically against recent local echoes inside this window.
const echoWindow = 10 * time.Second

const maxRecentEchoes = 64

// Sender transmits one outbound payload over the live transport.
type Sender interface {
	Send(v any) error
}

// GroupPoster records a group message durably server-side, independent of
// the live transport.
type GroupPoster interface {
	PostGroupMessage(ctx context.Context, msg api.SendRequest) error
}

// Config carries the deployment inputs: who we are, the shared room and the
// static set of handles permitted to use it.
type Config struct {
	Identity string
	Room     string
	// Members is the externally supplied group roster. It is configuration,
	// not user data, and never changes during a session.
	Members []string
}

type echoRecord struct {
	id     string
	sender string
	text   string
	key    history.Key
	at     time.Time
}

// Router is the central addressing and access-control policy point.
type Router struct {
	identity string
	room     string
	allowed  map[string]struct{}
	conn     Sender
	store    history.Store
	poster   GroupPoster
	observe  func(handle string)
	log      *slog.Logger

	mu     sync.Mutex
	echoes []echoRecord
}

// New creates a Router. poster may be nil (no durable group fallback) and
// observe may be nil (no presence feed).
func New(cfg Config, conn Sender, store history.Store, poster GroupPoster, observe func(string), logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]struct{}, len(cfg.Members))
	for _, member := range cfg.Members {
		allowed[member] = struct{}{}
	}
	return &Router{
		identity: cfg.Identity,
		room:     cfg.Room,
		allowed:  allowed,
		conn:     conn,
		store:    store,
		poster:   poster,
		observe:  observe,
		log:      logger,
	}
}

// Compose validates, addresses and sends one outbound message, then appends
// the local echo so the sender sees their own message before any server
// acknowledgment. Text that is empty after trimming is silently dropped. A
// failed send appends nothing, leaving the input retryable.
func (r *Router) Compose(ctx context.Context, text string, mode Mode, peer string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var key history.Key
	out := wire.Outbound{
		ID:   uuid.NewString(),
		User: r.identity,
		Text: text,
	}

	switch mode {
	case ModeDirect:
		if peer == "" {
			return ErrNoPeer
		}
		out.Type = wire.TypeOneToOne
		out.Recipient = peer
		key = history.DirectKey(r.identity, peer)

	case ModeGroup:
		if _, ok := r.allowed[r.identity]; !ok {
			return ErrUnauthorized
		}
		out.Type = wire.TypeGroup
		out.Room = r.room
		key = history.GroupKey(r.room)

	default:
		return fmt.Errorf("router: unknown mode %q", mode)
	}

	if err := r.conn.Send(out); err != nil {
		return err
	}

	if mode == ModeGroup && r.poster != nil {
		// Durable server-side record; best effort, the live send already
		// succeeded.
		post := api.SendRequest{Sender: r.identity, Text: text, Room: r.room, Type: wire.TypeGroup}
		if err := r.poster.PostGroupMessage(ctx, post); err != nil {
			r.log.Warn("durable group send failed", "room", r.room, "error", err)
		}
	}

	echo := history.Message{
		ID:     out.ID,
		Sender: r.identity,
		Text:   text,
		SentAt: time.Now(),
		Origin: history.OriginLocalEcho,
	}
	if err := r.store.Append(ctx, r.identity, key, echo); err != nil {
		return fmt.Errorf("router: echo append: %w", err)
	}
	r.recordEcho(echoRecord{id: out.ID, sender: r.identity, text: text, key: key, at: echo.SentAt})
	return nil
}

// ClassifyInbound derives the conversation key for a wire message. A room
// marker routes to the group log; anything else is a direct thread between
// the local identity and the other party (the sender, or the recipient when
// the server echoes our own message back).
func (r *Router) ClassifyInbound(msg wire.Message) (history.Key, history.Message) {
	entry := history.Message{
		ID:     msg.ID,
		Sender: msg.From(),
		SentAt: time.Now(),
		Text:   msg.Text,
		Origin: history.OriginRemote,
	}

	if msg.Room != "" {
		return history.GroupKey(msg.Room), entry
	}

	other := msg.From()
	if other == r.identity && msg.Recipient != "" {
		other = msg.Recipient
	}
	return history.DirectKey(r.identity, other), entry
}

// HandleInbound classifies, de-duplicates and persists one inbound message.
// It returns the conversation key and whether a new entry was appended; a
// suppressed server echo of our own send returns appended=false with no
// error.
func (r *Router) HandleInbound(ctx context.Context, msg wire.Message) (history.Key, bool, error) {
	key, entry := r.ClassifyInbound(msg)

	if r.observe != nil {
		r.observe(msg.From())
		if msg.Recipient != "" {
			r.observe(msg.Recipient)
		}
	}

	if entry.Sender == r.identity && r.isDuplicateEcho(entry, key) {
		r.log.Debug("suppressing server echo of local send",
			"conversation", key.String(), "id", entry.ID)
		return key, false, nil
	}

	if err := r.store.Append(ctx, r.identity, key, entry); err != nil {
		return key, false, fmt.Errorf("router: append: %w", err)
	}
	return key, true, nil
}

func (r *Router) recordEcho(rec echoRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.echoes = append(r.echoes, rec)
	if len(r.echoes) > maxRecentEchoes {
		r.echoes = r.echoes[len(r.echoes)-maxRecentEchoes:]
	}
}

// isDuplicateEcho matches a message from ourselves against recent local
// echoes: by client id when the server preserved it, otherwise by text and
// conversation inside a short window. Best effort only; a matched record is
// consumed so a genuine repeat of the same text still appears.
func (r *Router) isDuplicateEcho(entry history.Message, key history.Key) bool {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	live := r.echoes[:0]
	for _, rec := range r.echoes {
		if now.Sub(rec.at) <= echoWindow {
			live = append(live, rec)
		}
	}
	r.echoes = live

	for i, rec := range r.echoes {
		if rec.key != key {
			continue
		}
		idMatch := entry.ID != "" && entry.ID == rec.id
		textMatch := entry.ID == "" && entry.Text == rec.text
		if idMatch || textMatch {
			r.echoes = append(r.echoes[:i], r.echoes[i+1:]...)
			return true
		}
	}
	return false
}
