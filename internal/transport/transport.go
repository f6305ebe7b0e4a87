// Package transport owns the live WebSocket connection to the chat server:
// dialing, inbound frame classification, outbound writes and the reconnect
// state machine. Exactly one Manager exists per active session and only the
// Manager may open, close or write to the socket.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opcode-im/opcode/internal/wire"
)

// DefaultRetryDelay is the fixed pause between reconnect attempts. There is
// no exponential backoff; the delay exists so a flapping server is never
// busy-looped.
const DefaultRetryDelay = 2 * time.Second

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrNoIdentity   = errors.New("transport: identity must not be empty")
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// EventKind classifies an inbound event.
type EventKind int

const (
	EventPresence EventKind = iota
	EventMessage
	EventError
)

// Event is one classified inbound occurrence. Presence is set for
// EventPresence, Message for EventMessage and Err for EventError.
type Event struct {
	Kind     EventKind
	Presence map[string]string
	Message  wire.Message
	Err      error
}

// Manager owns one live transport. All methods are safe for concurrent use.
type Manager struct {
	wsBase     string
	retryDelay time.Duration
	dialer     *websocket.Dialer
	log        *slog.Logger

	writeMu sync.Mutex

	mu            sync.Mutex
	state         State
	conn          *websocket.Conn
	identity      string
	token         string
	gen           int
	retryTimer    *time.Timer
	handlers      []func(Event)
	stateHandlers []func(State)
}

// New creates a Manager dialing wsBase (e.g. "ws://127.0.0.1:8000"). A
// retryDelay of zero or less selects DefaultRetryDelay.
func New(wsBase string, retryDelay time.Duration, logger *slog.Logger) *Manager {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		wsBase:     strings.TrimRight(wsBase, "/"),
		retryDelay: retryDelay,
		dialer:     websocket.DefaultDialer,
		log:        logger,
	}
}

// OnEvent registers a listener invoked for each classified inbound event.
// Listeners run on the read goroutine, one event at a time.
func (m *Manager) OnEvent(fn func(Event)) {
	m.mu.Lock()
	m.handlers = append(m.handlers, fn)
	m.mu.Unlock()
}

// OnStateChange registers a listener for connection state transitions.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	m.stateHandlers = append(m.stateHandlers, fn)
	m.mu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the transport for the given identity. The token, when
// non-empty, is carried as a query parameter. An initial dial failure is
// returned to the caller and leaves the manager disconnected; once open,
// recovery from a close is the manager's job.
func (m *Manager) Connect(identity, token string) error {
	if identity == "" {
		return ErrNoIdentity
	}

	m.mu.Lock()
	if m.state == StateOpen || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.identity = identity
	m.token = token
	notify := m.toStateLocked(StateConnecting)
	m.mu.Unlock()
	notify()

	conn, resp, err := m.dialer.Dial(m.endpoint(identity, token), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	m.mu.Lock()
	if m.state != StateConnecting {
		// Disconnect raced the dial.
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrNotConnected
	}
	if err != nil {
		notify := m.toStateLocked(StateDisconnected)
		m.mu.Unlock()
		notify()
		return fmt.Errorf("transport: dial: %w", err)
	}

	m.conn = conn
	m.gen++
	gen := m.gen
	notify = m.toStateLocked(StateOpen)
	m.mu.Unlock()
	notify()

	m.log.Info("connected", "identity", identity)
	go m.readPump(conn, gen)
	return nil
}

// Send transmits one JSON payload. It fails with ErrNotConnected unless the
// state is open; the manager holds no outbound queue, so the caller decides
// whether to retry or surface the failure.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	if m.state != StateOpen || m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn
	m.mu.Unlock()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Disconnect closes the transport if open and cancels any pending reconnect.
// It is idempotent and safe to call from any state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	conn := m.conn
	m.conn = nil
	m.gen++
	var notify func()
	if m.state != StateDisconnected {
		notify = m.toStateLocked(StateDisconnected)
	}
	m.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}
	if notify != nil {
		notify()
	}
}

// readPump reads and classifies frames until the connection dies. A read
// error means the connection is gone in gorilla's model, which is what
// drives the reconnect path.
func (m *Manager) readPump(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}

		frame, err := wire.DecodeInbound(raw)
		if err != nil {
			// Malformed input never kills the connection.
			m.log.Warn("dropping malformed frame", "error", err)
			m.emit(Event{Kind: EventError, Err: err})
			continue
		}

		switch frame.Type {
		case wire.FrameStatus:
			m.emit(Event{Kind: EventPresence, Presence: frame.Status})
		case wire.FrameMessage:
			m.emit(Event{Kind: EventMessage, Message: frame.Message})
		case wire.FrameError:
			m.emit(Event{Kind: EventError, Err: fmt.Errorf("transport: server error: %s", frame.ErrorText)})
		}
	}
}

func (m *Manager) handleClose(gen int, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.state == StateDisconnected {
		// A newer connection took over, or Disconnect already ran.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	notify := m.toStateLocked(StateReconnecting)
	m.retryTimer = time.AfterFunc(m.retryDelay, m.redial)
	delay := m.retryDelay
	m.mu.Unlock()
	notify()

	m.log.Info("connection closed, reconnecting", "cause", cause, "delay", delay)
}

func (m *Manager) redial() {
	m.mu.Lock()
	if m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	identity, token := m.identity, m.token
	m.mu.Unlock()

	conn, resp, err := m.dialer.Dial(m.endpoint(identity, token), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	m.mu.Lock()
	if m.state != StateReconnecting {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.log.Warn("reconnect dial failed", "error", err, "delay", m.retryDelay)
		m.retryTimer = time.AfterFunc(m.retryDelay, m.redial)
		m.mu.Unlock()
		return
	}

	m.conn = conn
	m.gen++
	gen := m.gen
	notify := m.toStateLocked(StateOpen)
	m.mu.Unlock()
	notify()

	m.log.Info("reconnected", "identity", identity)
	go m.readPump(conn, gen)
}

// toStateLocked records the transition and returns the notification closure
// to run after the lock is released, so listeners can call back into the
// manager.
func (m *Manager) toStateLocked(s State) func() {
	m.state = s
	handlers := make([]func(State), len(m.stateHandlers))
	copy(handlers, m.stateHandlers)
	return func() {
		for _, fn := range handlers {
			fn(s)
		}
	}
}

func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	handlers := make([]func(Event), len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

func (m *Manager) endpoint(identity, token string) string {
	endpoint := m.wsBase + "/ws/" + url.PathEscape(identity)
	if token != "" {
		endpoint += "?token=" + url.QueryEscape(token)
	}
	return endpoint
}
