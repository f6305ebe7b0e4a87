// Package chattest provides an in-process stand-in for the opcode chat
// backend, used by transport, api and session tests. It implements the four
// endpoints the client consumes: the per-identity WebSocket, the presence
// snapshot, group history and the durable group send.
package chattest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is one payload received from a client over the WebSocket.
type Frame struct {
	User string
	Raw  []byte
}

// Posted is one body received on the durable group send endpoint.
type Posted struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
	Room   string `json:"room"`
	Type   string `json:"type"`
}

// Server is the fake backend. Construct with NewServer and always Close it.
type Server struct {
	httpServer *httptest.Server
	upgrader   websocket.Upgrader

	received chan Frame

	mu           sync.Mutex
	conns        map[string]*websocket.Conn
	dials        map[string]int
	tokens       map[string][]string
	presence     map[string]string
	presenceCode int
	groupHistory map[string][]map[string]string
	posted       []Posted
}

// NewServer starts the fake backend on an ephemeral port.
func NewServer() *Server {
	s := &Server{
		received:     make(chan Frame, 64),
		conns:        make(map[string]*websocket.Conn),
		dials:        make(map[string]int),
		tokens:       make(map[string][]string),
		presence:     make(map[string]string),
		presenceCode: http.StatusOK,
		groupHistory: make(map[string][]map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", s.handleWS)
	mux.HandleFunc("/user_status", s.handlePresence)
	mux.HandleFunc("/group_messages/", s.handleGroupHistory)
	mux.HandleFunc("/send_message", s.handleSendMessage)

	s.httpServer = httptest.NewServer(mux)
	return s
}

// Close shuts the backend down and drops every live connection.
func (s *Server) Close() {
	s.mu.Lock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = make(map[string]*websocket.Conn)
	s.mu.Unlock()
	s.httpServer.Close()
}

// URL returns the HTTP base URL.
func (s *Server) URL() string { return s.httpServer.URL }

// WSURL returns the WebSocket base URL.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http")
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	identity := strings.TrimPrefix(r.URL.Path, "/ws/")
	if identity == "" {
		http.Error(w, "missing identity", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.dials[identity]++
	s.tokens[identity] = append(s.tokens[identity], r.URL.Query().Get("token"))
	s.conns[identity] = conn
	s.mu.Unlock()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case s.received <- Frame{User: identity, Raw: raw}:
		default:
		}
	}
}

func (s *Server) handlePresence(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	code := s.presenceCode
	snapshot := make(map[string]string, len(s.presence))
	for k, v := range s.presence {
		snapshot[k] = v
	}
	s.mu.Unlock()

	if code != http.StatusOK {
		http.Error(w, "presence unavailable", code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshot)
}

func (s *Server) handleGroupHistory(w http.ResponseWriter, r *http.Request) {
	room := strings.TrimPrefix(r.URL.Path, "/group_messages/")

	s.mu.Lock()
	messages, ok := s.groupHistory[room]
	s.mu.Unlock()

	if !ok {
		http.Error(w, "Group not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"messages": messages})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body Posted
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.posted = append(s.posted, body)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "message sent"})
}

// SetPresence installs the snapshot served by /user_status.
func (s *Server) SetPresence(snapshot map[string]string) {
	s.mu.Lock()
	s.presence = snapshot
	s.mu.Unlock()
}

// FailPresence makes /user_status answer with the given status code.
func (s *Server) FailPresence(code int) {
	s.mu.Lock()
	s.presenceCode = code
	s.mu.Unlock()
}

// SetGroupHistory installs the hydration payload for a room.
func (s *Server) SetGroupHistory(room string, messages []map[string]string) {
	s.mu.Lock()
	s.groupHistory[room] = messages
	s.mu.Unlock()
}

// Push writes one raw frame to the identity's live connection.
func (s *Server) Push(identity string, payload []byte) error {
	s.mu.Lock()
	conn := s.conns[identity]
	s.mu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// PushJSON marshals v and pushes it.
func (s *Server) PushJSON(identity string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Push(identity, raw)
}

// DropConn severs the identity's connection server-side, as a crashed or
// restarted backend would.
func (s *Server) DropConn(identity string) {
	s.mu.Lock()
	conn := s.conns[identity]
	delete(s.conns, identity)
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// DialCount reports how many times the identity has connected.
func (s *Server) DialCount(identity string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials[identity]
}

// Tokens returns the token query parameter of each dial by the identity.
func (s *Server) Tokens(identity string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.tokens[identity]))
	copy(out, s.tokens[identity])
	return out
}

// PostedMessages returns everything received on /send_message.
func (s *Server) PostedMessages() []Posted {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Posted, len(s.posted))
	copy(out, s.posted)
	return out
}

// NextFrame waits for the next client frame, reporting false on timeout.
func (s *Server) NextFrame(timeout time.Duration) (Frame, bool) {
	select {
	case frame := <-s.received:
		return frame, true
	case <-time.After(timeout):
		return Frame{}, false
	}
}

// WaitForDials polls until the identity has dialed at least n times.
func (s *Server) WaitForDials(identity string, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.DialCount(identity) >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return s.DialCount(identity) >= n
}

// WaitForConn polls until the identity has a live connection.
func (s *Server) WaitForConn(identity string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		_, ok := s.conns[identity]
		s.mu.Unlock()
		if ok {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
