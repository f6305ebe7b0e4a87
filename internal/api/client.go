// Package api is the HTTP client for the chat server's request/response
// endpoints: the presence snapshot, group history hydration and the durable
// group send fallback.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opcode-im/opcode/internal/presence"
)

// DefaultTimeout bounds each request when the caller's context carries no
// deadline of its own.
const DefaultTimeout = 10 * time.Second

// GroupMessage is one entry of a group history response.
type GroupMessage struct {
	Sender string `json:"sender"`
	User   string `json:"user,omitempty"`
	Text   string `json:"text"`
}

// From returns the sender handle regardless of which field carried it.
func (m GroupMessage) From() string {
	if m.Sender != "" {
		return m.Sender
	}
	return m.User
}

// SendRequest is the body of the durable group send endpoint.
type SendRequest struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
	Room   string `json:"room"`
	Type   string `json:"type"`
}

// Client talks to the chat server over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// FetchPresence performs the one-shot snapshot fetch used at session start.
// Failures are wrapped in presence.ErrUnavailable so callers can degrade
// softly instead of failing the session.
func (c *Client) FetchPresence(ctx context.Context) (map[string]presence.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user_status", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", presence.ErrUnavailable, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", presence.ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", presence.ErrUnavailable, resp.StatusCode)
	}

	var raw map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", presence.ErrUnavailable, err)
	}

	snapshot := make(map[string]presence.Status, len(raw))
	for handle, status := range raw {
		snapshot[handle] = presence.Status(status)
	}
	return snapshot, nil
}

// FetchGroupHistory returns the server-side log for a room, used to hydrate
// the group conversation on first load.
func (c *Client) FetchGroupHistory(ctx context.Context, room string) ([]GroupMessage, error) {
	endpoint := c.baseURL + "/group_messages/" + url.PathEscape(room)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: group history: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api: group history: status %d", resp.StatusCode)
	}

	var body struct {
		Messages []GroupMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("api: group history: decode: %w", err)
	}
	return body.Messages, nil
}

// PostGroupMessage records a group message server-side independently of the
// live transport.
func (c *Client) PostGroupMessage(ctx context.Context, msg SendRequest) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send_message", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: send message: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api: send message: status %d", resp.StatusCode)
	}
	return nil
}
