// Package ctl is the client for a running daemon's local API.
package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/matheus3301/crmsync/internal/api"
	"github.com/matheus3301/crmsync/internal/chatstore"
	"github.com/matheus3301/crmsync/internal/domain"
)

// baseURL is a placeholder host; every request is dialed over the socket.
const baseURL = "http://daemon"

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("daemon returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client talks to the daemon of one profile over its Unix domain socket.
type Client struct {
	socketPath string
	http       *http.Client
	stream     *http.Client
}

// New returns a client for the daemon listening on socketPath. Nothing is
// dialed until the first call.
func New(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return &Client{
		socketPath: socketPath,
		http:       &http.Client{Transport: transport, Timeout: 30 * time.Second},
		stream:     &http.Client{Transport: transport},
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Health reports whether the daemon answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Connection returns the live channel status.
func (c *Client) Connection(ctx context.Context) (*api.ConnectionStatus, error) {
	var out api.ConnectionStatus
	if err := c.do(ctx, http.MethodGet, "/v1/connection", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Initialize asks the daemon to open the live channel now.
func (c *Client) Initialize(ctx context.Context) (*api.ConnectionStatus, error) {
	var out api.ConnectionStatus
	if err := c.do(ctx, http.MethodPost, "/v1/connection/initialize", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Snapshot returns the current chat store state.
func (c *Client) Snapshot(ctx context.Context) (*chatstore.Snapshot, error) {
	return c.snapshotCall(ctx, http.MethodGet, "/v1/snapshot", nil)
}

// Resync reloads the active tab, the selected conversation and the counters.
func (c *Client) Resync(ctx context.Context) (*chatstore.Snapshot, error) {
	return c.snapshotCall(ctx, http.MethodPost, "/v1/resync", nil)
}

// SetTab switches the ticket list to a status tab.
func (c *Client) SetTab(ctx context.Context, tab domain.TicketStatus) (*chatstore.Snapshot, error) {
	return c.snapshotCall(ctx, http.MethodPost, "/v1/tabs/"+url.PathEscape(string(tab)), nil)
}

// SetFilters replaces the list filters.
func (c *Client) SetFilters(ctx context.Context, f chatstore.Filters) (*chatstore.Snapshot, error) {
	return c.snapshotCall(ctx, http.MethodPut, "/v1/filters", f)
}

// FetchTickets loads a page of tickets. An empty status reloads the active tab.
func (c *Client) FetchTickets(ctx context.Context, req api.FetchTicketsRequest) (*chatstore.Snapshot, error) {
	return c.snapshotCall(ctx, http.MethodPost, "/v1/tickets/fetch", req)
}

// FetchMoreTickets appends the next page of the active tab.
func (c *Client) FetchMoreTickets(ctx context.Context) (*chatstore.Snapshot, error) {
	return c.snapshotCall(ctx, http.MethodPost, "/v1/tickets/more", nil)
}

// UpdateChat replaces a cached ticket.
func (c *Client) UpdateChat(ctx context.Context, t domain.Ticket) (*chatstore.Snapshot, error) {
	return c.snapshotCall(ctx, http.MethodPut, ticketPath(t.ID, ""), t)
}

// RemoveTicket drops a ticket from the cache.
func (c *Client) RemoveTicket(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, ticketPath(id, ""), nil, nil)
}

// SelectTicket selects a cached ticket and loads its first message page.
func (c *Client) SelectTicket(ctx context.Context, id int64) (*chatstore.Snapshot, error) {
	return c.snapshotCall(ctx, http.MethodPost, ticketPath(id, "/select"), nil)
}

// AcceptTicket moves a ticket to OPEN and selects it.
func (c *Client) AcceptTicket(ctx context.Context, id int64) (*chatstore.Snapshot, error) {
	return c.snapshotCall(ctx, http.MethodPost, ticketPath(id, "/accept"), nil)
}

// SendMessage sends text on the selected ticket and returns the optimistic message.
func (c *Client) SendMessage(ctx context.Context, text string) (*domain.Message, error) {
	var out domain.Message
	if err := c.do(ctx, http.MethodPost, "/v1/messages", api.SendMessageRequest{Text: text}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchMessages loads one page of the selected ticket's messages.
func (c *Client) FetchMessages(ctx context.Context, page int) (*chatstore.Snapshot, error) {
	return c.snapshotCall(ctx, http.MethodPost, "/v1/messages/fetch", api.FetchMessagesRequest{Page: page})
}

// FetchMoreMessages loads the next older page of the selected ticket.
func (c *Client) FetchMoreMessages(ctx context.Context) (*chatstore.Snapshot, error) {
	return c.snapshotCall(ctx, http.MethodPost, "/v1/messages/more", nil)
}

// RetryMessage re-sends a failed message.
func (c *Client) RetryMessage(ctx context.Context, id string) (*chatstore.Snapshot, error) {
	return c.snapshotCall(ctx, http.MethodPost, "/v1/messages/"+url.PathEscape(id)+"/retry", nil)
}

// Watch streams daemon events whose kind starts with ns until ctx ends or fn
// returns an error.
func (c *Client) Watch(ctx context.Context, ns string, fn func(api.EventFrame) error) error {
	u := "ws://daemon/v1/events"
	if ns != "" {
		u += "?ns=" + url.QueryEscape(ns)
	}
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPClient: c.stream})
	if err != nil {
		return fmt.Errorf("dial event stream: %w", err)
	}
	defer func() { _ = conn.CloseNow() }()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		var f api.EventFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(f); err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return err
		}
	}
}

func (c *Client) snapshotCall(ctx context.Context, method, path string, body any) (*chatstore.Snapshot, error) {
	var out chatstore.Snapshot
	if err := c.do(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.socketPath, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var eb api.ErrorBody
		if err := json.NewDecoder(resp.Body).Decode(&eb); err == nil {
			apiErr.Code, apiErr.Message = eb.Code, eb.Message
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func ticketPath(id int64, suffix string) string {
	return "/v1/tickets/" + strconv.FormatInt(id, 10) + suffix
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
