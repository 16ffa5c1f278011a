// Package api is the client side of the room REST API, including the ticket
// exchange that precedes every realtime connection.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DoyleJ11/share-board/internal/roomerr"
	"github.com/DoyleJ11/share-board/pkg/types"
)

type Client struct {
	base       string
	credential string
	http       *http.Client
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New returns a client for the API rooted at baseURL. credential is the
// long-lived session token; it is only ever sent to the REST API, never on
// the realtime connection.
func New(baseURL, credential string, opts ...Option) *Client {
	c := &Client{
		base:       strings.TrimRight(baseURL, "/"),
		credential: credential,
		http:       &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Room fetches the snapshot of the room with the given code.
func (c *Client) Room(ctx context.Context, code string) (types.RoomSnapshot, error) {
	var snap types.RoomSnapshot
	err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(code), nil, &snap)
	return snap, err
}

func (c *Client) CreateRoom(ctx context.Context) (types.RoomSnapshot, error) {
	var snap types.RoomSnapshot
	err := c.do(ctx, http.MethodPost, "/rooms", struct{}{}, &snap)
	return snap, err
}

// Rooms lists the rooms the caller hosts or has joined, newest first.
func (c *Client) Rooms(ctx context.Context) ([]types.RoomSummary, error) {
	var rooms []types.RoomSummary
	err := c.do(ctx, http.MethodGet, "/rooms", nil, &rooms)
	return rooms, err
}

func (c *Client) JoinRoom(ctx context.Context, code string) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(code)+"/join", struct{}{}, nil)
}

// LeaveRoom removes the caller from the room. For the host it closes the room
// and closed is true.
func (c *Client) LeaveRoom(ctx context.Context, code string) (closed bool, err error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(code)+"/leave", struct{}{}, &out); err != nil {
		return false, err
	}
	return out.Status == "room closed", nil
}

func (c *Client) Participants(ctx context.Context, code string) (types.Participants, error) {
	var p types.Participants
	err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(code)+"/participants", nil, &p)
	return p, err
}

// IssueTicket exchanges the session credential for a single-use ticket
// scoped to roomCode. Nothing is cached: every call hits the server.
func (c *Client) IssueTicket(ctx context.Context, roomCode string) (types.Ticket, error) {
	var t types.Ticket
	body := struct {
		RoomCode string `json:"room_code"`
	}{RoomCode: roomCode}

	if err := c.do(ctx, http.MethodPost, "/ws-ticket", body, &t); err != nil {
		return types.Ticket{}, err
	}
	if t.Token == "" {
		return types.Ticket{}, fmt.Errorf("%w: ticket response without token", roomerr.ErrProtocol)
	}
	return t, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %s %s: %v", roomerr.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: decode: %v", roomerr.ErrProtocol, method, path, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail := readDetail(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", roomerr.ErrAuth, detail)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", roomerr.ErrNotFound, detail)
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", roomerr.ErrValidation, detail)
	default:
		return fmt.Errorf("%w: status %d: %s", roomerr.ErrNetwork, resp.StatusCode, detail)
	}
}

// readDetail pulls the server's message out of an error body, falling back
// to the raw text.
func readDetail(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4<<10))
	var e struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil {
		for _, s := range []string{e.Detail, e.Message, e.Error} {
			if s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(string(b))
}
