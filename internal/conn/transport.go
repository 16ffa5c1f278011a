package conn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/DoyleJ11/share-board/internal/roomerr"
	"github.com/DoyleJ11/share-board/pkg/types"
)

// WSDialer opens room connections at <BaseURL>/ws/room/<code>?token=<ticket>.
// Only the one-time ticket travels on the URL, never the session credential.
type WSDialer struct {
	BaseURL    string
	HTTPClient *http.Client
	// ReadLimit caps a single inbound frame; drawings can be large.
	ReadLimit int64
}

func (d WSDialer) URL(roomCode string, ticket types.Ticket) string {
	q := url.Values{"token": {ticket.Token}}
	return fmt.Sprintf("%s/ws/room/%s?%s", strings.TrimRight(d.BaseURL, "/"), url.PathEscape(roomCode), q.Encode())
}

func (d WSDialer) Dial(ctx context.Context, roomCode string, ticket types.Ticket) (Transport, error) {
	c, resp, err := websocket.Dial(ctx, d.URL(roomCode, ticket), &websocket.DialOptions{HTTPClient: d.HTTPClient})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake rejected: %v", roomerr.ErrAuth, err)
		}
		return nil, fmt.Errorf("%w: dial: %v", roomerr.ErrNetwork, err)
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = 4 << 20
	}
	c.SetReadLimit(limit)
	return &wsTransport{c: c}, nil
}

type wsTransport struct {
	c *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.c.Read(ctx)
	if err != nil {
		return nil, classifyClose(err)
	}
	return data, nil
}

func (t *wsTransport) Write(ctx context.Context, frame []byte) error {
	return t.c.Write(ctx, websocket.MessageText, frame)
}

func (t *wsTransport) Close(code int, reason string) error {
	return t.c.Close(websocket.StatusCode(code), reason)
}

// classifyClose maps a read error to the sync layer's taxonomy: reserved
// rejection codes are terminal, clean closes are not errors at all, and
// everything else is a network failure.
func classifyClose(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	code := websocket.CloseStatus(err)
	switch {
	case roomerr.IsRejectCode(int(code)):
		var ce websocket.CloseError
		errors.As(err, &ce)
		return &roomerr.CloseError{Code: int(code), Reason: ce.Reason}
	case code == websocket.StatusNormalClosure, code == websocket.StatusGoingAway:
		return ErrClosedNormally
	default:
		return fmt.Errorf("%w: %v", roomerr.ErrNetwork, err)
	}
}
