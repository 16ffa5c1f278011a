package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrBadDrawing = errors.New("drawing is not a scene object or data url")

// RoomSnapshot is the REST view of a room:
//
//	code:         string (immutable join key)
//	host:         username of the creator
//	is_active:    false once the host has closed the room
//	shared_text:  string
//	drawing_data: scene object | data url (older servers: "drawing")
//	messages:     [{sender, content}] in display order
type RoomSnapshot struct {
	Code        string          `json:"code"`
	Host        string          `json:"host,omitempty"`
	Active      bool            `json:"is_active"`
	SharedText  string          `json:"shared_text"`
	DrawingData json.RawMessage `json:"drawing_data,omitempty"`
	Drawing     json.RawMessage `json:"drawing,omitempty"`
	Messages    []ChatMessage   `json:"messages"`
}

func (s RoomSnapshot) DrawingPayload() json.RawMessage {
	if len(s.DrawingData) > 0 {
		return s.DrawingData
	}
	return s.Drawing
}

// RoomSummary is one entry of the caller's room list.
type RoomSummary struct {
	Code      string    `json:"code"`
	Host      string    `json:"host"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Participants is everyone who joined a room and who is connected now.
type Participants struct {
	Members []string `json:"members"`
	Online  []string `json:"online"`
}

type ChatMessage struct {
	Sender  Username `json:"sender"`
	Content string   `json:"content"`
}

// Ticket is a single-use, room-scoped credential for opening the realtime
// connection.
type Ticket struct {
	Token string `json:"token"`
}

// Drawing is an opaque serialized scene. Vector deployments carry a JSON
// object (elements/appState/files); raster deployments carry a data URL.
type Drawing struct {
	Scene   json.RawMessage
	DataURL string
}

func (d Drawing) IsZero() bool {
	return len(d.Scene) == 0 && d.DataURL == ""
}

func (d Drawing) MarshalJSON() ([]byte, error) {
	if d.DataURL != "" {
		return json.Marshal(d.DataURL)
	}
	if len(d.Scene) == 0 {
		return []byte("null"), nil
	}
	return d.Scene, nil
}

func (d *Drawing) UnmarshalJSON(b []byte) error {
	parsed, err := ParseDrawing(b)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDrawing validates a drawing payload. Accepted forms are a JSON object,
// a JSON string holding a JSON object, and a JSON string holding a data URL.
// An empty payload or JSON null yields the zero Drawing.
func ParseDrawing(raw []byte) (Drawing, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Drawing{}, nil
	}

	switch raw[0] {
	case '{':
		if !json.Valid(raw) {
			return Drawing{}, ErrBadDrawing
		}
		return Drawing{Scene: append(json.RawMessage(nil), raw...)}, nil

	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Drawing{}, ErrBadDrawing
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return Drawing{}, nil
		}
		if strings.HasPrefix(s, "data:") {
			return Drawing{DataURL: s}, nil
		}
		if s[0] != '{' {
			return Drawing{}, ErrBadDrawing
		}
		return ParseDrawing([]byte(s))
	}

	return Drawing{}, ErrBadDrawing
}
