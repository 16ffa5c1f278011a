package types

import (
	"bytes"
	"encoding/json"
)

// ProtocolVersion is stamped on every server frame. Clients reject frames
// carrying a newer version than they understand.
const ProtocolVersion = 2

type Action string

// Client -> Server
//
//	message:            content
//	update_shared_text: shared_text  (live, broadcast to the room, not persisted)
//	save_shared_text:   shared_text  (persisted, acknowledged with "saved")
//	update_drawing:     drawing_data (live)
//	save_drawing:       drawing_data (persisted, acknowledged with "saved")
const (
	ActionMessage          Action = "message"
	ActionUpdateSharedText Action = "update_shared_text"
	ActionSaveSharedText   Action = "save_shared_text"
	ActionUpdateDrawing    Action = "update_drawing"
	ActionSaveDrawing      Action = "save_drawing"
)

// Server -> Client
//
//	{type:"chat.message", sender, content}
//	{action:"update_shared_text", shared_text}
//	{action:"update_drawing", drawing_data}
//	{action:"saved", target:"save_shared_text"|"save_drawing"}
const (
	TypeChatMessage = "chat.message"
	ActionSaved     Action = "saved"
)

func (a Action) IsSave() bool {
	return a == ActionSaveSharedText || a == ActionSaveDrawing
}

func (a Action) Valid() bool {
	switch a {
	case ActionMessage, ActionUpdateSharedText, ActionSaveSharedText, ActionUpdateDrawing, ActionSaveDrawing:
		return true
	}
	return false
}

type ClientMessage struct {
	Action      Action          `json:"action"`
	Content     string          `json:"content,omitempty"`
	SharedText  *string         `json:"shared_text,omitempty"`
	DrawingData json.RawMessage `json:"drawing_data,omitempty"`
}

type ServerMessage struct {
	V           int             `json:"v,omitempty"`
	Type        string          `json:"type,omitempty"`
	Action      Action          `json:"action,omitempty"`
	Sender      Username        `json:"sender,omitempty"`
	Content     string          `json:"content,omitempty"`
	SharedText  *string         `json:"shared_text,omitempty"`
	DrawingData json.RawMessage `json:"drawing_data,omitempty"`
	Drawing     json.RawMessage `json:"drawing,omitempty"` // older servers used this key
	Target      Action          `json:"target,omitempty"`
}

// DrawingPayload returns whichever drawing key the frame carried.
func (m ServerMessage) DrawingPayload() json.RawMessage {
	if len(m.DrawingData) > 0 {
		return m.DrawingData
	}
	return m.Drawing
}

// Username is the display name of a chat sender. On the wire it is either a
// bare string or a user object with a username field.
type Username string

func (u *Username) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*u = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = Username(s)
		return nil
	}
	var obj struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*u = Username(obj.Username)
	return nil
}

// Inbound is a classified server frame.
type Inbound interface{ isInbound() }

type ChatReceived struct{ Message ChatMessage }

type SharedTextReceived struct{ Text string }

type DrawingReceived struct{ Drawing Drawing }

type SaveAcked struct{ Target Action }

func (ChatReceived) isInbound()       {}
func (SharedTextReceived) isInbound() {}
func (DrawingReceived) isInbound()    {}
func (SaveAcked) isInbound()          {}
