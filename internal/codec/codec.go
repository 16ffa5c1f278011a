package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/DoyleJ11/share-board/internal/roomerr"
	"github.com/DoyleJ11/share-board/pkg/types"
)

// Chat encodes a chat message. Blank content is rejected before anything is sent.
func Chat(content string) ([]byte, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: empty chat message", roomerr.ErrValidation)
	}
	return json.Marshal(types.ClientMessage{Action: types.ActionMessage, Content: content})
}

func UpdateText(text string) ([]byte, error) {
	return encodeText(types.ActionUpdateSharedText, &text)
}

// SaveText encodes a save request. A nil text means there is nothing to save.
// The empty string is valid content (the user cleared the pad).
func SaveText(text *string) ([]byte, error) {
	return encodeText(types.ActionSaveSharedText, text)
}

func UpdateDrawing(d types.Drawing) ([]byte, error) {
	return encodeDrawing(types.ActionUpdateDrawing, d)
}

func SaveDrawing(d types.Drawing) ([]byte, error) {
	return encodeDrawing(types.ActionSaveDrawing, d)
}

func encodeText(action types.Action, text *string) ([]byte, error) {
	if text == nil {
		return nil, fmt.Errorf("%w: %s without shared_text", roomerr.ErrValidation, action)
	}
	return json.Marshal(types.ClientMessage{Action: action, SharedText: text})
}

func encodeDrawing(action types.Action, d types.Drawing) ([]byte, error) {
	if d.IsZero() {
		if action.IsSave() {
			return nil, fmt.Errorf("%w: %s without drawing_data", roomerr.ErrValidation, action)
		}
		// Live clear of the canvas.
		return json.Marshal(types.ClientMessage{Action: action, DrawingData: json.RawMessage(`{}`)})
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", roomerr.ErrValidation, err)
	}
	return json.Marshal(types.ClientMessage{Action: action, DrawingData: raw})
}

// Decode classifies one inbound server frame. It accepts raw bytes, strings,
// and values that were already decoded (a generic map or a ServerMessage).
//
// Rules are evaluated in order: chat.message type, update_shared_text,
// update_drawing, saved. Anything else is a protocol error.
func Decode(frame any) (types.Inbound, error) {
	msg, err := toServerMessage(frame)
	if err != nil {
		return nil, err
	}

	if msg.V > types.ProtocolVersion {
		return nil, fmt.Errorf("%w: protocol version %d not supported", roomerr.ErrProtocol, msg.V)
	}

	switch {
	case msg.Type == types.TypeChatMessage:
		if msg.Sender == "" || msg.Content == "" {
			return nil, fmt.Errorf("%w: chat.message missing sender or content", roomerr.ErrProtocol)
		}
		return types.ChatReceived{Message: types.ChatMessage{Sender: msg.Sender, Content: msg.Content}}, nil

	case msg.Action == types.ActionUpdateSharedText:
		if msg.SharedText == nil {
			return nil, fmt.Errorf("%w: update_shared_text missing shared_text", roomerr.ErrProtocol)
		}
		return types.SharedTextReceived{Text: *msg.SharedText}, nil

	case msg.Action == types.ActionUpdateDrawing:
		d, err := types.ParseDrawing(msg.DrawingPayload())
		if err != nil {
			return nil, fmt.Errorf("%w: update_drawing: %v", roomerr.ErrProtocol, err)
		}
		return types.DrawingReceived{Drawing: d}, nil

	case msg.Action == types.ActionSaved:
		if !msg.Target.IsSave() {
			return nil, fmt.Errorf("%w: saved ack with target %q", roomerr.ErrProtocol, msg.Target)
		}
		return types.SaveAcked{Target: msg.Target}, nil
	}

	return nil, fmt.Errorf("%w: unknown discriminant type=%q action=%q", roomerr.ErrProtocol, msg.Type, msg.Action)
}

func toServerMessage(frame any) (types.ServerMessage, error) {
	var raw []byte
	switch f := frame.(type) {
	case types.ServerMessage:
		return f, nil
	case *types.ServerMessage:
		if f == nil {
			return types.ServerMessage{}, fmt.Errorf("%w: nil frame", roomerr.ErrProtocol)
		}
		return *f, nil
	case []byte:
		raw = f
	case json.RawMessage:
		raw = f
	case string:
		raw = []byte(f)
	case map[string]any:
		b, err := json.Marshal(f)
		if err != nil {
			return types.ServerMessage{}, fmt.Errorf("%w: %v", roomerr.ErrProtocol, err)
		}
		raw = b
	default:
		return types.ServerMessage{}, fmt.Errorf("%w: unsupported frame %T", roomerr.ErrProtocol, frame)
	}

	var msg types.ServerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return types.ServerMessage{}, fmt.Errorf("%w: %v", roomerr.ErrProtocol, err)
	}
	return msg, nil
}

// DecodeClient parses and validates a frame sent by a client.
func DecodeClient(raw []byte) (types.ClientMessage, error) {
	var msg types.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", roomerr.ErrProtocol, err)
	}
	if !msg.Action.Valid() {
		return msg, fmt.Errorf("%w: unknown action %q", roomerr.ErrProtocol, msg.Action)
	}

	switch msg.Action {
	case types.ActionMessage:
		if strings.TrimSpace(msg.Content) == "" {
			return msg, fmt.Errorf("%w: empty chat message", roomerr.ErrValidation)
		}
	case types.ActionUpdateSharedText, types.ActionSaveSharedText:
		if msg.SharedText == nil {
			return msg, fmt.Errorf("%w: %s without shared_text", roomerr.ErrValidation, msg.Action)
		}
	case types.ActionUpdateDrawing, types.ActionSaveDrawing:
		d, err := types.ParseDrawing(msg.DrawingData)
		if err != nil {
			return msg, fmt.Errorf("%w: %v", roomerr.ErrValidation, err)
		}
		if d.IsZero() && msg.Action == types.ActionSaveDrawing {
			return msg, fmt.Errorf("%w: save_drawing without drawing_data", roomerr.ErrValidation)
		}
	}
	return msg, nil
}
