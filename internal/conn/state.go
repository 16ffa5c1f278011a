package conn

import (
	"errors"

	"github.com/DoyleJ11/share-board/internal/roomerr"
)

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// State is owned by the Manager. Everyone else gets copies.
type State struct {
	Status Status
	Room   string // set while connecting or connected
	Err    error  // set when Status is StatusError
}

// Terminal reports whether the failure means the room cannot be entered with
// the current credentials (ticket rejected, room gone, forbidden). Such
// failures send the user back to the room list rather than offering a retry.
func (s State) Terminal() bool {
	return s.Status == StatusError && roomerr.Terminal(s.Err)
}

func (s State) same(o State) bool {
	return s.Status == o.Status && s.Room == o.Room && errors.Is(s.Err, o.Err) && errors.Is(o.Err, s.Err)
}
