package session

import (
	"github.com/DoyleJ11/share-board/internal/conn"
	"github.com/DoyleJ11/share-board/internal/room"
)

// RouteRoomList is where terminal failures send the user.
const RouteRoomList = "/rooms"

// Event is something the room view should render or act on.
type Event interface{ isEvent() }

type ConnChanged struct{ State conn.State }

type RoomChanged struct{ State room.State }

type ToastLevel string

const (
	ToastInfo    ToastLevel = "info"
	ToastSuccess ToastLevel = "success"
	ToastError   ToastLevel = "error"
)

type Toast struct {
	Level ToastLevel
	Text  string
}

// Banner is a transient connection problem; the user may retry.
type Banner struct {
	Text string
	Err  error
}

// Redirect asks the view to navigate away, e.g. after a rejected ticket.
type Redirect struct {
	To     string
	Reason error
}

// ConfirmLeave asks the view to show the unsaved-changes prompt.
type ConfirmLeave struct{}

func (ConnChanged) isEvent()  {}
func (RoomChanged) isEvent()  {}
func (Toast) isEvent()        {}
func (Banner) isEvent()       {}
func (Redirect) isEvent()     {}
func (ConfirmLeave) isEvent() {}
