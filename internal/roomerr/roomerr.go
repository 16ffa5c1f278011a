// Package roomerr holds the error taxonomy shared by the room sync layer.
package roomerr

import (
	"errors"
	"fmt"
)

var ErrAuth = errors.New("auth failure")
var ErrNetwork = errors.New("network failure")
var ErrProtocol = errors.New("protocol error")
var ErrValidation = errors.New("validation error")
var ErrNotFound = errors.New("room not found")

// Reserved websocket close codes used by the server to reject a connection
// at the application level.
const (
	CloseBadTicket = 4001
	CloseRoomGone  = 4002
	CloseForbidden = 4003
)

func IsRejectCode(code int) bool {
	return code >= CloseBadTicket && code <= CloseForbidden
}

// CloseError reports that the server closed the transport with a reserved
// rejection code. It matches ErrAuth so callers treat it as terminal.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection rejected (%d)", e.Code)
	}
	return fmt.Sprintf("connection rejected (%d): %s", e.Code, e.Reason)
}

func (e *CloseError) Unwrap() error { return ErrAuth }

// Terminal reports whether err should send the user back to the room list
// instead of offering a retry.
func Terminal(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrNotFound)
}
