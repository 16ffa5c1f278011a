// Package store persists rooms, their chat history and realtime tickets.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/DoyleJ11/share-board/pkg/types"
)

var (
	ErrNotFound      = errors.New("room not found")
	ErrCodeTaken     = errors.New("room code already in use")
	ErrTicketInvalid = errors.New("ticket invalid or expired")
	ErrRoomClosed    = errors.New("room is not active")
)

type Room struct {
	ID         uint   `gorm:"primaryKey"`
	Code       string `gorm:"size:16;uniqueIndex;not null"`
	Host       string `gorm:"size:150;index;not null"`
	Active     bool   `gorm:"not null;default:true"`
	SharedText string `gorm:"type:text;not null;default:''"`
	// Drawing holds the raw drawing_data JSON as last saved.
	Drawing   string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Participant records that a user joined a room.
type Participant struct {
	RoomID   uint   `gorm:"primaryKey"`
	Username string `gorm:"primaryKey;size:150"`
	JoinedAt time.Time
}

type Message struct {
	ID        uint   `gorm:"primaryKey"`
	RoomID    uint   `gorm:"index;not null"`
	Sender    string `gorm:"size:150;not null"`
	Content   string `gorm:"type:text;not null"`
	CreatedAt time.Time
}

// Ticket is a single-use credential for one realtime connection to one room.
type Ticket struct {
	Token     string `gorm:"primaryKey;size:64"`
	Username  string `gorm:"size:150;not null"`
	RoomCode  string `gorm:"size:16;not null"`
	ExpiresAt time.Time
	CreatedAt time.Time
}

type Store interface {
	CreateRoom(ctx context.Context, code, host string) (Room, error)
	// Room returns the room and its messages oldest first.
	Room(ctx context.Context, code string) (Room, []Message, error)
	AppendMessage(ctx context.Context, code, sender, content string) error
	SaveSharedText(ctx context.Context, code, text string) error
	SaveDrawing(ctx context.Context, code string, raw json.RawMessage) error

	// JoinRoom adds username to the room's participants. Joining twice is
	// fine; joining a closed room fails with ErrRoomClosed.
	JoinRoom(ctx context.Context, code, username string) error
	// LeaveRoom removes username from the participants. When the host
	// leaves, the room is closed instead and closed is true.
	LeaveRoom(ctx context.Context, code, username string) (closed bool, err error)
	// RoomsFor lists the rooms username hosts or joined, newest first.
	RoomsFor(ctx context.Context, username string) ([]Room, error)
	// Participants lists the usernames that joined the room, in join order.
	Participants(ctx context.Context, code string) ([]string, error)

	IssueTicket(ctx context.Context, t Ticket) error
	// RedeemTicket consumes the ticket. A second redeem of the same token
	// fails with ErrTicketInvalid, as does an expired one.
	RedeemTicket(ctx context.Context, token string, now time.Time) (Ticket, error)
	PurgeExpiredTickets(ctx context.Context, now time.Time) (int64, error)

	Close() error
}

// Snapshot renders a room in its REST shape.
func Snapshot(r Room, msgs []Message) types.RoomSnapshot {
	snap := types.RoomSnapshot{
		Code:       r.Code,
		Host:       r.Host,
		Active:     r.Active,
		SharedText: r.SharedText,
		Messages:   make([]types.ChatMessage, 0, len(msgs)),
	}
	if r.Drawing != "" {
		snap.DrawingData = json.RawMessage(r.Drawing)
	}
	for _, m := range msgs {
		snap.Messages = append(snap.Messages, types.ChatMessage{
			Sender:  types.Username(m.Sender),
			Content: m.Content,
		})
	}
	return snap
}

func Summary(r Room) types.RoomSummary {
	return types.RoomSummary{
		Code:      r.Code,
		Host:      r.Host,
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
