package store

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"
)

// Memory is a Store that lives in process memory. It backs tests and
// servers started without a database.
type Memory struct {
	mu       sync.Mutex
	nextID   uint
	rooms    map[string]*Room
	messages map[uint][]Message
	members  map[uint][]Participant
	tickets  map[string]Ticket
}

func NewMemory() *Memory {
	return &Memory{
		rooms:    make(map[string]*Room),
		messages: make(map[uint][]Message),
		members:  make(map[uint][]Participant),
		tickets:  make(map[string]Ticket),
	}
}

func (m *Memory) CreateRoom(ctx context.Context, code, host string) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[code]; ok {
		return Room{}, ErrCodeTaken
	}
	m.nextID++
	now := time.Now()
	r := &Room{ID: m.nextID, Code: code, Host: host, Active: true, CreatedAt: now, UpdatedAt: now}
	m.rooms[code] = r
	return *r, nil
}

func (m *Memory) Room(ctx context.Context, code string) (Room, []Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[code]
	if !ok {
		return Room{}, nil, ErrNotFound
	}
	msgs := append([]Message(nil), m.messages[r.ID]...)
	return *r, msgs, nil
}

func (m *Memory) AppendMessage(ctx context.Context, code, sender, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[code]
	if !ok {
		return ErrNotFound
	}
	m.nextID++
	m.messages[r.ID] = append(m.messages[r.ID], Message{
		ID:        m.nextID,
		RoomID:    r.ID,
		Sender:    sender,
		Content:   content,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *Memory) SaveSharedText(ctx context.Context, code, text string) error {
	return m.update(code, func(r *Room) { r.SharedText = text })
}

func (m *Memory) SaveDrawing(ctx context.Context, code string, raw json.RawMessage) error {
	return m.update(code, func(r *Room) { r.Drawing = string(raw) })
}

func (m *Memory) update(code string, fn func(*Room)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[code]
	if !ok {
		return ErrNotFound
	}
	fn(r)
	r.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) JoinRoom(ctx context.Context, code, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[code]
	if !ok {
		return ErrNotFound
	}
	if !r.Active {
		return ErrRoomClosed
	}
	joined := slices.ContainsFunc(m.members[r.ID], func(p Participant) bool { return p.Username == username })
	if !joined {
		m.members[r.ID] = append(m.members[r.ID], Participant{RoomID: r.ID, Username: username, JoinedAt: time.Now()})
	}
	return nil
}

func (m *Memory) LeaveRoom(ctx context.Context, code, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[code]
	if !ok {
		return false, ErrNotFound
	}
	if r.Host == username {
		r.Active = false
		r.UpdatedAt = time.Now()
		return true, nil
	}
	m.members[r.ID] = slices.DeleteFunc(m.members[r.ID], func(p Participant) bool { return p.Username == username })
	return false, nil
}

func (m *Memory) RoomsFor(ctx context.Context, username string) ([]Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Room
	for _, r := range m.rooms {
		member := slices.ContainsFunc(m.members[r.ID], func(p Participant) bool { return p.Username == username })
		if r.Host == username || member {
			out = append(out, *r)
		}
	}
	// IDs grow with creation time.
	slices.SortFunc(out, func(a, b Room) int { return int(b.ID) - int(a.ID) })
	return out, nil
}

func (m *Memory) Participants(ctx context.Context, code string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[code]
	if !ok {
		return nil, ErrNotFound
	}
	names := make([]string, 0, len(m.members[r.ID]))
	for _, p := range m.members[r.ID] {
		names = append(names, p.Username)
	}
	return names, nil
}

func (m *Memory) IssueTicket(ctx context.Context, t Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	m.tickets[t.Token] = t
	return nil
}

func (m *Memory) RedeemTicket(ctx context.Context, token string, now time.Time) (Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tickets[token]
	if !ok {
		return Ticket{}, ErrTicketInvalid
	}
	delete(m.tickets, token)
	if !t.ExpiresAt.After(now) {
		return Ticket{}, ErrTicketInvalid
	}
	return t, nil
}

func (m *Memory) PurgeExpiredTickets(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for token, t := range m.tickets {
		if !t.ExpiresAt.After(now) {
			delete(m.tickets, token)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error { return nil }
