package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/share-board/internal/lobby"
)

type HubMsg interface{ isHubMsg() }

// GetLobby looks a lobby up without starting one or taking a reference.
type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

// EnsureLobby returns the room's lobby, starting one on first use, and takes
// a reference on it.
type EnsureLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

// ReleaseLobby drops a reference taken by EnsureLobby. The lobby stops when
// the last one is gone.
type ReleaseLobby struct {
	Code string
}

type ShutdownHub struct{}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	refs    map[string]int
	deps    lobby.Deps
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func (GetLobby) isHubMsg()     {}
func (EnsureLobby) isHubMsg()  {}
func (ReleaseLobby) isHubMsg() {}
func (ShutdownHub) isHubMsg()  {}

func NewHub(parent context.Context, d lobby.Deps) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		refs:    make(map[string]int),
		deps:    d,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

// Lobby acquires the room's lobby. Every non-nil result must be given back
// with Release. It returns nil once the hub has stopped.
func (h *Hub) Lobby(ctx context.Context, code string) *lobby.Lobby {
	return h.ask(ctx, func(reply chan *lobby.Lobby) HubMsg { return EnsureLobby{Code: code, Reply: reply} })
}

// Peek returns the room's running lobby, or nil when nobody is connected.
func (h *Hub) Peek(ctx context.Context, code string) *lobby.Lobby {
	return h.ask(ctx, func(reply chan *lobby.Lobby) HubMsg { return GetLobby{Code: code, Reply: reply} })
}

func (h *Hub) Release(code string) {
	select {
	case h.inbox <- ReleaseLobby{Code: code}:
	case <-h.done:
	}
}

func (h *Hub) ask(ctx context.Context, msg func(chan *lobby.Lobby) HubMsg) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	select {
	case h.inbox <- msg(reply):
	case <-h.done:
		return nil
	case <-ctx.Done():
		return nil
	}
	// The reply channel is buffered, so an abandoned EnsureLobby still
	// leaves a reference behind; wait for it unless the hub is gone.
	select {
	case lb := <-reply:
		return lb
	case <-h.done:
		return nil
	}
}

// Shutdown stops every lobby, closing all client outboxes, and waits for the
// hub loop to exit.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.done:
	}
	<-h.done
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetLobby:
				msg.Reply <- h.lobbies[msg.Code] // May be nil

			case EnsureLobby:
				lb := h.lobbies[msg.Code]
				if lb == nil {
					lb = lobby.NewLobby(h.ctx, msg.Code, h.deps)
					h.lobbies[msg.Code] = lb
					h.deps.Metrics.Rooms.Set(float64(len(h.lobbies)))
				}
				h.refs[msg.Code]++
				msg.Reply <- lb

			case ReleaseLobby:
				h.release(msg.Code)

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) release(code string) {
	lb := h.lobbies[code]
	if lb == nil {
		return
	}
	h.refs[code]--
	if h.refs[code] > 0 {
		return
	}
	lb.Send(h.ctx, lobby.Shutdown{})
	delete(h.lobbies, code)
	delete(h.refs, code)
	h.deps.Metrics.Rooms.Set(float64(len(h.lobbies)))
	h.deps.Log.Debug("room idle, lobby stopped", zap.String("room", code))
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		lb.Send(context.Background(), lobby.Shutdown{})
	}
	clear(h.lobbies)
	clear(h.refs)
	h.deps.Metrics.Rooms.Set(0)
	h.cancel()
}
