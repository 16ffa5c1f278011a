package lobby

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/share-board/internal/metrics"
	"github.com/DoyleJ11/share-board/internal/store"
	"github.com/DoyleJ11/share-board/pkg/types"
)

const storeTimeout = 5 * time.Second

type Msg interface{ isLobbyMsg() }

type FromClient struct {
	ClientID string
	Msg      types.ClientMessage
}

func (FromClient) isLobbyMsg() {}

type Join struct {
	ClientID string
	Username string
	Outbox   chan []byte // encoded server frames for this client
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type View struct {
	Code       string
	NumClients int
	Online     []string // distinct usernames, sorted
}

type Deps struct {
	Store   store.Store
	Log     *zap.Logger
	Metrics *metrics.Metrics
}

type client struct {
	username string
	out      chan []byte
}

// Lobby is the broadcast group of one room. Every client frame is applied
// on the loop, so persistence and fan-out happen in arrival order.
type Lobby struct {
	code    string
	inbox   chan Msg
	clients map[string]client
	deps    Deps
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewLobby(parent context.Context, code string, d Deps) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	l := &Lobby{
		code:    code,
		inbox:   make(chan Msg, 64),
		clients: make(map[string]client),
		deps:    d,
		ctx:     ctx,
		cancel:  cancel,
	}

	go l.loop()
	return l
}

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				l.clients[msg.ClientID] = client{username: msg.Username, out: msg.Outbox}

			case Leave:
				if c, ok := l.clients[msg.ClientID]; ok {
					close(c.out)
					delete(l.clients, msg.ClientID)
				}

			case FromClient:
				l.handle(msg)

			case GetState:
				msg.Reply <- l.view()

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) handle(msg FromClient) {
	from, ok := l.clients[msg.ClientID]
	if !ok {
		return
	}
	cm := msg.Msg
	log := l.deps.Log.With(zap.String("room", l.code), zap.String("action", string(cm.Action)))

	ctx, cancel := context.WithTimeout(l.ctx, storeTimeout)
	defer cancel()

	switch cm.Action {
	case types.ActionMessage:
		if err := l.deps.Store.AppendMessage(ctx, l.code, from.username, cm.Content); err != nil {
			l.storeFailed(log, "append_message", err)
			return
		}
		l.broadcast(types.ServerMessage{
			Type:    types.TypeChatMessage,
			Sender:  types.Username(from.username),
			Content: cm.Content,
		}, "")

	case types.ActionUpdateSharedText:
		l.broadcast(types.ServerMessage{Action: cm.Action, SharedText: cm.SharedText}, msg.ClientID)

	case types.ActionUpdateDrawing:
		l.broadcast(types.ServerMessage{Action: cm.Action, DrawingData: cm.DrawingData}, msg.ClientID)

	case types.ActionSaveSharedText:
		if err := l.deps.Store.SaveSharedText(ctx, l.code, *cm.SharedText); err != nil {
			l.storeFailed(log, "save_shared_text", err)
			return
		}
		l.ack(msg.ClientID, cm.Action)

	case types.ActionSaveDrawing:
		if err := l.deps.Store.SaveDrawing(ctx, l.code, cm.DrawingData); err != nil {
			l.storeFailed(log, "save_drawing", err)
			return
		}
		l.ack(msg.ClientID, cm.Action)
	}
}

// storeFailed leaves the sender unacknowledged; its edits stay dirty.
func (l *Lobby) storeFailed(log *zap.Logger, op string, err error) {
	log.Error("persist failed", zap.Error(err))
	l.deps.Metrics.StoreErrors.WithLabelValues(op).Inc()
}

func (l *Lobby) ack(clientID string, target types.Action) {
	frame, ok := l.encode(types.ServerMessage{Action: types.ActionSaved, Target: target})
	if !ok {
		return
	}
	if c, ok := l.clients[clientID]; ok {
		l.deliver(clientID, c, frame)
	}
}

// broadcast sends to every client except skip.
func (l *Lobby) broadcast(m types.ServerMessage, skip string) {
	frame, ok := l.encode(m)
	if !ok {
		return
	}
	for id, c := range l.clients {
		if id == skip {
			continue
		}
		l.deliver(id, c, frame)
	}
}

func (l *Lobby) deliver(id string, c client, frame []byte) {
	select {
	case c.out <- frame:
		//ok
	default:
		// Client is slow/full - drop them.
		l.deps.Log.Warn("dropping slow client", zap.String("room", l.code), zap.String("client", id))
		l.deps.Metrics.SlowClients.Inc()
		close(c.out)
		delete(l.clients, id)
	}
}

func (l *Lobby) encode(m types.ServerMessage) ([]byte, bool) {
	m.V = types.ProtocolVersion
	b, err := json.Marshal(m)
	if err != nil {
		l.deps.Log.Error("encode frame", zap.Error(err))
		return nil, false
	}
	return b, true
}

func (l *Lobby) view() View {
	v := View{Code: l.code, NumClients: len(l.clients), Online: []string{}}
	for _, c := range l.clients {
		v.Online = append(v.Online, c.username)
	}
	slices.Sort(v.Online)
	v.Online = slices.Compact(v.Online)
	return v
}

func (l *Lobby) shutdown() {
	for id, c := range l.clients {
		close(c.out) // Tell client no more frames
		delete(l.clients, id)
	}
	l.cancel()
}

// Send delivers m unless ctx ends or the lobby has stopped.
func (l *Lobby) Send(ctx context.Context, m Msg) bool {
	select {
	case <-l.ctx.Done():
		return false
	default:
	}
	select {
	case l.inbox <- m:
		return true
	case <-l.ctx.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

// State asks the loop for a View. ok is false if the lobby stopped first.
func (l *Lobby) State(ctx context.Context) (View, bool) {
	reply := make(chan View, 1)
	if !l.Send(ctx, GetState{Reply: reply}) {
		return View{}, false
	}
	select {
	case v := <-reply:
		return v, true
	case <-l.ctx.Done():
		return View{}, false
	case <-ctx.Done():
		return View{}, false
	}
}

func (l *Lobby) Done() <-chan struct{} { return l.ctx.Done() }
