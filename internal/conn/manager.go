package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/share-board/internal/roomerr"
	"github.com/DoyleJ11/share-board/pkg/types"
)

var ErrNotConnected = errors.New("not connected")
var ErrManagerClosed = errors.New("connection manager closed")

// ErrClosedNormally is returned by a Transport when the peer closed the
// connection cleanly.
var ErrClosedNormally = errors.New("connection closed")

type TicketIssuer interface {
	IssueTicket(ctx context.Context, roomCode string) (types.Ticket, error)
}

type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	Close(code int, reason string) error
}

type Dialer interface {
	Dial(ctx context.Context, roomCode string, ticket types.Ticket) (Transport, error)
}

// Handlers are the manager's event subscriptions. Both run on the manager
// loop, in order, and must not call back into the Manager.
type Handlers struct {
	OnState func(State)
	OnFrame func([]byte)
}

type Options struct {
	// AttemptTimeout bounds the ticket request plus the handshake.
	AttemptTimeout time.Duration
	// WriteTimeout bounds a single Send.
	WriteTimeout time.Duration
}

const (
	closeNormal    = 1000
	closeGoingAway = 1001
)

type msg interface{ isConnMsg() }

type connectReq struct {
	room  string
	reply chan struct{}
}

type disconnectReq struct{ reply chan struct{} }

type sendReq struct{ reply chan Transport }

type attemptDone struct {
	gen  uint64
	room string
	t    Transport
	err  error
}

type frameIn struct {
	gen  uint64
	data []byte
}

type transportClosed struct {
	gen uint64
	err error
}

func (connectReq) isConnMsg()      {}
func (disconnectReq) isConnMsg()   {}
func (sendReq) isConnMsg()         {}
func (attemptDone) isConnMsg()     {}
func (frameIn) isConnMsg()         {}
func (transportClosed) isConnMsg() {}

// listener is the reader attached to one transport. It is attached and
// detached as a unit.
type listener struct {
	gen    uint64
	t      Transport
	cancel context.CancelFunc
}

// Manager owns the single realtime transport of a room view. All state
// transitions happen on its loop goroutine; results of async work (ticket,
// handshake, reads) come back through the inbox tagged with the generation
// that started them, and anything from an older generation is discarded.
type Manager struct {
	inbox  chan msg
	issuer TicketIssuer
	dialer Dialer
	h      Handlers
	opts   Options
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// loop-owned
	state State
	gen   uint64
	live  *listener

	mu     sync.RWMutex
	public State
}

func NewManager(parent context.Context, issuer TicketIssuer, dialer Dialer, h Handlers, opts Options, log *zap.Logger) *Manager {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 15 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(parent)

	m := &Manager{
		inbox:  make(chan msg, 64),
		issuer: issuer,
		dialer: dialer,
		h:      h,
		opts:   opts,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go m.loop()
	return m
}

// Connect starts connecting to room. It is a no-op when already connected to
// that room or while any attempt is in progress. A different room's
// transport is closed before the new ticket is requested. Connect returns
// once the request is accepted; watch OnState for the outcome.
func (m *Manager) Connect(ctx context.Context, room string) error {
	reply := make(chan struct{}, 1)
	if err := m.request(ctx, connectReq{room: room, reply: reply}); err != nil {
		return err
	}
	return m.await(ctx, reply)
}

// Disconnect closes the transport and abandons any attempt in flight. Safe to
// call in any state.
func (m *Manager) Disconnect(ctx context.Context) error {
	reply := make(chan struct{}, 1)
	if err := m.request(ctx, disconnectReq{reply: reply}); err != nil {
		if errors.Is(err, ErrManagerClosed) {
			return nil
		}
		return err
	}
	return m.await(ctx, reply)
}

// Send writes one frame. Nothing is queued: when not connected the frame is
// dropped and ErrNotConnected returned.
func (m *Manager) Send(ctx context.Context, frame []byte) error {
	reply := make(chan Transport, 1)
	if err := m.request(ctx, sendReq{reply: reply}); err != nil {
		return err
	}

	var t Transport
	select {
	case t = <-reply:
	case <-ctx.Done():
		return ctx.Err()
	}
	if t == nil {
		return ErrNotConnected
	}

	wctx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
	defer cancel()
	if err := t.Write(wctx, frame); err != nil {
		return fmt.Errorf("%w: write: %v", roomerr.ErrNetwork, err)
	}
	return nil
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.public
}

// Close stops the loop and closes any open transport.
func (m *Manager) Close() {
	m.cancel()
	<-m.done
}

func (m *Manager) request(ctx context.Context, in msg) error {
	select {
	case m.inbox <- in:
		return nil
	case <-m.done:
		return ErrManagerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) await(ctx context.Context, reply <-chan struct{}) error {
	select {
	case <-reply:
		return nil
	case <-m.done:
		return ErrManagerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers async results to the loop. Results that arrive after Close
// are dropped.
func (m *Manager) post(in msg) {
	select {
	case m.inbox <- in:
	case <-m.ctx.Done():
	}
}

func (m *Manager) loop() {
	defer close(m.done)

	for {
		select {
		case <-m.ctx.Done():
			m.detach(closeGoingAway, "client shutting down")
			m.setState(State{Status: StatusDisconnected})
			return

		case in := <-m.inbox:
			switch msg := in.(type) {
			case connectReq:
				m.handleConnect(msg.room)
				msg.reply <- struct{}{}

			case disconnectReq:
				m.gen++
				m.detach(closeNormal, "bye")
				m.setState(State{Status: StatusDisconnected})
				msg.reply <- struct{}{}

			case sendReq:
				if m.state.Status == StatusConnected && m.live != nil {
					msg.reply <- m.live.t
				} else {
					msg.reply <- nil
				}

			case attemptDone:
				m.handleAttempt(msg)

			case frameIn:
				if m.live == nil || msg.gen != m.live.gen {
					break
				}
				if m.h.OnFrame != nil {
					m.h.OnFrame(msg.data)
				}

			case transportClosed:
				if m.live == nil || msg.gen != m.live.gen {
					break
				}
				m.detach(closeNormal, "")
				if errors.Is(msg.err, ErrClosedNormally) {
					m.log.Info("connection closed by server", zap.Uint64("gen", msg.gen))
					m.setState(State{Status: StatusDisconnected})
				} else {
					m.log.Warn("connection lost", zap.Uint64("gen", msg.gen), zap.Error(msg.err))
					m.setState(State{Status: StatusError, Err: msg.err})
				}
			}
		}
	}
}

func (m *Manager) handleConnect(room string) {
	switch {
	case m.state.Status == StatusConnected && m.state.Room == room:
		return
	case m.state.Status == StatusConnecting:
		m.log.Debug("connect ignored, attempt already in progress",
			zap.String("room", room), zap.String("pending", m.state.Room))
		return
	}

	m.detach(closeNormal, "switching rooms")
	m.gen++
	m.setState(State{Status: StatusConnecting, Room: room})
	go m.attempt(m.gen, room)
}

func (m *Manager) attempt(gen uint64, room string) {
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.AttemptTimeout)
	defer cancel()

	// A fresh ticket for every attempt; tickets are single-use.
	ticket, err := m.issuer.IssueTicket(ctx, room)
	if err != nil {
		m.post(attemptDone{gen: gen, room: room, err: fmt.Errorf("ticket: %w", err)})
		return
	}

	t, err := m.dialer.Dial(ctx, room, ticket)
	m.post(attemptDone{gen: gen, room: room, t: t, err: err})
}

func (m *Manager) handleAttempt(res attemptDone) {
	if res.gen != m.gen {
		// Superseded by a disconnect or another room.
		if res.t != nil {
			go res.t.Close(closeNormal, "superseded")
		}
		m.log.Debug("discarding stale connect result", zap.Uint64("gen", res.gen), zap.Uint64("current", m.gen))
		return
	}

	if res.err != nil {
		m.log.Warn("connect failed", zap.String("room", res.room), zap.Error(res.err))
		m.setState(State{Status: StatusError, Err: res.err})
		return
	}

	m.attach(res.gen, res.t)
	m.log.Info("connected", zap.String("room", res.room), zap.Uint64("gen", res.gen))
	m.setState(State{Status: StatusConnected, Room: res.room})
}

func (m *Manager) attach(gen uint64, t Transport) {
	ctx, cancel := context.WithCancel(m.ctx)
	m.live = &listener{gen: gen, t: t, cancel: cancel}

	go func() {
		for {
			data, err := t.Read(ctx)
			if err != nil {
				m.post(transportClosed{gen: gen, err: err})
				return
			}
			m.post(frameIn{gen: gen, data: data})
		}
	}()
}

// detach stops the current reader and closes its transport. Frames it may
// still post carry a generation that no longer matches and are ignored.
func (m *Manager) detach(code int, reason string) {
	if m.live == nil {
		return
	}
	l := m.live
	m.live = nil
	l.cancel()
	go l.t.Close(code, reason)
}

func (m *Manager) setState(s State) {
	if m.state.same(s) {
		return
	}
	m.state = s

	m.mu.Lock()
	m.public = s
	m.mu.Unlock()

	if m.h.OnState != nil {
		m.h.OnState(s)
	}
}
