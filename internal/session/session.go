// Package session ties the sync layer together for one active room view.
//
// A Session is created when the room view mounts and closed when it goes
// away. It owns the connection manager, so nothing outside it ever touches
// the realtime transport.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/share-board/internal/codec"
	"github.com/DoyleJ11/share-board/internal/conn"
	"github.com/DoyleJ11/share-board/internal/guard"
	"github.com/DoyleJ11/share-board/internal/room"
	"github.com/DoyleJ11/share-board/internal/roomerr"
	"github.com/DoyleJ11/share-board/pkg/types"
)

var ErrStale = errors.New("room entry superseded")
var ErrNoRoom = errors.New("no room entered")

type RoomFetcher interface {
	Room(ctx context.Context, code string) (types.RoomSnapshot, error)
}

type Deps struct {
	Rooms  RoomFetcher
	Issuer conn.TicketIssuer
	Dialer conn.Dialer
	Log    *zap.Logger

	// AwaitSaveAck keeps the dirty flag set until the server acknowledges a
	// save. Without it a save counts as done once the frame is written.
	AwaitSaveAck bool
	Conn         conn.Options
	EventBuffer  int
}

type Session struct {
	rooms RoomFetcher
	mgr   *conn.Manager
	rec   *room.Reconciler
	guard *guard.Guard
	disp  *codec.Dispatcher
	log   *zap.Logger
	ack   bool

	mu     sync.Mutex
	code   string
	entry  uint64
	events chan Event
	closed bool

	// commit serializes applying an entry (Seed, Connect) with leaving it,
	// so a superseded entry can never seed or connect after the exit.
	commit    sync.Mutex
	closeOnce sync.Once
}

func New(ctx context.Context, d Deps) *Session {
	if d.EventBuffer <= 0 {
		d.EventBuffer = 64
	}
	s := &Session{
		rooms:  d.Rooms,
		rec:    room.NewReconciler(d.Log.Named("room")),
		guard:  guard.New(),
		log:    d.Log,
		ack:    d.AwaitSaveAck,
		events: make(chan Event, d.EventBuffer),
	}
	s.disp = codec.NewDispatcher(sink{s}, d.Log.Named("codec"))
	s.rec.OnChange(func(st room.State) { s.emit(RoomChanged{State: st}) })
	s.mgr = conn.NewManager(ctx, d.Issuer, d.Dialer, conn.Handlers{
		OnState: s.onState,
		OnFrame: func(b []byte) { s.disp.Dispatch(b) },
	}, d.Conn, d.Log.Named("conn"))
	return s
}

func (s *Session) Events() <-chan Event { return s.events }

// Enter loads the room snapshot and then opens the realtime connection. A
// snapshot for a different code, or one that arrives after another Enter or
// Leave, is discarded. A failed fetch is fatal for the entry: the view is
// sent back to the room list.
func (s *Session) Enter(ctx context.Context, code string) error {
	s.mu.Lock()
	s.entry++
	entry := s.entry
	prev := s.code
	s.code = code
	s.mu.Unlock()

	if prev != "" && prev != code {
		s.commit.Lock()
		err := s.mgr.Disconnect(ctx)
		s.rec.Reset()
		s.commit.Unlock()
		if err != nil {
			return err
		}
	}

	snap, err := s.rooms.Room(ctx, code)
	if !s.current(entry) {
		s.log.Debug("discarding superseded room fetch", zap.String("code", code))
		return ErrStale
	}
	if err != nil {
		s.abandon(entry)
		s.emit(Toast{Level: ToastError, Text: "Failed to load room"})
		s.emit(Redirect{To: RouteRoomList, Reason: err})
		return fmt.Errorf("load room %s: %w", code, err)
	}
	if snap.Code != code {
		s.log.Warn("snapshot code does not match route, discarding",
			zap.String("route", code), zap.String("snapshot", snap.Code))
		s.abandon(entry)
		s.emit(Toast{Level: ToastError, Text: "Failed to load room"})
		return fmt.Errorf("%w: snapshot for %q while entering %q", ErrStale, snap.Code, code)
	}

	s.commit.Lock()
	defer s.commit.Unlock()
	if !s.current(entry) {
		return ErrStale
	}
	s.rec.Seed(snap)
	return s.mgr.Connect(ctx, code)
}

// abandon forgets the room of a failed entry unless a newer one took over.
func (s *Session) abandon(entry uint64) {
	s.mu.Lock()
	if s.entry == entry {
		s.code = ""
	}
	s.mu.Unlock()
}

// Reload replaces the snapshot without touching the connection.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.Lock()
	code, entry := s.code, s.entry
	s.mu.Unlock()
	if code == "" {
		return ErrNoRoom
	}

	snap, err := s.rooms.Room(ctx, code)
	if !s.current(entry) {
		return ErrStale
	}
	if err != nil {
		s.emit(Toast{Level: ToastError, Text: "Failed to reload room"})
		return fmt.Errorf("reload room %s: %w", code, err)
	}
	if snap.Code != code {
		return fmt.Errorf("%w: snapshot for %q while in %q", ErrStale, snap.Code, code)
	}

	s.commit.Lock()
	defer s.commit.Unlock()
	if !s.current(entry) {
		return ErrStale
	}
	s.rec.Seed(snap)
	return nil
}

// Retry reconnects after a non-terminal failure. There is no automatic retry.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	code := s.code
	s.mu.Unlock()
	if code == "" {
		return ErrNoRoom
	}
	return s.mgr.Connect(ctx, code)
}

func (s *Session) SendChat(ctx context.Context, content string) error {
	frame, err := codec.Chat(content)
	if err != nil {
		return err
	}
	return s.mgr.Send(ctx, frame)
}

// EditText records a local edit and broadcasts it live. Live updates are
// best effort: when disconnected they are dropped.
func (s *Session) EditText(ctx context.Context, text string) error {
	s.rec.SetLocalText(text)
	s.guard.MarkDirty(guard.KindText)

	frame, err := codec.UpdateText(text)
	if err != nil {
		return err
	}
	return s.sendLive(ctx, frame)
}

func (s *Session) EditDrawing(ctx context.Context, d types.Drawing) error {
	s.rec.SetLocalDrawing(d)
	s.guard.MarkDirty(guard.KindDrawing)

	frame, err := codec.UpdateDrawing(d)
	if err != nil {
		return err
	}
	return s.sendLive(ctx, frame)
}

func (s *Session) SaveText(ctx context.Context) error {
	st := s.rec.State()
	if !st.Loaded {
		return fmt.Errorf("%w: room not loaded", roomerr.ErrValidation)
	}
	frame, err := codec.SaveText(&st.SharedText)
	if err != nil {
		return err
	}
	return s.save(ctx, guard.KindText, frame, "Text")
}

func (s *Session) SaveDrawing(ctx context.Context) error {
	st := s.rec.State()
	if !st.Loaded {
		return fmt.Errorf("%w: room not loaded", roomerr.ErrValidation)
	}
	frame, err := codec.SaveDrawing(st.Drawing)
	if err != nil {
		return err
	}
	return s.save(ctx, guard.KindDrawing, frame, "Drawing")
}

func (s *Session) save(ctx context.Context, kind guard.Kind, frame []byte, what string) error {
	epoch := s.guard.BeginSave(kind)
	if err := s.mgr.Send(ctx, frame); err != nil {
		s.log.Warn("save failed", zap.Stringer("kind", kind), zap.Error(err))
		s.emit(Toast{Level: ToastError, Text: "Failed to save " + what})
		return err
	}
	if !s.ack {
		s.guard.Saved(kind, epoch)
		s.emit(Toast{Level: ToastSuccess, Text: what + " saved"})
	}
	return nil
}

func (s *Session) sendLive(ctx context.Context, frame []byte) error {
	err := s.mgr.Send(ctx, frame)
	if errors.Is(err, conn.ErrNotConnected) {
		s.log.Debug("live update dropped, not connected")
		return nil
	}
	return err
}

// Navigate runs action unless there are unsaved edits, in which case it is
// parked until Confirm or Cancel and a ConfirmLeave event is emitted.
func (s *Session) Navigate(action func()) bool {
	if s.guard.Navigate(action) {
		return true
	}
	s.emit(ConfirmLeave{})
	return false
}

// Leave exits the room and sends the view to the room list, subject to the
// unsaved-changes prompt.
func (s *Session) Leave() bool {
	return s.Navigate(func() {
		s.exit()
		s.emit(Redirect{To: RouteRoomList})
	})
}

func (s *Session) Confirm() bool { return s.guard.Confirm() }
func (s *Session) Cancel()       { s.guard.Cancel() }

func (s *Session) Dirty() bool        { return s.guard.Dirty() }
func (s *Session) BeforeUnload() bool { return s.guard.BeforeUnload() }
func (s *Session) Room() room.State   { return s.rec.State() }
func (s *Session) Conn() conn.State   { return s.mgr.State() }

func (s *Session) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// Close tears the session down. Attempts still in flight resolve into
// nothing. Later calls do nothing.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.exit()
		s.mgr.Close()

		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}

func (s *Session) exit() {
	s.commit.Lock()
	defer s.commit.Unlock()

	s.mu.Lock()
	s.entry++
	s.code = ""
	s.mu.Unlock()

	if err := s.mgr.Disconnect(context.Background()); err != nil {
		s.log.Debug("disconnect on exit", zap.Error(err))
	}
	s.rec.Reset()
}

func (s *Session) current(entry uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry == entry
}

func (s *Session) emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- e:
	default:
		s.log.Debug("event dropped, consumer is slow", zap.String("event", fmt.Sprintf("%T", e)))
	}
}

// onState runs on the connection manager loop.
func (s *Session) onState(st conn.State) {
	s.emit(ConnChanged{State: st})
	if st.Status != conn.StatusError {
		return
	}
	if st.Terminal() {
		s.emit(Toast{Level: ToastError, Text: "Could not join room: " + st.Err.Error()})
		s.emit(Redirect{To: RouteRoomList, Reason: st.Err})
		return
	}
	s.emit(Banner{Text: "Connection error occurred", Err: st.Err})
}

// sink feeds dispatched frames into the reconciler and the guard.
type sink struct{ s *Session }

func (k sink) Chat(m types.ChatMessage) { k.s.rec.Chat(m) }
func (k sink) SharedText(t string)      { k.s.rec.SharedText(t) }
func (k sink) Drawing(d types.Drawing)  { k.s.rec.Drawing(d) }

func (k sink) SaveAcked(target types.Action) {
	kind, ok := guard.KindOf(target)
	if !ok {
		return
	}
	k.s.guard.Acked(kind)
	if k.s.ack {
		k.s.emit(Toast{Level: ToastSuccess, Text: kind.String() + " saved"})
	}
}
