package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/share-board/internal/conn"
	"github.com/DoyleJ11/share-board/internal/roomerr"
	"github.com/DoyleJ11/share-board/pkg/types"
)

type fakeRooms struct {
	snaps map[string]types.RoomSnapshot
	err   error
}

func (f *fakeRooms) Room(ctx context.Context, code string) (types.RoomSnapshot, error) {
	if f.err != nil {
		return types.RoomSnapshot{}, f.err
	}
	snap, ok := f.snaps[code]
	if !ok {
		return types.RoomSnapshot{}, roomerr.ErrNotFound
	}
	return snap, nil
}

type fakeIssuer struct{ err error }

func (f fakeIssuer) IssueTicket(ctx context.Context, room string) (types.Ticket, error) {
	if f.err != nil {
		return types.Ticket{}, f.err
	}
	return types.Ticket{Token: "t-" + room}, nil
}

type pipe struct {
	in   chan []byte
	mu   sync.Mutex
	sent []string
}

func (p *pipe) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-p.in:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipe) Write(ctx context.Context, frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, string(frame))
	return nil
}

func (p *pipe) Close(int, string) error { return nil }

func (p *pipe) written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

type pipeDialer struct {
	mu    sync.Mutex
	pipes []*pipe
}

func (d *pipeDialer) Dial(ctx context.Context, room string, t types.Ticket) (conn.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &pipe{in: make(chan []byte, 16)}
	d.pipes = append(d.pipes, p)
	return p, nil
}

func (d *pipeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pipes)
}

func (d *pipeDialer) last() *pipe {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pipes[len(d.pipes)-1]
}

func newSession(t *testing.T, rooms RoomFetcher, issuer conn.TicketIssuer, dialer conn.Dialer, ack bool) *Session {
	t.Helper()
	s := New(context.Background(), Deps{
		Rooms:        rooms,
		Issuer:       issuer,
		Dialer:       dialer,
		Log:          zaptest.NewLogger(t),
		AwaitSaveAck: ack,
		Conn:         conn.Options{AttemptTimeout: time.Second},
		EventBuffer:  256,
	})
	t.Cleanup(s.Close)
	return s
}

// waitEvent drains events until match returns true.
func waitEvent[E Event](t *testing.T, s *Session, within time.Duration, match func(E) bool) E {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("event stream closed")
			}
			if e, ok := ev.(E); ok && (match == nil || match(e)) {
				return e
			}
		case <-deadline:
			var zero E
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func connected(e ConnChanged) bool { return e.State.Status == conn.StatusConnected }

func abcd() *fakeRooms {
	return &fakeRooms{snaps: map[string]types.RoomSnapshot{
		"ABCD": {Code: "ABCD", SharedText: "hello", Messages: []types.ChatMessage{}},
	}}
}

func TestSession_LiveTextReplacesSnapshotText(t *testing.T) {
	dialer := &pipeDialer{}
	s := newSession(t, abcd(), fakeIssuer{}, dialer, true)

	require.NoError(t, s.Enter(context.Background(), "ABCD"))
	assert.Equal(t, "hello", s.Room().SharedText)
	waitEvent(t, s, time.Second, connected)

	dialer.last().in <- []byte(`{"action":"update_shared_text","shared_text":"hello world"}`)
	waitEvent(t, s, time.Second, func(e RoomChanged) bool { return e.State.SharedText == "hello world" })
	assert.Equal(t, "hello world", s.Room().SharedText)
}

func TestSession_TicketAuthFailure_RedirectsWithoutTransport(t *testing.T) {
	dialer := &pipeDialer{}
	s := newSession(t, abcd(), fakeIssuer{err: roomerr.ErrAuth}, dialer, true)

	require.NoError(t, s.Enter(context.Background(), "ABCD"))
	r := waitEvent[Redirect](t, s, time.Second, nil)

	assert.Equal(t, RouteRoomList, r.To)
	assert.ErrorIs(t, r.Reason, roomerr.ErrAuth)
	assert.Equal(t, conn.StatusError, s.Conn().Status)
	assert.Equal(t, 0, dialer.count())
}

func TestSession_RejectCloseCode_RedirectsAndStaysDown(t *testing.T) {
	s := New(context.Background(), Deps{
		Rooms:  abcd(),
		Issuer: fakeIssuer{},
		Dialer: closingDialer{code: roomerr.CloseRoomGone},
		Log:    zaptest.NewLogger(t),
	})
	t.Cleanup(s.Close)

	require.NoError(t, s.Enter(context.Background(), "ABCD"))
	r := waitEvent[Redirect](t, s, time.Second, nil)

	var ce *roomerr.CloseError
	require.ErrorAs(t, r.Reason, &ce)
	assert.Equal(t, 4002, ce.Code)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, conn.StatusError, s.Conn().Status)
	assert.True(t, s.Conn().Terminal())
}

// closingDialer returns transports that are immediately rejected.
type closingDialer struct{ code int }

func (d closingDialer) Dial(ctx context.Context, room string, t types.Ticket) (conn.Transport, error) {
	return rejected{code: d.code}, nil
}

type rejected struct{ code int }

func (r rejected) Read(ctx context.Context) ([]byte, error) {
	return nil, &roomerr.CloseError{Code: r.code}
}
func (r rejected) Write(context.Context, []byte) error { return errors.New("closed") }
func (r rejected) Close(int, string) error             { return nil }

func TestSession_FetchFailure_IsFatal(t *testing.T) {
	dialer := &pipeDialer{}
	s := newSession(t, &fakeRooms{err: roomerr.ErrNetwork}, fakeIssuer{}, dialer, true)

	err := s.Enter(context.Background(), "ABCD")
	require.ErrorIs(t, err, roomerr.ErrNetwork)

	waitEvent[Redirect](t, s, time.Second, nil)
	assert.Empty(t, s.Code())
	assert.Equal(t, 0, dialer.count())
}

func TestSession_SnapshotForOtherRoomIsDiscarded(t *testing.T) {
	dialer := &pipeDialer{}
	rooms := &fakeRooms{snaps: map[string]types.RoomSnapshot{"ABCD": {Code: "WXYZ"}}}
	s := newSession(t, rooms, fakeIssuer{}, dialer, true)

	err := s.Enter(context.Background(), "ABCD")
	require.ErrorIs(t, err, ErrStale)
	assert.False(t, s.Room().Loaded)
	assert.Equal(t, 0, dialer.count())
	assert.Empty(t, s.Code())
	waitEvent(t, s, time.Second, func(e Toast) bool { return e.Level == ToastError })
}

func TestSession_LeaveWhileDirty_PromptsAndCancelKeepsEverything(t *testing.T) {
	dialer := &pipeDialer{}
	s := newSession(t, abcd(), fakeIssuer{}, dialer, true)
	ctx := context.Background()

	require.NoError(t, s.Enter(ctx, "ABCD"))
	waitEvent(t, s, time.Second, connected)
	require.NoError(t, s.EditText(ctx, "draft"))
	require.True(t, s.Dirty())

	assert.False(t, s.Leave())
	waitEvent[ConfirmLeave](t, s, time.Second, nil)

	s.Cancel()
	assert.True(t, s.Dirty())
	assert.Equal(t, "draft", s.Room().SharedText)
	assert.Equal(t, "ABCD", s.Code())
	assert.Equal(t, conn.StatusConnected, s.Conn().Status)

	assert.False(t, s.Leave())
	assert.True(t, s.Confirm())
	waitEvent[Redirect](t, s, time.Second, nil)
	assert.False(t, s.Dirty())
	assert.Equal(t, conn.StatusDisconnected, s.Conn().Status)
	assert.Empty(t, s.Code())
}

func TestSession_SaveClearsDirtyOnAck(t *testing.T) {
	dialer := &pipeDialer{}
	s := newSession(t, abcd(), fakeIssuer{}, dialer, true)
	ctx := context.Background()

	require.NoError(t, s.Enter(ctx, "ABCD"))
	waitEvent(t, s, time.Second, connected)

	for _, txt := range []string{"h", "he", "hey"} {
		require.NoError(t, s.EditText(ctx, txt))
	}
	require.NoError(t, s.SaveText(ctx))
	assert.True(t, s.Dirty(), "still dirty until the server acknowledges")

	p := dialer.last()
	assert.Contains(t, p.written(), `{"action":"save_shared_text","shared_text":"hey"}`)

	p.in <- []byte(`{"action":"saved","target":"save_shared_text"}`)
	require.Eventually(t, func() bool { return !s.Dirty() }, time.Second, 10*time.Millisecond)

	require.NoError(t, s.EditText(ctx, "hey!"))
	assert.True(t, s.Dirty())
}

func TestSession_SaveWithoutAckClearsOnSend(t *testing.T) {
	dialer := &pipeDialer{}
	s := newSession(t, abcd(), fakeIssuer{}, dialer, false)
	ctx := context.Background()

	require.NoError(t, s.Enter(ctx, "ABCD"))
	waitEvent(t, s, time.Second, connected)

	require.NoError(t, s.EditText(ctx, "x"))
	require.NoError(t, s.SaveText(ctx))
	assert.False(t, s.Dirty())
}

func TestSession_SavingOneArtifactClearsTheSessionFlag(t *testing.T) {
	dialer := &pipeDialer{}
	s := newSession(t, abcd(), fakeIssuer{}, dialer, false)
	ctx := context.Background()

	require.NoError(t, s.Enter(ctx, "ABCD"))
	waitEvent(t, s, time.Second, connected)

	d, err := types.ParseDrawing([]byte(`{"elements":[]}`))
	require.NoError(t, err)
	require.NoError(t, s.EditDrawing(ctx, d))
	require.NoError(t, s.EditText(ctx, "x"))
	require.True(t, s.Dirty())

	require.NoError(t, s.SaveText(ctx))
	assert.False(t, s.Dirty())
}

func TestSession_SaveWhileDisconnected_KeepsDirty(t *testing.T) {
	s := newSession(t, abcd(), fakeIssuer{err: roomerr.ErrNetwork}, &pipeDialer{}, false)
	ctx := context.Background()

	require.NoError(t, s.Enter(ctx, "ABCD"))
	waitEvent[Banner](t, s, time.Second, nil)

	require.NoError(t, s.EditText(ctx, "offline edit"))
	err := s.SaveText(ctx)
	require.ErrorIs(t, err, conn.ErrNotConnected)
	assert.True(t, s.Dirty())
	waitEvent(t, s, time.Second, func(e Toast) bool { return e.Level == ToastError })
}

func TestSession_SaveDrawingNeedsContent(t *testing.T) {
	s := newSession(t, abcd(), fakeIssuer{}, &pipeDialer{}, true)
	require.NoError(t, s.Enter(context.Background(), "ABCD"))

	err := s.SaveDrawing(context.Background())
	require.ErrorIs(t, err, roomerr.ErrValidation)
}

func TestSession_ChatValidation(t *testing.T) {
	s := newSession(t, abcd(), fakeIssuer{}, &pipeDialer{}, true)
	err := s.SendChat(context.Background(), "  ")
	require.ErrorIs(t, err, roomerr.ErrValidation)
}

// gatedRooms holds fetches for gated codes until the gate closes.
type gatedRooms struct {
	*fakeRooms
	gates   map[string]chan struct{}
	started chan string
}

func (g *gatedRooms) Room(ctx context.Context, code string) (types.RoomSnapshot, error) {
	g.started <- code
	if gate, ok := g.gates[code]; ok {
		select {
		case <-gate:
		case <-ctx.Done():
			return types.RoomSnapshot{}, ctx.Err()
		}
	}
	return g.fakeRooms.Room(ctx, code)
}

func twoRooms(gated string) *gatedRooms {
	return &gatedRooms{
		fakeRooms: &fakeRooms{snaps: map[string]types.RoomSnapshot{
			"ABCD": {Code: "ABCD", SharedText: "from abcd"},
			"WXYZ": {Code: "WXYZ", SharedText: "from wxyz"},
		}},
		gates:   map[string]chan struct{}{gated: make(chan struct{})},
		started: make(chan string, 8),
	}
}

// enterAsync starts Enter(code) and waits until its fetch is in flight.
func enterAsync(t *testing.T, s *Session, rooms *gatedRooms, code string) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Enter(context.Background(), code) }()
	select {
	case got := <-rooms.started:
		require.Equal(t, code, got)
	case <-time.After(time.Second):
		t.Fatalf("fetch for %s never started", code)
	}
	return done
}

func TestSession_EntrySupersededByLeave(t *testing.T) {
	dialer := &pipeDialer{}
	rooms := twoRooms("ABCD")
	s := newSession(t, rooms, fakeIssuer{}, dialer, true)

	done := enterAsync(t, s, rooms, "ABCD")
	require.True(t, s.Leave())
	close(rooms.gates["ABCD"])

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrStale)
	case <-time.After(time.Second):
		t.Fatalf("Enter did not return")
	}
	assert.False(t, s.Room().Loaded, "superseded snapshot must not seed")
	assert.Empty(t, s.Code())
	assert.Equal(t, 0, dialer.count(), "superseded entry must not connect")
	assert.Equal(t, conn.StatusDisconnected, s.Conn().Status)
}

func TestSession_EntrySupersededByAnotherRoom(t *testing.T) {
	dialer := &pipeDialer{}
	rooms := twoRooms("ABCD")
	s := newSession(t, rooms, fakeIssuer{}, dialer, true)

	done := enterAsync(t, s, rooms, "ABCD")
	require.NoError(t, s.Enter(context.Background(), "WXYZ"))
	waitEvent(t, s, time.Second, connected)
	close(rooms.gates["ABCD"])

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrStale)
	case <-time.After(time.Second):
		t.Fatalf("Enter did not return")
	}
	assert.Equal(t, "WXYZ", s.Code())
	assert.Equal(t, "from wxyz", s.Room().SharedText)
	assert.Equal(t, 1, dialer.count())
	assert.Equal(t, "WXYZ", s.Conn().Room)
}

func TestSession_ConcurrentCloseIsSafe(t *testing.T) {
	for i := 0; i < 200; i++ {
		s := New(context.Background(), Deps{
			Rooms:  abcd(),
			Issuer: fakeIssuer{},
			Dialer: &pipeDialer{},
			Log:    zaptest.NewLogger(t),
		})

		start := make(chan struct{})
		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				s.Close()
			}()
		}
		close(start)
		wg.Wait()

		for range s.Events() {
			// drains, then ends because the stream is closed
		}
	}
}
