package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/share-board/internal/conn"
	"github.com/DoyleJ11/share-board/internal/room"
	"github.com/DoyleJ11/share-board/internal/session"
	"github.com/DoyleJ11/share-board/pkg/types"
)

type fakeSession struct {
	calls   []string
	chat    []string
	text    string
	drawing types.Drawing
	dirty   bool
	pending bool
	err     error
	state   room.State
	conn    conn.State
}

func (f *fakeSession) record(name string) error {
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeSession) SendChat(_ context.Context, content string) error {
	f.chat = append(f.chat, content)
	return f.record("chat")
}

func (f *fakeSession) EditText(_ context.Context, text string) error {
	f.text = text
	f.dirty = true
	return f.record("text")
}

func (f *fakeSession) SaveText(context.Context) error { return f.record("save") }

func (f *fakeSession) EditDrawing(_ context.Context, d types.Drawing) error {
	f.drawing = d
	f.dirty = true
	return f.record("draw")
}

func (f *fakeSession) SaveDrawing(context.Context) error { return f.record("savedraw") }
func (f *fakeSession) Reload(context.Context) error      { return f.record("reload") }
func (f *fakeSession) Retry(context.Context) error       { return f.record("retry") }

func (f *fakeSession) Leave() bool {
	_ = f.record("leave")
	if f.dirty {
		f.pending = true
		return false
	}
	return true
}

func (f *fakeSession) Confirm() bool {
	_ = f.record("confirm")
	ok := f.pending
	f.pending = false
	return ok
}

func (f *fakeSession) Cancel()            { _ = f.record("cancel"); f.pending = false }
func (f *fakeSession) Dirty() bool        { return f.dirty }
func (f *fakeSession) BeforeUnload() bool { return f.dirty }
func (f *fakeSession) Room() room.State   { return f.state }
func (f *fakeSession) Conn() conn.State   { return f.conn }

func newTestREPL() (*repl, *fakeSession, *bytes.Buffer) {
	f := &fakeSession{}
	var out bytes.Buffer
	return newREPL(f, &out), f, &out
}

func TestLine_PlainTextIsChat(t *testing.T) {
	r, f, _ := newTestREPL()
	ctx := context.Background()

	assert.False(t, r.line(ctx, "  hello there  "))
	assert.False(t, r.line(ctx, ""))
	assert.Equal(t, []string{"hello there"}, f.chat)
}

func TestLine_Commands(t *testing.T) {
	r, f, out := newTestREPL()
	ctx := context.Background()

	for _, l := range []string{"/text hi all", "/save", "/reload", "/retry", "/savedraw"} {
		assert.False(t, r.line(ctx, l))
	}
	assert.Equal(t, []string{"text", "save", "reload", "retry", "savedraw"}, f.calls)
	assert.Equal(t, "hi all", f.text)

	r.line(ctx, "/bogus")
	assert.Contains(t, out.String(), "unknown command /bogus")
}

func TestLine_Draw(t *testing.T) {
	r, f, out := newTestREPL()
	ctx := context.Background()

	r.line(ctx, `/draw {"elements":[]}`)
	assert.JSONEq(t, `{"elements":[]}`, string(f.drawing.Scene))

	r.line(ctx, "/draw data:image/png;base64,AAAA")
	assert.Equal(t, "data:image/png;base64,AAAA", f.drawing.DataURL)

	f.calls = nil
	r.line(ctx, "/draw {nope")
	assert.Empty(t, f.calls)
	assert.Contains(t, out.String(), "bad drawing")
}

func TestLine_ErrorsArePrinted(t *testing.T) {
	r, f, out := newTestREPL()
	f.err = errors.New("not connected")

	r.line(context.Background(), "hi")
	assert.Contains(t, out.String(), "error: not connected")
}

func TestLeaveWhileDirty(t *testing.T) {
	r, f, out := newTestREPL()
	ctx := context.Background()
	f.dirty = true

	r.line(ctx, "/leave")
	assert.True(t, f.pending)
	assert.False(t, r.event(session.ConfirmLeave{}))
	assert.Contains(t, out.String(), "/yes to leave anyway")

	r.line(ctx, "/no")
	assert.False(t, f.pending)

	out.Reset()
	r.line(ctx, "/yes")
	assert.Contains(t, out.String(), "nothing to confirm")
}

func TestEvent_RedirectQuits(t *testing.T) {
	r, _, out := newTestREPL()

	assert.True(t, r.event(session.Redirect{To: session.RouteRoomList, Reason: errors.New("room not found")}))
	assert.Contains(t, out.String(), "left the room: room not found")
}

func TestEvent_PrintsOnlyNewMessages(t *testing.T) {
	r, _, out := newTestREPL()

	st := room.State{Code: "ABCD", Loaded: true, Messages: []types.ChatMessage{{Sender: "ann", Content: "one"}}}
	r.event(session.RoomChanged{State: st})
	st.Messages = append(st.Messages, types.ChatMessage{Sender: "bob", Content: "two"})
	r.event(session.RoomChanged{State: st})

	assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("<ann> one")))
	assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("<bob> two")))
}

func TestEvent_TextChangeIsAnnounced(t *testing.T) {
	r, _, out := newTestREPL()

	st := room.State{Code: "ABCD", Loaded: true, SharedText: "hello"}
	r.event(session.RoomChanged{State: st})
	r.event(session.RoomChanged{State: st})

	assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("shared text changed")))
}

func TestEvent_Conn(t *testing.T) {
	r, _, out := newTestREPL()

	r.event(session.ConnChanged{State: conn.State{Status: conn.StatusConnected, Room: "ABCD"}})
	r.event(session.Banner{Text: "Connection lost", Err: errors.New("eof")})

	assert.Contains(t, out.String(), "connected to ABCD")
	assert.Contains(t, out.String(), "/retry")
}

func TestInterrupt(t *testing.T) {
	r, f, out := newTestREPL()
	require.True(t, r.interrupt(), "clean session quits at once")

	f.dirty = true
	assert.False(t, r.interrupt())
	assert.Contains(t, out.String(), "Press Ctrl-C again")
	assert.True(t, r.interrupt())

	// typing something disarms the second Ctrl-C
	r.armed = false
	assert.False(t, r.interrupt())
	r.line(context.Background(), "/status")
	assert.False(t, r.interrupt())
}
