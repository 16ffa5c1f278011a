package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/DoyleJ11/share-board/internal/conn"
	"github.com/DoyleJ11/share-board/internal/room"
	"github.com/DoyleJ11/share-board/internal/session"
	"github.com/DoyleJ11/share-board/pkg/types"
)

const help = `commands:
  <text>            send a chat message
  /text <content>   replace the shared text (live)
  /save             save the shared text
  /draw <json|url>  replace the drawing (live)
  /savedraw         save the drawing
  /show             print the shared text
  /reload           refetch the room
  /retry            reconnect after a connection error
  /status           connection and unsaved state
  /leave            leave the room
  /yes, /no         answer the unsaved-changes prompt`

// roomSession is the part of *session.Session the REPL drives.
type roomSession interface {
	SendChat(ctx context.Context, content string) error
	EditText(ctx context.Context, text string) error
	SaveText(ctx context.Context) error
	EditDrawing(ctx context.Context, d types.Drawing) error
	SaveDrawing(ctx context.Context) error
	Reload(ctx context.Context) error
	Retry(ctx context.Context) error
	Leave() bool
	Confirm() bool
	Cancel()
	Dirty() bool
	BeforeUnload() bool
	Room() room.State
	Conn() conn.State
}

type repl struct {
	s   roomSession
	out io.Writer

	shown    int // chat messages already printed
	lastText string
	armed    bool // one Ctrl-C seen while dirty
}

func newREPL(s roomSession, out io.Writer) *repl {
	return &repl{s: s, out: out}
}

// line runs one line of input and reports whether to quit.
func (r *repl) line(ctx context.Context, line string) bool {
	r.armed = false
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.report(r.s.SendChat(ctx, line))
		return false
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	switch cmd {
	case "text":
		r.lastText = arg
		r.report(r.s.EditText(ctx, arg))
	case "save":
		r.report(r.s.SaveText(ctx))
	case "draw":
		d, err := types.ParseDrawing([]byte(arg))
		if err != nil {
			// a bare data url
			d, err = types.ParseDrawing([]byte(fmt.Sprintf("%q", arg)))
		}
		if err != nil {
			r.printf("bad drawing: %v", err)
			return false
		}
		r.report(r.s.EditDrawing(ctx, d))
	case "savedraw":
		r.report(r.s.SaveDrawing(ctx))
	case "show":
		r.printf("%s", r.s.Room().SharedText)
	case "reload":
		r.report(r.s.Reload(ctx))
	case "retry":
		r.report(r.s.Retry(ctx))
	case "status":
		st := r.s.Conn()
		msg := st.Status.String()
		if st.Room != "" {
			msg += " to " + st.Room
		}
		if st.Err != nil {
			msg += ": " + st.Err.Error()
		}
		r.printf("connection %s, unsaved changes: %t", msg, r.s.Dirty())
	case "leave", "quit":
		r.s.Leave()
	case "yes":
		if !r.s.Confirm() {
			r.printf("nothing to confirm")
		}
	case "no":
		r.s.Cancel()
		r.printf("staying in the room")
	case "help":
		r.printf("%s", help)
	default:
		r.printf("unknown command /%s, try /help", cmd)
	}
	return false
}

// event renders a session event and reports whether to quit.
func (r *repl) event(ev session.Event) bool {
	switch e := ev.(type) {
	case session.ConnChanged:
		switch e.State.Status {
		case conn.StatusConnected:
			r.printf("[conn] connected to %s", e.State.Room)
		case conn.StatusConnecting:
			r.printf("[conn] connecting to %s", e.State.Room)
		case conn.StatusDisconnected:
			r.printf("[conn] disconnected")
		}
	case session.RoomChanged:
		r.room(e.State)
	case session.Toast:
		r.printf("[%s] %s", e.Level, e.Text)
	case session.Banner:
		r.printf("[!] %s: %v (/retry to reconnect)", e.Text, e.Err)
	case session.ConfirmLeave:
		r.printf("You have unsaved changes. /yes to leave anyway, /no to stay.")
	case session.Redirect:
		if e.Reason != nil {
			r.printf("left the room: %v", e.Reason)
		} else {
			r.printf("left the room")
		}
		return true
	}
	return false
}

func (r *repl) room(st room.State) {
	if len(st.Messages) < r.shown {
		r.shown = 0
	}
	for _, m := range st.Messages[r.shown:] {
		r.printf("<%s> %s", m.Sender, m.Content)
	}
	r.shown = len(st.Messages)

	if st.Loaded && st.SharedText != r.lastText {
		r.lastText = st.SharedText
		r.printf("[text] shared text changed (%d chars, /show to print)", len(st.SharedText))
	}
}

// interrupt handles Ctrl-C. With unsaved edits the first one only warns.
func (r *repl) interrupt() bool {
	if !r.s.BeforeUnload() || r.armed {
		return true
	}
	r.armed = true
	r.printf("You have unsaved changes. Press Ctrl-C again to quit anyway.")
	return false
}

func (r *repl) report(err error) {
	if err != nil {
		r.printf("error: %v", err)
	}
}

func (r *repl) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n", args...)
}
