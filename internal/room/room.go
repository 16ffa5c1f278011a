package room

import (
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/share-board/pkg/types"
)

// maxPending bounds the frames held while the REST snapshot is in flight.
const maxPending = 256

// State is what the room view renders.
type State struct {
	Code       string
	Messages   []types.ChatMessage
	SharedText string
	Drawing    types.Drawing
	Loaded     bool
}

// Reconciler merges the REST snapshot with the live stream for the chat log,
// the shared text and the drawing. Ordering is last applied wins: frames that
// arrive before the snapshot are held and replayed on top of it.
type Reconciler struct {
	mu      sync.Mutex
	state   State
	pending []types.Inbound
	log     *zap.Logger
	notify  func(State)
}

func NewReconciler(log *zap.Logger) *Reconciler {
	return &Reconciler{log: log}
}

// OnChange registers a callback invoked with a copy of the state after every
// mutation. It runs outside the reconciler lock.
func (r *Reconciler) OnChange(fn func(State)) {
	r.mu.Lock()
	r.notify = fn
	r.mu.Unlock()
}

// Seed loads a snapshot. The first call seeds everything; later calls (manual
// reload) replace text and drawing wholesale but never shrink the chat log.
func (r *Reconciler) Seed(snap types.RoomSnapshot) {
	drawing, err := types.ParseDrawing(snap.DrawingPayload())
	if err != nil {
		// The scene is opaque to us; a bad one should not block the room.
		r.log.Warn("snapshot drawing unreadable, starting blank", zap.String("code", snap.Code), zap.Error(err))
		drawing = types.Drawing{}
	}

	r.mu.Lock()
	if r.state.Loaded && len(snap.Messages) < len(r.state.Messages) {
		r.log.Info("reload returned a shorter chat log, keeping ours",
			zap.Int("have", len(r.state.Messages)), zap.Int("got", len(snap.Messages)))
	} else {
		r.state.Messages = slices.Clone(snap.Messages)
	}
	r.state.Code = snap.Code
	r.state.SharedText = snap.SharedText
	r.state.Drawing = drawing
	r.state.Loaded = true

	pending := r.pending
	r.pending = nil
	for _, in := range pending {
		r.applyLocked(in)
	}
	out, fn := r.copyLocked(), r.notify
	r.mu.Unlock()

	if len(pending) > 0 {
		r.log.Debug("replayed frames received before snapshot", zap.Int("frames", len(pending)))
	}
	if fn != nil {
		fn(out)
	}
}

// Apply merges one live frame. Before the first Seed the frame is held.
func (r *Reconciler) Apply(in types.Inbound) {
	r.mu.Lock()
	if !r.state.Loaded {
		if len(r.pending) == maxPending {
			r.pending = r.pending[1:]
			r.log.Warn("pre-snapshot buffer full, dropping oldest frame")
		}
		r.pending = append(r.pending, in)
		r.mu.Unlock()
		return
	}
	r.applyLocked(in)
	out, fn := r.copyLocked(), r.notify
	r.mu.Unlock()

	if fn != nil {
		fn(out)
	}
}

func (r *Reconciler) applyLocked(in types.Inbound) {
	switch m := in.(type) {
	case types.ChatReceived:
		r.state.Messages = append(r.state.Messages, m.Message)
	case types.SharedTextReceived:
		r.state.SharedText = m.Text
	case types.DrawingReceived:
		r.state.Drawing = m.Drawing
	}
}

// SetLocalText records a local edit so the view shows what the user typed.
func (r *Reconciler) SetLocalText(text string) {
	r.mu.Lock()
	r.state.SharedText = text
	r.mu.Unlock()
}

func (r *Reconciler) SetLocalDrawing(d types.Drawing) {
	r.mu.Lock()
	r.state.Drawing = d
	r.mu.Unlock()
}

// Reset discards everything; used when the room view goes away.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.state = State{}
	r.pending = nil
	r.mu.Unlock()
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyLocked()
}

func (r *Reconciler) copyLocked() State {
	out := r.state
	out.Messages = slices.Clone(r.state.Messages)
	out.Drawing.Scene = slices.Clone(r.state.Drawing.Scene)
	return out
}

// Sink adapters so the codec dispatcher can feed the reconciler directly.

func (r *Reconciler) Chat(m types.ChatMessage) { r.Apply(types.ChatReceived{Message: m}) }
func (r *Reconciler) SharedText(t string)      { r.Apply(types.SharedTextReceived{Text: t}) }
func (r *Reconciler) Drawing(d types.Drawing)  { r.Apply(types.DrawingReceived{Drawing: d}) }
