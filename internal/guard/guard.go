package guard

import (
	"sync"

	"github.com/DoyleJ11/share-board/pkg/types"
)

type Kind int

const (
	KindText Kind = iota
	KindDrawing
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "shared_text"
	case KindDrawing:
		return "drawing"
	default:
		return "unknown"
	}
}

// KindOf maps a save action to the artifact it persists.
func KindOf(a types.Action) (Kind, bool) {
	switch a {
	case types.ActionSaveSharedText, types.ActionUpdateSharedText:
		return KindText, true
	case types.ActionSaveDrawing, types.ActionUpdateDrawing:
		return KindDrawing, true
	}
	return 0, false
}

// Guard tracks unsaved local edits and holds at most one deferred navigation.
//
// There is one dirty flag per session. Every edit bumps a single epoch; a
// save captures the epoch it covers and a successful save of either artifact
// clears the flag, unless another edit landed after it. An ack for an older
// save never hides newer edits.
type Guard struct {
	mu       sync.Mutex
	edits    uint64
	saved    uint64
	inflight [numKinds]uint64
	pending  func()
}

func New() *Guard { return &Guard{} }

// MarkDirty records a local edit of artifact k.
func (g *Guard) MarkDirty(k Kind) {
	g.mu.Lock()
	g.edits++
	g.mu.Unlock()
}

func (g *Guard) Dirty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dirtyLocked()
}

func (g *Guard) dirtyLocked() bool {
	return g.edits != g.saved
}

// BeginSave records that a save of artifact k is on its way and returns the
// epoch to pass to Saved.
func (g *Guard) BeginSave(k Kind) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inflight[k] = g.edits
	return g.edits
}

func (g *Guard) Saved(k Kind, epoch uint64) {
	g.mu.Lock()
	if epoch > g.saved {
		g.saved = epoch
	}
	g.mu.Unlock()
}

// Acked resolves the most recent in-flight save of kind k.
func (g *Guard) Acked(k Kind) {
	g.mu.Lock()
	epoch := g.inflight[k]
	g.mu.Unlock()
	g.Saved(k, epoch)
}

// Navigate runs action right away when there is nothing to lose. Otherwise it
// parks action in the pending slot, replacing any older one, and returns
// false so the caller can open a confirmation prompt.
func (g *Guard) Navigate(action func()) bool {
	g.mu.Lock()
	if !g.dirtyLocked() {
		g.mu.Unlock()
		action()
		return true
	}
	g.pending = action
	g.mu.Unlock()
	return false
}

func (g *Guard) Prompting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending != nil
}

// Confirm discards unsaved edits and runs the deferred navigation.
func (g *Guard) Confirm() bool {
	g.mu.Lock()
	action := g.pending
	g.pending = nil
	if action == nil {
		g.mu.Unlock()
		return false
	}
	g.saved = g.edits
	g.mu.Unlock()

	action()
	return true
}

// Cancel drops the deferred navigation. Dirtiness is left alone.
func (g *Guard) Cancel() {
	g.mu.Lock()
	g.pending = nil
	g.mu.Unlock()
}

// BeforeUnload reports whether closing the whole client should be
// intercepted with a confirmation.
func (g *Guard) BeforeUnload() bool {
	return g.Dirty()
}
