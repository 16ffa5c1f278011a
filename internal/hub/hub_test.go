package hub

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/share-board/internal/lobby"
	"github.com/DoyleJ11/share-board/internal/metrics"
	"github.com/DoyleJ11/share-board/internal/store"
)

func newHub(t *testing.T) (*Hub, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	h := NewHub(context.Background(), lobby.Deps{
		Store:   store.NewMemory(),
		Log:     zaptest.NewLogger(t),
		Metrics: m,
	})
	t.Cleanup(h.Shutdown)
	return h, m
}

func waitStopped(t *testing.T, lb *lobby.Lobby) {
	t.Helper()
	select {
	case <-lb.Done():
	case <-time.After(time.Second):
		t.Fatalf("lobby not stopped")
	}
}

func TestHub_Lobby_Peek_SamePointer(t *testing.T) {
	h, m := newHub(t)
	ctx := context.Background()

	assert.Nil(t, h.Peek(ctx, "ZED123"), "peek never starts a lobby")

	lb1 := h.Lobby(ctx, "ZED123")
	require.NotNil(t, lb1)
	assert.Same(t, lb1, h.Peek(ctx, "ZED123"))
	assert.Same(t, lb1, h.Lobby(ctx, "ZED123"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rooms))

	assert.Nil(t, h.Peek(ctx, "OTHER1"))
}

func TestHub_LastReleaseStopsLobby(t *testing.T) {
	h, m := newHub(t)
	ctx := context.Background()

	lb := h.Lobby(ctx, "ZED123")
	require.Same(t, lb, h.Lobby(ctx, "ZED123"))

	h.Release("ZED123")
	// Peek round-trips through the loop, so the release has been applied.
	require.Same(t, lb, h.Peek(ctx, "ZED123"), "one holder left")

	h.Release("ZED123")
	waitStopped(t, lb)
	assert.Nil(t, h.Peek(ctx, "ZED123"))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Rooms))

	next := h.Lobby(ctx, "ZED123")
	assert.NotSame(t, lb, next)
	h.Release("ZED123")
	h.Release("ZED123") // extra releases are ignored
	waitStopped(t, next)
}

func TestHub_Shutdown_ClosesOutboxes(t *testing.T) {
	h, _ := newHub(t)
	ctx := context.Background()
	lb := h.Lobby(ctx, "ZED123")
	out := make(chan []byte, 1)
	require.True(t, lb.Send(ctx, lobby.Join{ClientID: "c1", Username: "alice", Outbox: out}))
	v, ok := lb.State(ctx)
	require.True(t, ok)
	require.Equal(t, 1, v.NumClients)

	h.Shutdown()

	select {
	case _, open := <-out:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatalf("outbox not closed")
	}
	assert.Nil(t, h.Lobby(ctx, "ZED123"))
	h.Release("ZED123") // no-op once stopped
}
