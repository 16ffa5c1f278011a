package ws

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/share-board/internal/codec"
	"github.com/DoyleJ11/share-board/internal/hub"
	"github.com/DoyleJ11/share-board/internal/lobby"
	"github.com/DoyleJ11/share-board/internal/metrics"
	"github.com/DoyleJ11/share-board/internal/roomerr"
	"github.com/DoyleJ11/share-board/internal/store"
)

const (
	writeTimeout = 3 * time.Second
	outboxSize   = 32
	readLimit    = 4 << 20
)

type Deps struct {
	Hub     *hub.Hub
	Store   store.Store
	Log     *zap.Logger
	Metrics *metrics.Metrics
	// OriginPatterns loosens the same-origin check, e.g. "localhost:*".
	OriginPatterns []string
	Now            func() time.Time
}

// Handler serves /ws/room/{code}?token=<ticket>. The upgrade is always
// accepted; ticket and room problems are reported with the reserved close
// codes so the client can tell them from network failures.
func Handler(d Deps) http.HandlerFunc {
	if d.Now == nil {
		d.Now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		token := r.URL.Query().Get("token")

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: d.OriginPatterns,
		})
		if err != nil {
			return
		}
		conn.SetReadLimit(readLimit)
		log := d.Log.With(zap.String("room", code))

		username, status, reason := admit(r.Context(), d, code, token)
		if status != 0 {
			log.Info("rejecting connection", zap.Int("code", int(status)), zap.String("reason", reason))
			d.Metrics.Rejections.WithLabelValues(strconv.Itoa(int(status))).Inc()
			_ = conn.Close(status, reason)
			return
		}

		lb := d.Hub.Lobby(r.Context(), code)
		if lb == nil {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
		// Runs after Leave: the room's lobby stops with its last client.
		defer d.Hub.Release(code)

		out := make(chan []byte, outboxSize)
		clientID := uuid.NewString()
		if !lb.Send(r.Context(), lobby.Join{ClientID: clientID, Username: username, Outbox: out}) {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		defer lb.Send(context.Background(), lobby.Leave{ClientID: clientID})

		d.Metrics.Connections.Inc()
		defer d.Metrics.Connections.Dec()
		log.Info("client joined", zap.String("user", username), zap.String("client", clientID))

		// Writer goroutine. The outbox closes when the client leaves, is
		// dropped as slow, or the lobby stops.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for frame := range out {
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				err := conn.Write(ctx, websocket.MessageText, frame)
				cancel()
				if err != nil {
					return
				}
			}
			select {
			case <-writeCtx.Done():
			default:
				_ = conn.Close(websocket.StatusTryAgainLater, "dropped by server")
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					log.Debug("client closed", zap.String("client", clientID))
				default:
					log.Debug("read failed", zap.String("client", clientID), zap.Error(err))
				}
				return
			}

			msg, err := codec.DecodeClient(data)
			if err != nil {
				log.Warn("dropping client frame", zap.String("client", clientID), zap.Error(err))
				d.Metrics.FramesBad.Inc()
				continue
			}
			d.Metrics.FramesIn.WithLabelValues(string(msg.Action)).Inc()

			if !lb.Send(r.Context(), lobby.FromClient{ClientID: clientID, Msg: msg}) {
				_ = conn.Close(websocket.StatusGoingAway, "room closed")
				return
			}
		}
	}
}

// admit redeems the ticket, checks the room and records the caller as a
// participant. A non-zero status is the close code to reject with. Store
// outages close with StatusInternalError, which clients may retry.
func admit(ctx context.Context, d Deps, code, token string) (string, websocket.StatusCode, string) {
	if token == "" {
		return "", roomerr.CloseBadTicket, "missing ticket"
	}
	t, err := d.Store.RedeemTicket(ctx, token, d.Now())
	switch {
	case errors.Is(err, store.ErrTicketInvalid):
		return "", roomerr.CloseBadTicket, "invalid or expired ticket"
	case err != nil:
		storeFailed(d, "redeem_ticket", err)
		return "", websocket.StatusInternalError, "temporarily unavailable"
	}
	if t.RoomCode != code {
		return "", roomerr.CloseForbidden, "ticket not valid for this room"
	}

	err = d.Store.JoinRoom(ctx, code, t.Username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "", roomerr.CloseRoomGone, "room not found"
	case errors.Is(err, store.ErrRoomClosed):
		return "", roomerr.CloseRoomGone, "room is not active"
	case err != nil:
		storeFailed(d, "join_room", err)
		return "", websocket.StatusInternalError, "temporarily unavailable"
	}
	return t.Username, 0, ""
}

func storeFailed(d Deps, op string, err error) {
	d.Log.Error("store failed during admission", zap.String("op", op), zap.Error(err))
	d.Metrics.StoreErrors.WithLabelValues(op).Inc()
}
