package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/share-board/internal/auth"
	"github.com/DoyleJ11/share-board/internal/store"
	"github.com/DoyleJ11/share-board/pkg/types"
)

const maxCodeAttempts = 8

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func CreateRoom(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := auth.Username(r.Context())
		for i := 0; i < maxCodeAttempts; i++ {
			code, err := GenerateCode()
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to generate code")
				return
			}
			room, err := d.Store.CreateRoom(r.Context(), code, user)
			if errors.Is(err, store.ErrCodeTaken) {
				d.Log.Debug("collision on code, regenerating", zap.String("code", code))
				continue
			}
			if err != nil {
				d.Log.Error("create room", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to create room")
				return
			}
			writeJSON(w, http.StatusCreated, store.Snapshot(room, nil))
			return
		}
		writeError(w, http.StatusServiceUnavailable, "no free room code")
	}
}

func GetRoom(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, msgs, err := d.Store.Room(r.Context(), chi.URLParam(r, "code"))
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "room not found")
		case err != nil:
			d.Log.Error("load room", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load room")
		default:
			writeJSON(w, http.StatusOK, store.Snapshot(room, msgs))
		}
	}
}

// ListRooms lists the rooms the caller hosts or has joined.
func ListRooms(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := auth.Username(r.Context())
		rooms, err := d.Store.RoomsFor(r.Context(), user)
		if err != nil {
			d.Log.Error("list rooms", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to list rooms")
			return
		}
		out := make([]types.RoomSummary, 0, len(rooms))
		for _, room := range rooms {
			out = append(out, store.Summary(room))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func JoinRoom(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := auth.Username(r.Context())
		err := d.Store.JoinRoom(r.Context(), chi.URLParam(r, "code"), user)
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "room not found")
		case errors.Is(err, store.ErrRoomClosed):
			writeError(w, http.StatusBadRequest, "room is not active")
		case err != nil:
			d.Log.Error("join room", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to join room")
		default:
			writeJSON(w, http.StatusOK, map[string]string{"status": "joined room"})
		}
	}
}

// LeaveRoom drops the caller from the room. A host leaving closes the room
// to new connections; clients already inside stay until they disconnect.
func LeaveRoom(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := auth.Username(r.Context())
		closed, err := d.Store.LeaveRoom(r.Context(), chi.URLParam(r, "code"), user)
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "room not found")
		case err != nil:
			d.Log.Error("leave room", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to leave room")
		case closed:
			writeJSON(w, http.StatusOK, map[string]string{"status": "room closed"})
		default:
			writeJSON(w, http.StatusOK, map[string]string{"status": "left room"})
		}
	}
}

// Participants reports who joined the room and who is connected right now.
func Participants(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		members, err := d.Store.Participants(r.Context(), code)
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "room not found")
			return
		case err != nil:
			d.Log.Error("list participants", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to list participants")
			return
		}

		out := types.Participants{Members: members, Online: []string{}}
		if lb := d.Hub.Peek(r.Context(), code); lb != nil {
			if v, ok := lb.State(r.Context()); ok {
				out.Online = v.Online
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// IssueTicket mints a single-use ticket for the caller and one room.
func IssueTicket(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.Username(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}

		var body struct {
			RoomCode string `json:"room_code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.RoomCode) == "" {
			writeError(w, http.StatusBadRequest, "room_code is required")
			return
		}

		room, _, err := d.Store.Room(r.Context(), body.RoomCode)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "room not found")
				return
			}
			d.Log.Error("load room", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to issue ticket")
			return
		}
		if !room.Active {
			writeError(w, http.StatusBadRequest, "room is not active")
			return
		}

		t := store.Ticket{
			Token:     uuid.NewString(),
			Username:  user,
			RoomCode:  body.RoomCode,
			ExpiresAt: time.Now().Add(d.TicketTTL),
		}
		if err := d.Store.IssueTicket(r.Context(), t); err != nil {
			d.Log.Error("issue ticket", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to issue ticket")
			return
		}
		d.Metrics.TicketsIssued.Inc()
		writeJSON(w, http.StatusOK, map[string]string{"token": t.Token})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
