package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/share-board/internal/auth"
	"github.com/DoyleJ11/share-board/internal/hub"
	"github.com/DoyleJ11/share-board/internal/metrics"
	"github.com/DoyleJ11/share-board/internal/store"
	"github.com/DoyleJ11/share-board/internal/ws"
)

type Deps struct {
	Hub            *hub.Hub
	Store          store.Store
	Auth           *auth.Manager
	Metrics        *metrics.Metrics
	Log            *zap.Logger
	TicketTTL      time.Duration
	OriginPatterns []string
}

func SetupRoutes(d Deps) http.Handler {
	if d.TicketTTL <= 0 {
		d.TicketTTL = time.Minute
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Handle("/metrics", d.Metrics.Handler())
	// The realtime endpoint authenticates with its ticket, never the credential.
	r.Get("/ws/room/{code}", ws.Handler(ws.Deps{
		Hub:            d.Hub,
		Store:          d.Store,
		Log:            d.Log.Named("ws"),
		Metrics:        d.Metrics,
		OriginPatterns: d.OriginPatterns,
	}))

	r.Group(func(r chi.Router) {
		r.Use(d.Auth.Middleware)
		r.Get("/rooms", ListRooms(d))
		r.Post("/rooms", CreateRoom(d))
		r.Get("/rooms/{code}", GetRoom(d))
		r.Post("/rooms/{code}/join", JoinRoom(d))
		r.Post("/rooms/{code}/leave", LeaveRoom(d))
		r.Get("/rooms/{code}/participants", Participants(d))
		r.Post("/ws-ticket", IssueTicket(d))
	})
	return r
}
