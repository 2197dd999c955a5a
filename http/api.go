package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/mengelbart/vstream/server"
)

// SessionService exposes the open sessions of a control server.
type SessionService interface {
	Sessions() []server.SessionInfo
	Session(id string) (server.SessionInfo, bool)
}

type APIOption func(*API) error

func APILogger(logger *slog.Logger) APIOption {
	return func(a *API) error {
		a.logger = logger
		return nil
	}
}

// APIMetrics serves h on /metrics.
func APIMetrics(h http.Handler) APIOption {
	return func(a *API) error {
		a.metrics = h
		return nil
	}
}

type API struct {
	logger   *slog.Logger
	sessions SessionService
	metrics  http.Handler
}

func NewAPI(sessions SessionService, opts ...APIOption) (*API, error) {
	a := &API{
		logger:   slog.Default(),
		sessions: sessions,
		metrics:  nil,
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *API) RegisterRoutes(mux *httprouter.Router) {
	mux.HandlerFunc("GET", "/api/v1/sessions", a.ListSessions)
	mux.GET("/api/v1/sessions/:id", a.GetSession)
	if a.metrics != nil {
		mux.Handler("GET", "/metrics", a.metrics)
	}
}

// Handler returns a router serving all routes of a.
func (a *API) Handler() http.Handler {
	mux := httprouter.New()
	a.RegisterRoutes(mux)
	return mux
}

func (a *API) ListSessions(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.sessions.Sessions())
}

func (a *API) GetSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	info, ok := a.sessions.Session(ps.ByName("id"))
	if !ok {
		a.writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	a.writeJSON(w, http.StatusOK, info)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to write response", "error", err)
	}
}
