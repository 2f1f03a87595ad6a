// Package web exposes the calendar engine over HTTP: event CRUD, grid
// projections, notifications with websocket push, and ICS export.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"roundcal/internal/clock"
	"roundcal/internal/config"
	"roundcal/internal/ics"
	"roundcal/internal/index"
	applog "roundcal/internal/log"
	"roundcal/internal/model"
	"roundcal/internal/notify"
	"roundcal/internal/view"
)

// EventSink receives write-through copies of index mutations so the
// optional persistence collaborator stays in step. A nil sink disables
// persistence.
type EventSink interface {
	SaveEvent(ev model.Event) error
	DeleteEvent(id string) error
}

// Server wires the engine components behind an HTTP API.
type Server struct {
	cfg       *config.Config
	ix        *index.EventIndex
	projector *view.Projector
	center    *notify.Center
	clk       clock.Clock
	sink      EventSink
	mux       *http.ServeMux
}

// NewServer constructs the API server. sink may be nil.
func NewServer(cfg *config.Config, ix *index.EventIndex, projector *view.Projector, center *notify.Center, clk clock.Clock, sink EventSink) *Server {
	s := &Server{
		cfg:       cfg,
		ix:        ix,
		projector: projector,
		center:    center,
		clk:       clk,
		sink:      sink,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	s.mux.HandleFunc("GET /api/events/{id}", s.handleGetEvent)
	s.mux.HandleFunc("PUT /api/events/{id}", s.handleUpdateEvent)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)

	s.mux.HandleFunc("GET /api/grid", s.handleGrid)
	s.mux.HandleFunc("POST /api/grid/navigate", s.handleNavigate)
	s.mux.HandleFunc("GET /api/summary", s.handleSummary)
	s.mux.HandleFunc("GET /api/export.ics", s.handleExport)

	s.mux.HandleFunc("GET /api/notifications", s.handleListNotifications)
	s.mux.HandleFunc("POST /api/notifications", s.handleRaiseNotification)
	s.mux.HandleFunc("GET /api/notifications/unread-count", s.handleUnreadCount)
	s.mux.HandleFunc("POST /api/notifications/{id}/read", s.handleMarkRead)
	s.mux.HandleFunc("POST /api/notifications/read-all", s.handleMarkAllRead)

	s.mux.HandleFunc("GET /ws", s.handleWebsocket)
}

// Handler returns the full handler chain, with basic auth when
// configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		applog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Listen, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		applog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) basicAuthEnabled() bool {
	ba := s.cfg.BasicAuth
	return ba != nil && ba.Username != "" && ba.Password != ""
}

// basicAuthMiddleware protects all endpoints except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="roundcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if v := q.Get("view"); v != "" {
		s.projector.SetGranularity(view.ParseGranularity(v))
	}
	if c := q.Get("cursor"); c != "" {
		// Malformed cursors are clamped to today rather than rejected.
		if t, err := time.ParseInLocation("2006-01-02", c, s.ix.Location()); err == nil {
			s.projector.SetCursor(t)
		} else {
			s.projector.JumpToToday()
		}
	}
	writeJSON(w, http.StatusOK, s.projector.Project())
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("dir") {
	case "prev":
		s.projector.Navigate(view.Prev)
	case "next":
		s.projector.Navigate(view.Next)
	case "today":
		s.projector.JumpToToday()
	default:
		writeError(w, http.StatusBadRequest, "dir must be prev, next, or today")
		return
	}
	writeJSON(w, http.StatusOK, s.projector.Project())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	at := s.clk.Now().In(s.ix.Location())
	if d := r.URL.Query().Get("date"); d != "" {
		if t, err := time.ParseInLocation("2006-01-02", d, s.ix.Location()); err == nil {
			at = t
		}
	}
	writeJSON(w, http.StatusOK, s.projector.Summarize(at))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loc := s.ix.Location()

	from, err := time.ParseInLocation("2006-01-02", q.Get("from"), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
		return
	}
	to, err := time.ParseInLocation("2006-01-02", q.Get("to"), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
		return
	}

	events := s.ix.EventsInRange(from, to.AddDate(0, 0, 1))
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="roundcal.ics"`)
	_, _ = w.Write([]byte(ics.Export(events)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		applog.Error("response encode failed", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps engine errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
