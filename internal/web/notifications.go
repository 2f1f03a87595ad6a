package web

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	applog "roundcal/internal/log"
	"roundcal/internal/model"
	"roundcal/internal/notify"
)

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	filter := notify.ParseFilter(r.URL.Query().Get("filter"))
	writeJSON(w, http.StatusOK, s.center.List(filter))
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"unread": s.center.UnreadCount()})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	s.center.MarkRead(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, _ *http.Request) {
	s.center.MarkAllRead()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRaiseNotification lets external collaborators (invitation and
// announcement sources) inject notifications.
func (s *Server) handleRaiseNotification(w http.ResponseWriter, r *http.Request) {
	var n model.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	raised, err := s.center.Raise(n)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, raised)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleWebsocket streams raised notifications to the client until it
// disconnects. Clients should still poll the list endpoint for history.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Error("websocket upgrade failed", err)
		return
	}
	defer conn.Close()

	sub := s.center.Subscribe()
	defer s.center.Unsubscribe(sub)

	// Drain reads so close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case n := <-sub:
			if err := conn.WriteJSON(n); err != nil {
				applog.Debug("websocket write failed, closing", "err", err)
				return
			}
		}
	}
}
