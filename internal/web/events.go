package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"roundcal/internal/index"
	applog "roundcal/internal/log"
	"roundcal/internal/model"
)

// eventRequest is the wire form of an event write.
type eventRequest struct {
	Title           string   `json:"title"`
	Start           string   `json:"start"` // RFC 3339
	DurationMinutes int      `json:"duration_minutes"`
	Kind            string   `json:"kind"`
	Priority        string   `json:"priority"`
	ReminderOffsets []string `json:"reminder_offsets"` // Go durations
	Attendees       int      `json:"attendees"`
	Location        string   `json:"location"`
}

func (req eventRequest) toEvent(id string) (model.Event, error) {
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		return model.Event{}, model.NewValidationError("start", "must be RFC 3339")
	}

	offsets := make([]time.Duration, 0, len(req.ReminderOffsets))
	for _, s := range req.ReminderOffsets {
		d, err := time.ParseDuration(s)
		if err != nil {
			return model.Event{}, model.NewValidationError("reminder_offsets", "must be Go durations like 15m")
		}
		offsets = append(offsets, d)
	}

	return model.Event{
		ID:              id,
		Title:           req.Title,
		Start:           start,
		Duration:        time.Duration(req.DurationMinutes) * time.Minute,
		Kind:            model.Kind(req.Kind),
		Priority:        model.Priority(req.Priority),
		ReminderOffsets: offsets,
		Attendees:       req.Attendees,
		Location:        req.Location,
	}, nil
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	pred := index.MatchText(q.Get("q"))
	if k := q.Get("kind"); k != "" {
		pred = index.And(pred, index.MatchKind(model.Kind(k)))
	}

	events := s.ix.EventsMatching(pred)
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ev, err := req.toEvent(uuid.NewString())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.upsert(ev); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.ix.Get(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.ix.Get(id); err != nil {
		writeDomainError(w, err)
		return
	}

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ev, err := req.toEvent(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.upsert(ev); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.ix.Remove(id)
	if s.sink != nil {
		if err := s.sink.DeleteEvent(id); err != nil {
			applog.Error("event delete not persisted", err, "event_id", id)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// upsert writes through to the persistence sink after the index accepts
// the event.
func (s *Server) upsert(ev model.Event) error {
	if err := s.ix.Upsert(ev); err != nil {
		return err
	}
	if s.sink != nil {
		if err := s.sink.SaveEvent(ev); err != nil {
			applog.Error("event not persisted", err, "event_id", ev.ID)
		}
	}
	return nil
}
