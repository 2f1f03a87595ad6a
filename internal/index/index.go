// Package index owns the canonical set of scheduled events, bucketed by
// calendar day for fast per-day lookup. It is the single source of truth;
// the projector and the reminder scheduler only read from it.
package index

import (
	"sort"
	"strings"
	"sync"
	"time"

	"roundcal/internal/model"
)

// Day identifies one calendar day in the index's display timezone.
type Day struct {
	Year  int
	Month time.Month
	Dom   int
}

// DayOf returns the bucket key for t, evaluated in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	lt := t.In(loc)
	return Day{Year: lt.Year(), Month: lt.Month(), Dom: lt.Day()}
}

// Time returns midnight of the day in loc.
func (d Day) Time(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Dom, 0, 0, 0, 0, loc)
}

// EventIndex buckets events by the calendar day of their start instant.
// An event spanning midnight is indexed only under its start day.
//
// Writes take the exclusive lock and swap a freshly sorted bucket slice,
// so concurrent readers never observe a partially-updated bucket.
type EventIndex struct {
	mu      sync.RWMutex
	loc     *time.Location
	byID    map[string]model.Event
	buckets map[Day][]model.Event
}

// New creates an empty index that buckets in loc. A nil loc falls back
// to time.Local.
func New(loc *time.Location) *EventIndex {
	if loc == nil {
		loc = time.Local
	}
	return &EventIndex{
		loc:     loc,
		byID:    make(map[string]model.Event),
		buckets: make(map[Day][]model.Event),
	}
}

// Location returns the timezone used for day bucketing.
func (ix *EventIndex) Location() *time.Location {
	return ix.loc
}

// Upsert inserts or replaces an event by id, re-bucketing if the start
// instant moved to another day. Invalid events are rejected whole.
func (ix *EventIndex) Upsert(ev model.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if old, ok := ix.byID[ev.ID]; ok {
		ix.removeFromBucket(DayOf(old.Start, ix.loc), old.ID)
	}
	ix.byID[ev.ID] = ev
	ix.addToBucket(DayOf(ev.Start, ix.loc), ev)
	return nil
}

// Remove deletes an event by id. Absence is a no-op, not an error.
func (ix *EventIndex) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	old, ok := ix.byID[id]
	if !ok {
		return
	}
	delete(ix.byID, id)
	ix.removeFromBucket(DayOf(old.Start, ix.loc), id)
}

// Get returns the event with the given id.
func (ix *EventIndex) Get(id string) (model.Event, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	ev, ok := ix.byID[id]
	if !ok {
		return model.Event{}, &model.NotFoundError{Kind: "event", ID: id}
	}
	return ev, nil
}

// Len returns the number of indexed events.
func (ix *EventIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byID)
}

// EventsOnDay returns the day's events sorted by start instant ascending,
// ties broken by id. The returned slice is a copy owned by the caller.
func (ix *EventIndex) EventsOnDay(d Day) []model.Event {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	bucket := ix.buckets[d]
	out := make([]model.Event, len(bucket))
	copy(out, bucket)
	return out
}

// EventsInRange returns events with start >= from and start < to, merged
// across days in chronological order.
func (ix *EventIndex) EventsInRange(from, to time.Time) []model.Event {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if !to.After(from) {
		return nil
	}

	var out []model.Event
	// Walk day buckets from the start day through the end day; bucket
	// contents are already sorted, so appending in day order keeps the
	// merged result chronological within the display timezone.
	for d := DayOf(from, ix.loc); !d.Time(ix.loc).After(to); d = DayOf(d.Time(ix.loc).AddDate(0, 0, 1), ix.loc) {
		for _, ev := range ix.buckets[d] {
			if ev.Start.Before(from) || !ev.Start.Before(to) {
				continue
			}
			out = append(out, ev)
		}
	}
	return out
}

// Predicate filters events. Predicates compose with And.
type Predicate func(model.Event) bool

// And returns a predicate that is true when all of ps are true.
func And(ps ...Predicate) Predicate {
	return func(ev model.Event) bool {
		for _, p := range ps {
			if !p(ev) {
				return false
			}
		}
		return true
	}
}

// MatchText matches events whose title or location contains the query,
// case-insensitively. An empty query matches everything.
func MatchText(query string) Predicate {
	q := strings.ToLower(strings.TrimSpace(query))
	return func(ev model.Event) bool {
		if q == "" {
			return true
		}
		return strings.Contains(strings.ToLower(ev.Title), q) ||
			strings.Contains(strings.ToLower(ev.Location), q)
	}
}

// MatchKind matches events of the given kind.
func MatchKind(k model.Kind) Predicate {
	return func(ev model.Event) bool { return ev.Kind == k }
}

// EventsMatching returns all events satisfying p, sorted by start
// instant ascending with id tiebreak.
func (ix *EventIndex) EventsMatching(p Predicate) []model.Event {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []model.Event
	for _, ev := range ix.byID {
		if p(ev) {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	return out
}

// addToBucket replaces the day's bucket with a sorted copy including ev.
// Callers hold the write lock.
func (ix *EventIndex) addToBucket(d Day, ev model.Event) {
	old := ix.buckets[d]
	next := make([]model.Event, 0, len(old)+1)
	next = append(next, old...)
	next = append(next, ev)
	sortEvents(next)
	ix.buckets[d] = next
}

// removeFromBucket replaces the day's bucket with a copy excluding id.
// Callers hold the write lock.
func (ix *EventIndex) removeFromBucket(d Day, id string) {
	old := ix.buckets[d]
	next := make([]model.Event, 0, len(old))
	for _, ev := range old {
		if ev.ID != id {
			next = append(next, ev)
		}
	}
	if len(next) == 0 {
		delete(ix.buckets, d)
		return
	}
	ix.buckets[d] = next
}

func sortEvents(evs []model.Event) {
	sort.Slice(evs, func(i, j int) bool {
		if evs[i].Start.Equal(evs[j].Start) {
			return evs[i].ID < evs[j].ID
		}
		return evs[i].Start.Before(evs[j].Start)
	})
}
