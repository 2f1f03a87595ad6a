package index

import (
	"errors"
	"testing"
	"time"

	"roundcal/internal/model"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

func testEvent(id, title string, start time.Time) model.Event {
	return model.Event{
		ID:       id,
		Title:    title,
		Start:    start,
		Duration: 30 * time.Minute,
		Kind:     model.KindMeeting,
		Priority: model.PriorityMedium,
	}
}

func TestUpsertAndEventsOnDayRoundTrip(t *testing.T) {
	ix := New(time.UTC)
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	ev := testEvent("e1", "Investor meeting", start)

	if err := ix.Upsert(ev); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	day := DayOf(start, time.UTC)
	got := ix.EventsOnDay(day)
	if len(got) != 1 || got[0].ID != "e1" {
		t.Fatalf("expected [e1], got %v", got)
	}

	ix.Remove("e1")
	if got := ix.EventsOnDay(day); len(got) != 0 {
		t.Fatalf("expected empty bucket after remove, got %v", got)
	}
}

func TestUpsertValidation(t *testing.T) {
	ix := New(time.UTC)
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		ev   model.Event
	}{
		{"empty title", model.Event{ID: "x", Start: start, Kind: model.KindEvent, Priority: model.PriorityLow}},
		{"negative duration", model.Event{ID: "x", Title: "t", Start: start, Duration: -time.Minute, Kind: model.KindEvent, Priority: model.PriorityLow}},
		{"zero start", model.Event{ID: "x", Title: "t", Kind: model.KindEvent, Priority: model.PriorityLow}},
		{"bad kind", model.Event{ID: "x", Title: "t", Start: start, Kind: "party", Priority: model.PriorityLow}},
		{"bad priority", model.Event{ID: "x", Title: "t", Start: start, Kind: model.KindEvent, Priority: "urgent"}},
		{"negative offset", model.Event{ID: "x", Title: "t", Start: start, Kind: model.KindEvent, Priority: model.PriorityLow, ReminderOffsets: []time.Duration{-time.Minute}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ix.Upsert(tc.ev)
			if !errors.Is(err, model.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	if ix.Len() != 0 {
		t.Fatalf("rejected writes must not be applied, index has %d events", ix.Len())
	}
}

func TestUpsertRebucketsOnMovedStart(t *testing.T) {
	ix := New(time.UTC)
	monday := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	tuesday := time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC)

	if err := ix.Upsert(testEvent("e1", "Standup", monday)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := ix.Upsert(testEvent("e1", "Standup (moved)", tuesday)); err != nil {
		t.Fatalf("upsert moved: %v", err)
	}

	if got := ix.EventsOnDay(DayOf(monday, time.UTC)); len(got) != 0 {
		t.Fatalf("old bucket should be empty, got %v", got)
	}
	got := ix.EventsOnDay(DayOf(tuesday, time.UTC))
	if len(got) != 1 || got[0].Title != "Standup (moved)" {
		t.Fatalf("new bucket mismatch: %v", got)
	}
	if ix.Len() != 1 {
		t.Fatalf("expected 1 event, got %d", ix.Len())
	}
}

func TestEventsOnDaySortedWithIDTiebreak(t *testing.T) {
	ix := New(time.UTC)
	at := time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)

	// Insert out of order; equal starts must come back ordered by id.
	for _, id := range []string{"c", "a", "b"} {
		if err := ix.Upsert(testEvent(id, "Pitch "+id, at)); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	if err := ix.Upsert(testEvent("z", "Early", at.Add(-time.Hour))); err != nil {
		t.Fatalf("upsert z: %v", err)
	}

	got := ix.EventsOnDay(DayOf(at, time.UTC))
	want := []string{"z", "a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestEventsInRangeInclusiveExclusive(t *testing.T) {
	ix := New(time.UTC)
	base := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	events := map[string]time.Time{
		"before":   base.Add(-time.Hour),
		"at-start": base,
		"middle":   base.Add(26 * time.Hour),
		"at-end":   base.Add(48 * time.Hour),
	}
	for id, start := range events {
		if err := ix.Upsert(testEvent(id, id, start)); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	got := ix.EventsInRange(base, base.Add(48*time.Hour))
	want := []string{"at-start", "middle"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}

	if got := ix.EventsInRange(base, base); got != nil {
		t.Errorf("empty range should return nil, got %v", got)
	}
}

func TestMidnightSpanIndexedUnderStartDay(t *testing.T) {
	ix := New(time.UTC)
	ev := testEvent("late", "Late night", time.Date(2024, 1, 15, 23, 30, 0, 0, time.UTC))
	ev.Duration = 2 * time.Hour
	if err := ix.Upsert(ev); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if got := ix.EventsOnDay(Day{2024, time.January, 15}); len(got) != 1 {
		t.Fatalf("expected event under start day, got %v", got)
	}
	if got := ix.EventsOnDay(Day{2024, time.January, 16}); len(got) != 0 {
		t.Fatalf("event must not appear under the following day, got %v", got)
	}
}

func TestDayBucketingUsesDisplayTimezone(t *testing.T) {
	seoul := mustLoc(t, "Asia/Seoul")
	ix := New(seoul)

	// 2024-01-15 20:00 UTC is already 2024-01-16 05:00 in Seoul.
	ev := testEvent("tz", "Cross-zone", time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC))
	if err := ix.Upsert(ev); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if got := ix.EventsOnDay(Day{2024, time.January, 16}); len(got) != 1 {
		t.Fatalf("expected event bucketed under Seoul-local day, got %v", got)
	}
}

func TestGetNotFound(t *testing.T) {
	ix := New(time.UTC)
	_, err := ix.Get("ghost")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestEventsMatchingPredicates(t *testing.T) {
	ix := New(time.UTC)
	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	a := testEvent("a", "Demo Day pitch", base)
	a.Kind = model.KindEvent
	b := testEvent("b", "Board meeting", base.Add(time.Hour))
	b.Location = "Technopark"
	c := testEvent("c", "Report deadline", base.Add(2*time.Hour))
	c.Kind = model.KindDeadline

	for _, ev := range []model.Event{a, b, c} {
		if err := ix.Upsert(ev); err != nil {
			t.Fatalf("upsert %s: %v", ev.ID, err)
		}
	}

	got := ix.EventsMatching(MatchText("technopark"))
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("location match failed: %v", got)
	}

	got = ix.EventsMatching(And(MatchText("d"), MatchKind(model.KindDeadline)))
	if len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("composed predicate failed: %v", got)
	}

	got = ix.EventsMatching(MatchText(""))
	if len(got) != 3 {
		t.Fatalf("empty query should match all, got %d", len(got))
	}
	if got[0].ID != "a" || got[2].ID != "c" {
		t.Fatalf("results must be sorted by start, got %v", got)
	}
}
