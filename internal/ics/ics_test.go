package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"roundcal/internal/clock"
	"roundcal/internal/index"
	"roundcal/internal/model"
)

func icsPayload(lines ...string) string {
	all := append([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
	}, lines...)
	all = append(all, "END:VCALENDAR")
	return strings.Join(all, "\r\n") + "\r\n"
}

func TestParseSingleEvent(t *testing.T) {
	body := icsPayload(
		"BEGIN:VEVENT",
		"UID:pitch@test",
		"DTSTAMP:20240101T000000Z",
		"DTSTART:20240115T140000Z",
		"DTEND:20240115T153000Z",
		"SUMMARY:Demo Day pitch",
		"LOCATION:Technopark",
		"END:VEVENT",
	)

	events, err := Parse(Source{ID: "test"}, []byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	ev := events[0]
	if ev.UID != "pitch@test" || ev.Summary != "Demo Day pitch" || ev.Location != "Technopark" {
		t.Errorf("fields mismatch: %+v", ev)
	}
	want := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)
	if !ev.Start.Equal(want) {
		t.Errorf("start: got %s, want %s", ev.Start, want)
	}
	if ev.AllDay {
		t.Error("timed event misdetected as all-day")
	}
}

func TestParseSkipsEventWithoutUID(t *testing.T) {
	body := icsPayload(
		"BEGIN:VEVENT",
		"DTSTAMP:20240101T000000Z",
		"DTSTART:20240115T140000Z",
		"SUMMARY:No UID",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:ok@test",
		"DTSTAMP:20240101T000000Z",
		"DTSTART:20240116T140000Z",
		"SUMMARY:Fine",
		"END:VEVENT",
	)

	events, err := Parse(Source{ID: "test"}, []byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 1 || events[0].UID != "ok@test" {
		t.Fatalf("expected only the valid event, got %+v", events)
	}
}

func TestSyncExpandsRecurrenceWithExdate(t *testing.T) {
	body := icsPayload(
		"BEGIN:VEVENT",
		"UID:standup@test",
		"DTSTAMP:20240101T000000Z",
		"DTSTART:20240115T090000Z",
		"DTEND:20240115T091500Z",
		"SUMMARY:Standup",
		"RRULE:FREQ=DAILY;COUNT=5",
		"EXDATE:20240117T090000Z",
		"END:VEVENT",
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	ix := index.New(time.UTC)
	clk := clock.NewFake(time.Date(2024, 1, 14, 12, 0, 0, 0, time.UTC))
	im := NewImporter(NewFetcher(t.TempDir()), ix, clk, 30*24*time.Hour, ImportDefaults{
		ReminderOffsets: []time.Duration{15 * time.Minute},
	})

	n, err := im.Sync(context.Background(), Source{ID: "team", URL: srv.URL})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	// Five daily occurrences minus the excluded Jan 17.
	if n != 4 {
		t.Fatalf("expected 4 imported occurrences, got %d", n)
	}

	if got := ix.EventsOnDay(index.Day{Year: 2024, Month: time.January, Dom: 17}); len(got) != 0 {
		t.Errorf("EXDATE instance must not be indexed, got %v", got)
	}
	got := ix.EventsOnDay(index.Day{Year: 2024, Month: time.January, Dom: 16})
	if len(got) != 1 {
		t.Fatalf("expected 1 event on Jan 16, got %d", len(got))
	}
	ev := got[0]
	if ev.Kind != model.KindEvent || ev.Priority != model.PriorityMedium {
		t.Errorf("import defaults not applied: %+v", ev)
	}
	if len(ev.ReminderOffsets) != 1 || ev.ReminderOffsets[0] != 15*time.Minute {
		t.Errorf("reminder offsets not applied: %v", ev.ReminderOffsets)
	}
	if ev.Duration != 15*time.Minute {
		t.Errorf("duration not preserved: %s", ev.Duration)
	}
}

func TestSyncReplacesRemovedOccurrences(t *testing.T) {
	first := icsPayload(
		"BEGIN:VEVENT",
		"UID:a@test",
		"DTSTAMP:20240101T000000Z",
		"DTSTART:20240116T100000Z",
		"SUMMARY:A",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:b@test",
		"DTSTAMP:20240101T000000Z",
		"DTSTART:20240117T100000Z",
		"SUMMARY:B",
		"END:VEVENT",
	)
	second := icsPayload(
		"BEGIN:VEVENT",
		"UID:a@test",
		"DTSTAMP:20240101T000000Z",
		"DTSTART:20240116T100000Z",
		"SUMMARY:A",
		"END:VEVENT",
	)

	body := first
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	ix := index.New(time.UTC)
	clk := clock.NewFake(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	im := NewImporter(NewFetcher(t.TempDir()), ix, clk, 30*24*time.Hour, ImportDefaults{})

	// A locally created event must survive feed syncs.
	local := model.Event{
		ID: "local-1", Title: "Local", Kind: model.KindPersonal, Priority: model.PriorityLow,
		Start: time.Date(2024, 1, 17, 9, 0, 0, 0, time.UTC),
	}
	if err := ix.Upsert(local); err != nil {
		t.Fatalf("upsert local: %v", err)
	}

	if _, err := im.Sync(context.Background(), Source{ID: "feed", URL: srv.URL}); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if ix.Len() != 3 {
		t.Fatalf("expected 3 events after first sync, got %d", ix.Len())
	}

	body = second
	if _, err := im.Sync(context.Background(), Source{ID: "feed", URL: srv.URL}); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if ix.Len() != 2 {
		t.Fatalf("expected b@test dropped after second sync, got %d events", ix.Len())
	}
	if _, err := ix.Get("local-1"); err != nil {
		t.Errorf("local event must survive sync: %v", err)
	}
}

func TestExportRoundTrip(t *testing.T) {
	events := []model.Event{
		{
			ID:       "e1",
			Title:    "Board meeting",
			Start:    time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
			Duration: time.Hour,
			Kind:     model.KindMeeting,
			Priority: model.PriorityHigh,
			Location: "HQ",
		},
	}

	payload := Export(events)
	parsed, err := Parse(Source{ID: "export"}, []byte(payload))
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(parsed) != 1 {
		t.Fatalf("expected 1 event, got %d", len(parsed))
	}
	got := parsed[0]
	if got.UID != "e1" || got.Summary != "Board meeting" || got.Location != "HQ" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.Start.Equal(events[0].Start) || !got.End.Equal(events[0].End()) {
		t.Errorf("times mismatch: start %s end %s", got.Start, got.End)
	}
}

func TestRedactURL(t *testing.T) {
	got := redactURL("https://cal.example.com/private/feed.ics?token=s3cret")
	if strings.Contains(got, "s3cret") || strings.Contains(got, "feed.ics") {
		t.Errorf("redaction leaked: %s", got)
	}
	if !strings.HasPrefix(got, "https://cal.example.com") {
		t.Errorf("host should remain visible: %s", got)
	}
}
