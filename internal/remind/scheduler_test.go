package remind

import (
	"errors"
	"testing"
	"time"

	"roundcal/internal/clock"
	"roundcal/internal/index"
	"roundcal/internal/model"
	"roundcal/internal/notify"
)

func newHarness(t *testing.T, now time.Time, opts ...SchedulerOption) (*index.EventIndex, *notify.Center, *Scheduler, *clock.Fake) {
	t.Helper()
	ix := index.New(time.UTC)
	clk := clock.NewFake(now)
	center := notify.NewCenter(clk)
	return ix, center, NewScheduler(ix, center, clk, opts...), clk
}

func upsert(t *testing.T, ix *index.EventIndex, ev model.Event) {
	t.Helper()
	if err := ix.Upsert(ev); err != nil {
		t.Fatalf("upsert %s: %v", ev.ID, err)
	}
}

func meetingAt(id string, start time.Time, offsets ...time.Duration) model.Event {
	return model.Event{
		ID:              id,
		Title:           "Meeting " + id,
		Start:           start,
		Duration:        time.Hour,
		Kind:            model.KindMeeting,
		Priority:        model.PriorityHigh,
		ReminderOffsets: offsets,
	}
}

func TestTicksFireEachOffsetExactlyOnce(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	ix, center, s, clk := newHarness(t, time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC))
	upsert(t, ix, meetingAt("e1", start, 15*time.Minute, time.Hour))

	// 08:00 — nothing due yet.
	s.Tick()
	if got := center.List(notify.FilterAll); len(got) != 0 {
		t.Fatalf("expected no reminders at 08:00, got %d", len(got))
	}

	// 09:00 — exactly the 1h reminder.
	clk.Set(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC))
	s.Tick()
	got := center.List(notify.FilterAll)
	if len(got) != 1 {
		t.Fatalf("expected 1 reminder at 09:00, got %d", len(got))
	}
	if got[0].Title != "Meeting e1 in 1h" {
		t.Errorf("unexpected title %q", got[0].Title)
	}

	// 09:45 — exactly the 15m reminder.
	clk.Set(time.Date(2024, 1, 15, 9, 45, 0, 0, time.UTC))
	s.Tick()
	if got := center.List(notify.FilterAll); len(got) != 2 {
		t.Fatalf("expected 2 reminders at 09:45, got %d", len(got))
	}

	// Repeated later ticks never refire.
	for i := 0; i < 5; i++ {
		clk.Advance(time.Minute)
		s.Tick()
	}
	if got := center.List(notify.FilterAll); len(got) != 2 {
		t.Fatalf("at-most-once violated: got %d reminders", len(got))
	}
}

func TestReminderNotificationShape(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	ix, center, s, _ := newHarness(t, time.Date(2024, 1, 15, 9, 50, 0, 0, time.UTC))
	upsert(t, ix, meetingAt("e1", start, 15*time.Minute))

	s.Tick()
	got := center.List(notify.FilterAll)
	if len(got) != 1 {
		t.Fatalf("expected 1 reminder, got %d", len(got))
	}
	n := got[0]
	if n.Source != model.SourceReminder {
		t.Errorf("expected reminder source, got %s", n.Source)
	}
	if n.EventID != "e1" {
		t.Errorf("expected event link e1, got %q", n.EventID)
	}
	if n.Priority != model.PriorityHigh || !n.ActionRequired {
		t.Error("high-priority event reminders must be important")
	}
}

func TestBackfillCatchesPastDueWithinWindow(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	ix, center, s, _ := newHarness(t, now, WithCatchUp(48*time.Hour))

	// Missed while down: due yesterday, inside the catch-up window.
	upsert(t, ix, meetingAt("recent", now.Add(-20*time.Hour), time.Hour))
	// Too old: outside the window, missed by design.
	upsert(t, ix, meetingAt("ancient", now.Add(-72*time.Hour), time.Hour))

	s.Backfill()
	got := center.List(notify.FilterAll)
	if len(got) != 1 {
		t.Fatalf("expected 1 backfilled reminder, got %d", len(got))
	}
	if got[0].EventID != "recent" {
		t.Errorf("expected recent event, got %s", got[0].EventID)
	}

	// A restart backfill must not duplicate already-fired reminders.
	s.Backfill()
	if got := center.List(notify.FilterAll); len(got) != 1 {
		t.Fatalf("backfill refired: got %d reminders", len(got))
	}
}

func TestClockSkewSkipsTick(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	ix, center, s, clk := newHarness(t, time.Date(2024, 1, 15, 9, 50, 0, 0, time.UTC))
	upsert(t, ix, meetingAt("e1", start, 15*time.Minute))

	s.Tick()
	if got := center.List(notify.FilterAll); len(got) != 1 {
		t.Fatalf("expected 1 reminder, got %d", len(got))
	}

	// Clock jumps backward: the tick is skipped, nothing fires or breaks.
	upsert(t, ix, meetingAt("e2", start, time.Hour))
	clk.Set(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC))
	s.Tick()
	if got := center.List(notify.FilterAll); len(got) != 1 {
		t.Fatalf("skewed tick must not fire, got %d", len(got))
	}

	// Once time is monotonic again, ticking resumes.
	clk.Set(time.Date(2024, 1, 15, 9, 55, 0, 0, time.UTC))
	s.Tick()
	if got := center.List(notify.FilterAll); len(got) != 2 {
		t.Fatalf("expected resume after skew, got %d", len(got))
	}
}

// failingMarkers breaks lookups for one event id to prove per-event
// isolation.
type failingMarkers struct {
	*MemoryMarkers
	badID string
}

func (f *failingMarkers) Fired(eventID string, offset time.Duration) (bool, error) {
	if eventID == f.badID {
		return false, errors.New("marker storage unavailable")
	}
	return f.MemoryMarkers.Fired(eventID, offset)
}

func TestPerEventFailureDoesNotAbortTick(t *testing.T) {
	now := time.Date(2024, 1, 15, 9, 50, 0, 0, time.UTC)
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	markers := &failingMarkers{MemoryMarkers: NewMemoryMarkers(), badID: "bad"}
	ix, center, s, _ := newHarness(t, now, WithMarkers(markers))

	upsert(t, ix, meetingAt("bad", start, 15*time.Minute))
	upsert(t, ix, meetingAt("good", start, 15*time.Minute))

	s.Tick()
	got := center.List(notify.FilterAll)
	if len(got) != 1 || got[0].EventID != "good" {
		t.Fatalf("expected only the healthy event to fire, got %v", got)
	}
}

func TestStartRejectsBadTickSpec(t *testing.T) {
	_, _, s, _ := newHarness(t, time.Now(), WithTickSpec("not a cron spec"))
	if err := s.Start(); err == nil {
		s.Stop()
		t.Fatal("expected error for invalid tick spec")
	}
}

func TestStartStopRestart(t *testing.T) {
	_, center, s, clk := newHarness(t, time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
		WithTickSpec("@every 1h")) // ticks driven manually below

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Fatal("double start must fail")
	}
	s.Stop()

	// Restart triggers another backfill against the shared markers.
	clk.Advance(time.Minute)
	if err := s.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	s.Stop()
	_ = center
}

func TestFormatOffset(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{15 * time.Minute, "15m"},
		{time.Hour, "1h"},
		{90 * time.Minute, "90m"},
		{24 * time.Hour, "1d"},
		{48 * time.Hour, "2d"},
	}
	for _, tc := range cases {
		if got := FormatOffset(tc.d); got != tc.want {
			t.Errorf("FormatOffset(%s) = %q, want %q", tc.d, got, tc.want)
		}
	}
}
