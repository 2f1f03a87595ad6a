// Package remind computes and dispatches time-relative reminders. A
// cron-driven tick scans the event index over a look-ahead window and
// emits one notification per due (event, offset) pair.
package remind

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"roundcal/internal/clock"
	"roundcal/internal/index"
	applog "roundcal/internal/log"
	"roundcal/internal/model"
	"roundcal/internal/notify"
)

const (
	defaultTickSpec  = "@every 30s"
	defaultLookAhead = 24 * time.Hour
	defaultCatchUp   = 7 * 24 * time.Hour
)

// Scheduler scans for due reminders on a fixed interval. Ticks never
// overlap; a tick observing the clock moving backward is skipped.
type Scheduler struct {
	ix      *index.EventIndex
	center  *notify.Center
	clk     clock.Clock
	markers MarkerStore

	tickSpec  string
	lookAhead time.Duration
	catchUp   time.Duration

	cr       *cron.Cron
	tickGate chan struct{}
	lastTick time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickSpec sets the cron spec driving ticks (default "@every 30s").
func WithTickSpec(spec string) SchedulerOption {
	return func(s *Scheduler) {
		if spec != "" {
			s.tickSpec = spec
		}
	}
}

// WithLookAhead sets the forward window scanned each tick. It should be
// at least as large as the largest configured reminder offset.
func WithLookAhead(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.lookAhead = d
		}
	}
}

// WithCatchUp sets the backward window scanned once on start to backfill
// reminders that came due while the scheduler was down.
func WithCatchUp(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.catchUp = d
		}
	}
}

// WithMarkers replaces the in-memory fired-marker store, typically with
// a persistent one so at-most-once survives restarts.
func WithMarkers(m MarkerStore) SchedulerOption {
	return func(s *Scheduler) {
		if m != nil {
			s.markers = m
		}
	}
}

// NewScheduler wires a scheduler to the shared index and center.
func NewScheduler(ix *index.EventIndex, center *notify.Center, clk clock.Clock, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		ix:        ix,
		center:    center,
		clk:       clk,
		markers:   NewMemoryMarkers(),
		tickSpec:  defaultTickSpec,
		lookAhead: defaultLookAhead,
		catchUp:   defaultCatchUp,
		tickGate:  make(chan struct{}, 1),
	}
	s.tickGate <- struct{}{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start performs the catch-up backfill and begins ticking. It may be
// called again after Stop; the backfill then covers the downtime.
func (s *Scheduler) Start() error {
	if s.cr != nil {
		return fmt.Errorf("scheduler already started")
	}

	s.Backfill()

	cr := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{})))
	if _, err := cr.AddFunc(s.tickSpec, func() { s.Tick() }); err != nil {
		return fmt.Errorf("invalid tick spec %q: %w", s.tickSpec, err)
	}
	cr.Start()
	s.cr = cr
	applog.Info("reminder scheduler started", "tick", s.tickSpec, "look_ahead", s.lookAhead)
	return nil
}

// Stop schedules no further ticks and waits for a running tick to
// finish before returning.
func (s *Scheduler) Stop() {
	if s.cr == nil {
		return
	}
	ctx := s.cr.Stop()
	<-ctx.Done()
	s.cr = nil
	applog.Info("reminder scheduler stopped")
}

// Backfill scans a long backward window once so reminders that came due
// during downtime still fire. Reminders older than the catch-up window
// are missed by design.
func (s *Scheduler) Backfill() {
	now := s.clk.Now()
	s.scan(now.Add(-s.catchUp), now.Add(s.lookAhead), now)
	applog.Info("reminder backfill completed", "catch_up", s.catchUp)
}

// Tick runs one scheduler pass at the clock's current instant. Ticks
// are serialized; a second caller skips instead of waiting.
func (s *Scheduler) Tick() {
	select {
	case <-s.tickGate:
	default:
		applog.Debug("tick already running, skipping")
		return
	}
	defer func() { s.tickGate <- struct{}{} }()

	now := s.clk.Now()
	if !s.lastTick.IsZero() && now.Before(s.lastTick) {
		applog.Info("clock skew detected, skipping tick", "now", now, "last_tick", s.lastTick)
		return
	}
	s.lastTick = now

	s.scan(now, now.Add(s.lookAhead), now)
}

// scan emits a reminder for every unfired (event, offset) pair whose
// fire instant is at or before now, looking at events starting in
// [from, to). A failure on one event never aborts the others.
func (s *Scheduler) scan(from, to, now time.Time) {
	for _, ev := range s.ix.EventsInRange(from, to) {
		if err := s.fireDue(ev, now); err != nil {
			applog.Error("reminder emission failed", err, "event_id", ev.ID)
		}
	}
}

func (s *Scheduler) fireDue(ev model.Event, now time.Time) error {
	for _, offset := range ev.ReminderOffsets {
		fireAt := ev.Start.Add(-offset)
		if fireAt.After(now) {
			continue
		}

		fired, err := s.markers.Fired(ev.ID, offset)
		if err != nil {
			return fmt.Errorf("marker lookup: %w", err)
		}
		if fired {
			continue
		}

		if _, err := s.center.Raise(reminderNotification(ev, offset, now)); err != nil {
			return fmt.Errorf("raise reminder: %w", err)
		}
		// Mark after the raise succeeded; a marker failure here means a
		// possible duplicate on restart rather than a lost reminder.
		if err := s.markers.MarkFired(ev.ID, offset, now); err != nil {
			return fmt.Errorf("mark fired: %w", err)
		}
		applog.Info("reminder fired", "event_id", ev.ID, "offset", offset, "fire_at", fireAt)
	}
	return nil
}

func reminderNotification(ev model.Event, offset time.Duration, now time.Time) model.Notification {
	return model.Notification{
		Source:         model.SourceReminder,
		Title:          fmt.Sprintf("%s in %s", ev.Title, FormatOffset(offset)),
		Message:        fmt.Sprintf("Starts at %s", ev.Start.Format("15:04")),
		Priority:       ev.Priority,
		ActionRequired: ev.Priority == model.PriorityHigh,
		EventID:        ev.ID,
		CreatedAt:      now,
	}
}

// FormatOffset renders a reminder offset the way the UI labels it:
// whole days as "1d", whole hours as "2h", otherwise minutes.
func FormatOffset(d time.Duration) string {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	default:
		return fmt.Sprintf("%dm", d/time.Minute)
	}
}

// cronLogger adapts the application logger to cron's Logger interface.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	applog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	applog.Error("cron: "+msg, err, kv...)
}
