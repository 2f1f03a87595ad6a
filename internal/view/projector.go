// Package view projects the event index into month/week/day grids. The
// projector is a small state machine over a navigation cursor and a view
// granularity; it never fails, it only clamps.
package view

import (
	"sync"
	"time"

	"roundcal/internal/clock"
	"roundcal/internal/index"
	"roundcal/internal/model"
)

// Granularity selects the calendar view mode.
type Granularity string

const (
	GranularityMonth Granularity = "month"
	GranularityWeek  Granularity = "week"
	GranularityDay   Granularity = "day"
)

// ParseGranularity maps a string to a Granularity, defaulting to month
// for anything unknown. Projection input is clamped, never rejected.
func ParseGranularity(s string) Granularity {
	switch Granularity(s) {
	case GranularityWeek:
		return GranularityWeek
	case GranularityDay:
		return GranularityDay
	default:
		return GranularityMonth
	}
}

// Direction moves the cursor by one unit of the current granularity.
type Direction int

const (
	Prev Direction = -1
	Next Direction = 1
)

// Cell is one renderable day in a projected grid.
type Cell struct {
	Date time.Time `json:"date"`
	// InCurrentPeriod is false for the leading/trailing cells a month
	// grid borrows from neighboring months.
	InCurrentPeriod bool          `json:"in_current_period"`
	IsToday         bool          `json:"is_today"`
	Events          []model.Event `json:"events"`
	// OverflowCount is how many events beyond the display cap exist on
	// this day, for a "+N more" affordance. Events always carries the
	// full bucket; trimming is the caller's choice.
	OverflowCount int `json:"overflow_count"`
}

// Grid is the result of a projection.
type Grid struct {
	Granularity Granularity `json:"granularity"`
	Cursor      time.Time   `json:"cursor"`
	Cells       []Cell      `json:"cells"`
}

const defaultDisplayCap = 3

// Projector owns the navigation state and computes grids on demand from
// the shared event index.
type Projector struct {
	mu          sync.Mutex
	ix          *index.EventIndex
	clk         clock.Clock
	weekStart   time.Weekday
	displayCap  int
	granularity Granularity
	cursor      time.Time
}

// Option configures a Projector.
type Option func(*Projector)

// WithWeekStart sets the first day of the week. Only Monday and Sunday
// are meaningful; anything else falls back to Monday.
func WithWeekStart(d time.Weekday) Option {
	return func(p *Projector) {
		if d == time.Sunday {
			p.weekStart = time.Sunday
			return
		}
		p.weekStart = time.Monday
	}
}

// WithDisplayCap sets how many events a cell shows before reporting
// overflow. Non-positive values keep the default of 3.
func WithDisplayCap(n int) Option {
	return func(p *Projector) {
		if n > 0 {
			p.displayCap = n
		}
	}
}

// New creates a Projector cursored at the clock's current date in the
// index's display timezone, in month granularity.
func New(ix *index.EventIndex, clk clock.Clock, opts ...Option) *Projector {
	p := &Projector{
		ix:          ix,
		clk:         clk,
		weekStart:   time.Monday,
		displayCap:  defaultDisplayCap,
		granularity: GranularityMonth,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cursor = dateOnly(clk.Now(), ix.Location())
	return p
}

// Granularity returns the current view mode.
func (p *Projector) Granularity() Granularity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granularity
}

// Cursor returns the current navigation date.
func (p *Projector) Cursor() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// SetGranularity switches the view mode without moving the cursor.
func (p *Projector) SetGranularity(g Granularity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.granularity = ParseGranularity(string(g))
}

// SetCursor jumps the cursor to the calendar date of t.
func (p *Projector) SetCursor(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor = dateOnly(t, p.ix.Location())
}

// JumpToToday moves the cursor to the clock's current date.
func (p *Projector) JumpToToday() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor = dateOnly(p.clk.Now(), p.ix.Location())
}

// Navigate moves the cursor one unit of the current granularity. Month
// moves keep the day-of-month, clamped to the last valid day of the
// target month (Jan 31 -> Feb 29), which makes next-then-prev on such
// dates land on the clamped day rather than the original.
func (p *Projector) Navigate(dir Direction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.granularity {
	case GranularityMonth:
		p.cursor = addMonthClamped(p.cursor, int(dir))
	case GranularityWeek:
		p.cursor = p.cursor.AddDate(0, 0, 7*int(dir))
	case GranularityDay:
		p.cursor = p.cursor.AddDate(0, 0, int(dir))
	}
}

// Project computes the grid for the current cursor and granularity.
// Month grids are always 6x7 = 42 cells for layout stability; week
// grids are 7 cells; day grids are a single cell.
func (p *Projector) Project() Grid {
	p.mu.Lock()
	granularity := p.granularity
	cursor := p.cursor
	p.mu.Unlock()

	loc := p.ix.Location()
	today := index.DayOf(p.clk.Now(), loc)

	var first time.Time
	var count int
	switch granularity {
	case GranularityMonth:
		monthStart := time.Date(cursor.Year(), cursor.Month(), 1, 0, 0, 0, 0, loc)
		first = startOfWeek(monthStart, p.weekStart)
		count = 42
	case GranularityWeek:
		first = startOfWeek(cursor, p.weekStart)
		count = 7
	case GranularityDay:
		first = cursor
		count = 1
	}

	cells := make([]Cell, 0, count)
	for i := 0; i < count; i++ {
		date := first.AddDate(0, 0, i)
		day := index.DayOf(date, loc)
		events := p.ix.EventsOnDay(day)

		overflow := 0
		if len(events) > p.displayCap {
			overflow = len(events) - p.displayCap
		}

		inPeriod := true
		if granularity == GranularityMonth {
			inPeriod = date.Month() == cursor.Month() && date.Year() == cursor.Year()
		}

		cells = append(cells, Cell{
			Date:            date,
			InCurrentPeriod: inPeriod,
			IsToday:         day == today,
			Events:          events,
			OverflowCount:   overflow,
		})
	}

	return Grid{Granularity: granularity, Cursor: cursor, Cells: cells}
}

// Summary is the per-kind event tally for one day, as shown on the
// dashboard sidebar.
type Summary struct {
	Date      time.Time          `json:"date"`
	Total     int                `json:"total"`
	ByKind    map[model.Kind]int `json:"by_kind"`
	Reminders int                `json:"reminders"`
}

// Summarize tallies the events on the calendar date of t.
func (p *Projector) Summarize(t time.Time) Summary {
	loc := p.ix.Location()
	events := p.ix.EventsOnDay(index.DayOf(t, loc))

	s := Summary{
		Date:   dateOnly(t, loc),
		ByKind: make(map[model.Kind]int),
	}
	for _, ev := range events {
		s.Total++
		s.ByKind[ev.Kind]++
		s.Reminders += len(ev.ReminderOffsets)
	}
	return s
}

// dateOnly truncates t to midnight of its calendar date in loc.
func dateOnly(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// startOfWeek returns the week-start day on or before date.
func startOfWeek(date time.Time, weekStart time.Weekday) time.Time {
	back := (int(date.Weekday()) - int(weekStart) + 7) % 7
	return date.AddDate(0, 0, -back)
}

// addMonthClamped moves date by months keeping the day-of-month, clamped
// to the target month's last day instead of rolling over.
func addMonthClamped(date time.Time, months int) time.Time {
	y, m, d := date.Date()
	target := time.Date(y, m, 1, 0, 0, 0, 0, date.Location()).AddDate(0, months, 0)
	last := daysInMonth(target.Year(), target.Month())
	if d > last {
		d = last
	}
	return time.Date(target.Year(), target.Month(), d, 0, 0, 0, 0, date.Location())
}

func daysInMonth(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
