package ics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"roundcal/internal/clock"
	"roundcal/internal/index"
	applog "roundcal/internal/log"
	"roundcal/internal/model"
)

const maxOccurrencesPerEvent = 5000

// idPrefix namespaces imported event ids so a sync can replace a
// source's events without touching locally created ones. The slashes
// also keep imported events out of the single-segment /api/events/{id}
// routes: the feed owns them, and a manual edit would be overwritten on
// the next sync anyway.
const idPrefix = "ics"

// ImportDefaults are applied to every imported event; feeds carry no
// kind, priority, or reminder information of their own.
type ImportDefaults struct {
	Kind            model.Kind
	Priority        model.Priority
	ReminderOffsets []time.Duration
}

// Importer synchronizes ICS subscriptions into the event index.
type Importer struct {
	fetcher  *Fetcher
	ix       *index.EventIndex
	clk      clock.Clock
	horizon  time.Duration
	defaults ImportDefaults
}

// NewImporter creates an Importer expanding recurrences up to horizon
// into the future (and one day into the past, so today's earlier events
// survive a mid-day sync).
func NewImporter(fetcher *Fetcher, ix *index.EventIndex, clk clock.Clock, horizon time.Duration, defaults ImportDefaults) *Importer {
	if horizon <= 0 {
		horizon = 30 * 24 * time.Hour
	}
	if !defaults.Kind.Valid() {
		defaults.Kind = model.KindEvent
	}
	if !defaults.Priority.Valid() {
		defaults.Priority = model.PriorityMedium
	}
	return &Importer{
		fetcher:  fetcher,
		ix:       ix,
		clk:      clk,
		horizon:  horizon,
		defaults: defaults,
	}
}

// SyncAll fetches and imports every source. A failing source is logged
// and skipped; the returned count covers successfully imported events.
func (im *Importer) SyncAll(ctx context.Context, sources []Source) int {
	total := 0
	for _, src := range sources {
		n, err := im.Sync(ctx, src)
		if err != nil {
			applog.Error("ics sync failed", err, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		total += n
	}
	return total
}

// Sync fetches one source and replaces its events in the index.
func (im *Importer) Sync(ctx context.Context, src Source) (int, error) {
	res, err := im.fetcher.Fetch(ctx, src)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}
	parsed, err := Parse(src, res.Body)
	if err != nil {
		return 0, fmt.Errorf("parse: %w", err)
	}

	now := im.clk.Now()
	events := im.expand(parsed, now.Add(-24*time.Hour), now.Add(im.horizon))

	// Replace: drop previously imported events for this source that no
	// longer expand, then upsert the fresh set.
	seen := make(map[string]bool, len(events))
	for _, ev := range events {
		seen[ev.ID] = true
	}
	prefix := fmt.Sprintf("%s/%s/", idPrefix, src.ID)
	for _, old := range im.ix.EventsMatching(func(ev model.Event) bool {
		return strings.HasPrefix(ev.ID, prefix)
	}) {
		if !seen[old.ID] {
			im.ix.Remove(old.ID)
		}
	}

	imported := 0
	for _, ev := range events {
		if err := im.ix.Upsert(ev); err != nil {
			applog.Error("imported event rejected", err, "event_id", ev.ID)
			continue
		}
		imported++
	}
	applog.Info("ics sync completed", "id", src.ID, "imported", imported, "from_cache", res.FromCache)
	return imported, nil
}

// expand turns parsed VEVENTs into concrete index events within
// [from, to), expanding RRULEs, dropping EXDATEs, and applying
// RECURRENCE-ID overrides.
func (im *Importer) expand(parsed []ParsedEvent, from, to time.Time) []model.Event {
	base := make([]ParsedEvent, 0, len(parsed))
	overrides := make(map[string][]ParsedEvent)
	for _, pe := range parsed {
		if pe.IsOverride {
			overrides[pe.UID] = append(overrides[pe.UID], pe)
			continue
		}
		base = append(base, pe)
	}

	var out []model.Event
	for _, pe := range base {
		for _, occ := range occurrences(pe, overrides[pe.UID], from, to) {
			out = append(out, im.toEvent(occ))
		}
	}
	return out
}

// occurrence is one concrete instance of a (possibly recurring) event.
type occurrence struct {
	src      ParsedEvent
	start    time.Time
	duration time.Duration
}

func occurrences(pe ParsedEvent, overrides []ParsedEvent, from, to time.Time) []occurrence {
	dur := pe.End.Sub(pe.Start)
	if dur < 0 {
		dur = 0
	}

	if pe.RawRRule == "" {
		if pe.Start.Before(from) || !pe.Start.Before(to) {
			return nil
		}
		return []occurrence{applyOverride(pe, pe.Start, dur, overrides)}
	}

	r, err := rrule.StrToRRule(pe.RawRRule)
	if err != nil {
		applog.Error("ics rrule unparseable, keeping base instance only", err, "uid", pe.UID, "rrule", pe.RawRRule)
		if pe.Start.Before(from) || !pe.Start.Before(to) {
			return nil
		}
		return []occurrence{applyOverride(pe, pe.Start, dur, overrides)}
	}
	r.DTStart(pe.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range pe.ExDates {
		set.ExDate(ex.In(pe.Start.Location()))
	}

	starts := set.Between(from.In(pe.Start.Location()), to.In(pe.Start.Location()), true)
	if len(starts) > maxOccurrencesPerEvent {
		applog.Error("ics expansion truncated", fmt.Errorf("cap of %d occurrences reached", maxOccurrencesPerEvent), "uid", pe.UID)
		starts = starts[:maxOccurrencesPerEvent]
	}

	out := make([]occurrence, 0, len(starts))
	for _, start := range starts {
		out = append(out, applyOverride(pe, start, dur, overrides))
	}
	return out
}

// applyOverride substitutes the RECURRENCE-ID override matching start,
// if any.
func applyOverride(pe ParsedEvent, start time.Time, dur time.Duration, overrides []ParsedEvent) occurrence {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.In(start.Location()).Equal(start) {
			d := ov.End.Sub(ov.Start)
			if d < 0 {
				d = 0
			}
			return occurrence{src: ov, start: ov.Start, duration: d}
		}
	}
	return occurrence{src: pe, start: start, duration: dur}
}

func (im *Importer) toEvent(occ occurrence) model.Event {
	title := occ.src.Summary
	if title == "" {
		title = "(untitled)"
	}
	return model.Event{
		ID:              fmt.Sprintf("%s/%s/%s/%s", idPrefix, occ.src.Source.ID, occ.src.UID, occ.start.UTC().Format(time.RFC3339)),
		Title:           title,
		Start:           occ.start,
		Duration:        occ.duration,
		Kind:            im.defaults.Kind,
		Priority:        im.defaults.Priority,
		ReminderOffsets: im.defaults.ReminderOffsets,
		Location:        occ.src.Location,
	}
}
