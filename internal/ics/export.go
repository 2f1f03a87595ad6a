package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"roundcal/internal/model"
)

const productID = "-//roundcal//calendar//EN"

// Export serializes events into an ICS payload for the transport layer.
func Export(events []model.Event) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for _, ev := range events {
		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(time.Now().UTC())
		ve.SetStartAt(ev.Start)
		ve.SetEndAt(ev.End())
		ve.SetSummary(ev.Title)
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
	}
	return cal.Serialize()
}
