package gcal

import (
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/emersion/go-ical"
	"google.golang.org/api/calendar/v3"
)

// ProductID identifies gw as the producer of exported calendars.
const ProductID = "-//wesnick//gw//EN"

// WriteICS encodes events as a single VCALENDAR. Events without a start are
// skipped. stamp is used as DTSTAMP for every event.
func WriteICS(w io.Writer, events []*calendar.Event, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)

	for _, ev := range events {
		vevent, err := toVEvent(ev, stamp)
		if err != nil {
			return fmt.Errorf("converting event %s: %w", ev.Id, err)
		}
		if vevent == nil {
			continue
		}
		cal.Children = append(cal.Children, vevent.Component)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encoding calendar: %w", err)
	}
	return nil
}

// toVEvent converts a Calendar API event to a VEVENT.
func toVEvent(ev *calendar.Event, stamp time.Time) (*ical.Event, error) {
	if ev.Start == nil {
		return nil, nil
	}

	vevent := ical.NewEvent()
	uid := ev.ICalUID
	if uid == "" {
		uid = ev.Id
	}
	vevent.Props.SetText(ical.PropUID, uid)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())

	if err := setEventTime(vevent, ical.PropDateTimeStart, ev.Start); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	if ev.End != nil {
		if err := setEventTime(vevent, ical.PropDateTimeEnd, ev.End); err != nil {
			return nil, fmt.Errorf("end: %w", err)
		}
	}

	if ev.Summary != "" {
		vevent.Props.SetText(ical.PropSummary, ev.Summary)
	}
	if ev.Description != "" {
		vevent.Props.SetText(ical.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		vevent.Props.SetText(ical.PropLocation, ev.Location)
	}
	if ev.Status != "" {
		vevent.Props.SetText(ical.PropStatus, strings.ToUpper(ev.Status))
	}
	if ev.HtmlLink != "" {
		vevent.Props.SetText(ical.PropURL, ev.HtmlLink)
	}
	return vevent, nil
}

// setEventTime writes an all-day date or a UTC date-time.
func setEventTime(vevent *ical.Event, name string, t *calendar.EventDateTime) error {
	if t.Date != "" {
		d, err := time.Parse("2006-01-02", t.Date)
		if err != nil {
			return err
		}
		vevent.Props.SetDate(name, d)
		return nil
	}
	dt, err := time.Parse(time.RFC3339, t.DateTime)
	if err != nil {
		return err
	}
	vevent.Props.SetDateTime(name, dt.UTC())
	return nil
}
