package main

import (
	"context"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/wesnick/gw/pkg/gw"
	"github.com/wesnick/gw/pkg/gw/gcal"
)

const defaultCalendarWindow = 7 * 24 * time.Hour

type calendarListOptions struct {
	from       string
	to         string
	calendarID string
	max        int64
	today      bool
	ics        bool
}

type eventTimeOutput struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type eventOutput struct {
	ID          string           `json:"id"`
	Status      string           `json:"status,omitempty"`
	Summary     string           `json:"summary"`
	Description string           `json:"description,omitempty"`
	Start       *eventTimeOutput `json:"start,omitempty"`
	End         *eventTimeOutput `json:"end,omitempty"`
	HTMLLink    string           `json:"htmlLink,omitempty"`
}

type calendarListOutput struct {
	OK     bool          `json:"ok"`
	Action string        `json:"action"`
	From   string        `json:"from"`
	To     string        `json:"to"`
	Count  int           `json:"count"`
	Events []eventOutput `json:"events"`
}

// calendarWindow resolves the listing window. today wins over explicit
// bounds; a missing end defaults to a week after the start.
func calendarWindow(opts calendarListOptions, now time.Time) (time.Time, time.Time, error) {
	if opts.today {
		start, end := dayBounds(now)
		return start, end, nil
	}

	from := now
	if opts.from != "" {
		t, err := parseTimeFlag("from", opts.from, now.Location())
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	to := from.Add(defaultCalendarWindow)
	if opts.to != "" {
		t, err := parseTimeFlag("to", opts.to, now.Location())
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}
	return from, to, nil
}

func runCalendarList(ctx context.Context, conn *gw.Connection, opts calendarListOptions, now time.Time, out *outputWriter) error {
	from, to, err := calendarWindow(opts, now)
	if err != nil {
		return err
	}

	res, err := conn.ListEvents(ctx, gw.EventQuery{
		CalendarID: opts.calendarID,
		TimeMin:    from,
		TimeMax:    to,
		MaxResults: clamp(opts.max, 1, 250),
	})
	if err != nil {
		return err
	}
	out.writeVerbose("Fetched %d events between %s and %s", len(res.Items), from.Format(time.RFC3339), to.Format(time.RFC3339))

	if opts.ics {
		return gcal.WriteICS(out.writer, res.Items, now)
	}

	output := calendarListOutput{
		OK:     true,
		Action: "calendar.list",
		From:   from.Format(time.RFC3339),
		To:     to.Format(time.RFC3339),
		Count:  len(res.Items),
		Events: make([]eventOutput, 0, len(res.Items)),
	}
	for _, ev := range res.Items {
		output.Events = append(output.Events, eventOutput{
			ID:          ev.Id,
			Status:      ev.Status,
			Summary:     ev.Summary,
			Description: ev.Description,
			Start:       newEventTime(ev.Start),
			End:         newEventTime(ev.End),
			HTMLLink:    ev.HtmlLink,
		})
	}

	return out.write(output, func() error {
		if len(output.Events) == 0 {
			out.writeMessage("No events found")
			return nil
		}
		headers := []string{"START", "SUMMARY", "STATUS", "ID"}
		var rows [][]string
		for _, ev := range output.Events {
			rows = append(rows, []string{
				ev.Start.display(),
				truncateString(ev.Summary, 50),
				ev.Status,
				ev.ID,
			})
		}
		return out.writeTable(headers, rows)
	})
}

func newEventTime(t *calendar.EventDateTime) *eventTimeOutput {
	if t == nil {
		return nil
	}
	return &eventTimeOutput{DateTime: t.DateTime, Date: t.Date, TimeZone: t.TimeZone}
}

func (t *eventTimeOutput) display() string {
	if t == nil {
		return ""
	}
	if t.DateTime != "" {
		if parsed, err := time.Parse(time.RFC3339, t.DateTime); err == nil {
			return parsed.Format("2006-01-02 15:04")
		}
		return t.DateTime
	}
	return t.Date + " (all day)"
}
