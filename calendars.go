package main

import (
	"context"

	"github.com/wesnick/gw/pkg/gw"
)

// calendarOutput represents a calendar for JSON output.
type calendarOutput struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	TimeZone    string `json:"timeZone,omitempty"`
	Primary     bool   `json:"primary,omitempty"`
	AccessRole  string `json:"accessRole,omitempty"`
}

type calendarsOutput struct {
	OK        bool             `json:"ok"`
	Action    string           `json:"action"`
	Count     int              `json:"count"`
	Calendars []calendarOutput `json:"calendars"`
}

// runCalendarCalendars lists the calendars the user can read, for use with
// `calendar list --calendar-id`.
func runCalendarCalendars(ctx context.Context, conn *gw.Connection, minAccessRole string, out *outputWriter) error {
	out.writeVerbose("Fetching calendars...")

	resp, err := conn.ListCalendars(ctx, minAccessRole)
	if err != nil {
		return err
	}

	output := calendarsOutput{
		OK:        true,
		Action:    "calendar.calendars",
		Count:     len(resp.Items),
		Calendars: make([]calendarOutput, len(resp.Items)),
	}
	for i, cal := range resp.Items {
		output.Calendars[i] = calendarOutput{
			ID:          cal.Id,
			Summary:     cal.Summary,
			Description: cal.Description,
			TimeZone:    cal.TimeZone,
			Primary:     cal.Primary,
			AccessRole:  cal.AccessRole,
		}
	}

	return out.write(output, func() error {
		headers := []string{"SUMMARY", "ACCESS", "TIMEZONE", "ID"}
		rows := make([][]string, len(output.Calendars))
		for i, cal := range output.Calendars {
			summary := cal.Summary
			if cal.Primary {
				summary = summary + " (primary)"
			}
			rows[i] = []string{
				truncateString(summary, 40),
				cal.AccessRole,
				cal.TimeZone,
				cal.ID,
			}
		}
		return out.writeTable(headers, rows)
	})
}
