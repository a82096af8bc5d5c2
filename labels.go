package main

import (
	"context"
	"sort"
	"strconv"

	"github.com/wesnick/gw/pkg/gw"
)

// labelOutput is the JSON shape of one Gmail label.
type labelOutput struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Type            string `json:"type"`
	MessagesTotal   int64  `json:"messagesTotal,omitempty"`
	MessagesUnread  int64  `json:"messagesUnread,omitempty"`
	MessageListView string `json:"messageListVisibility,omitempty"`
	LabelListView   string `json:"labelListVisibility,omitempty"`
	Color           string `json:"color,omitempty"`
}

type labelsOutput struct {
	OK     bool          `json:"ok"`
	Action string        `json:"action"`
	Count  int           `json:"count"`
	Labels []labelOutput `json:"labels"`
}

// runGmailLabels lists labels, whose ids are usable in `gmail search
// --query label:<name>`.
func runGmailLabels(ctx context.Context, conn *gw.Connection, systemOnly, userOnly bool, out *outputWriter) error {
	labels, err := conn.ListLabels(ctx)
	if err != nil {
		return err
	}
	out.writeVerbose("Loaded %d labels", len(labels))

	output := labelsOutput{OK: true, Action: "gmail.labels", Labels: []labelOutput{}}
	for _, l := range labels {
		isSystem := l.Type == "system"
		if systemOnly && !isSystem {
			continue
		}
		if userOnly && isSystem {
			continue
		}
		lo := labelOutput{
			ID:              l.Id,
			Name:            l.Name,
			Type:            l.Type,
			MessagesTotal:   l.MessagesTotal,
			MessagesUnread:  l.MessagesUnread,
			MessageListView: l.MessageListVisibility,
			LabelListView:   l.LabelListVisibility,
		}
		if l.Color != nil {
			lo.Color = l.Color.BackgroundColor
		}
		output.Labels = append(output.Labels, lo)
	}
	sort.SliceStable(output.Labels, func(i, j int) bool {
		return output.Labels[i].Name < output.Labels[j].Name
	})
	output.Count = len(output.Labels)

	return out.write(output, func() error {
		headers := []string{"NAME", "TYPE", "UNREAD", "ID"}
		rows := make([][]string, len(output.Labels))
		for i, l := range output.Labels {
			rows[i] = []string{
				l.Name,
				l.Type,
				strconv.FormatInt(l.MessagesUnread, 10),
				l.ID,
			}
		}
		return out.writeTable(headers, rows)
	})
}
