package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	chat "google.golang.org/api/chat/v1"

	"github.com/wesnick/gw/pkg/gw"
)

type spaceOutput struct {
	Name                string `json:"name"`
	DisplayName         string `json:"displayName"`
	SpaceType           string `json:"spaceType"`
	SpaceThreadingState string `json:"spaceThreadingState,omitempty"`
	CreateTime          string `json:"createTime,omitempty"`
	LastActiveTime      string `json:"lastActiveTime,omitempty"`
	MembershipCount     *membershipCount `json:"membershipCount"`
	SingleUserBotDm     bool             `json:"singleUserBotDm"`
	ExternalUserAllowed bool             `json:"externalUserAllowed"`
}

type membershipCount struct {
	JoinedDirectHumanUserCount int64 `json:"joinedDirectHumanUserCount"`
	JoinedGroupCount           int64 `json:"joinedGroupCount"`
}

type chatSpacesOutput struct {
	OK            bool          `json:"ok"`
	Action        string        `json:"action"`
	Count         int           `json:"count"`
	NextPageToken *string       `json:"nextPageToken"`
	Spaces        []spaceOutput `json:"spaces"`
}

func runChatSpaces(ctx context.Context, conn *gw.Connection, max int64, pageToken, filter string, out *outputWriter) error {
	res, err := conn.ListSpaces(ctx, gw.ChatQuery{
		PageSize:  clamp(max, 1, 1000),
		PageToken: pageToken,
		Filter:    filter,
	})
	if err != nil {
		return err
	}

	output := chatSpacesOutput{
		OK:            true,
		Action:        "chat.spaces",
		Count:         len(res.Spaces),
		NextPageToken: nullable(res.NextPageToken),
		Spaces:        make([]spaceOutput, 0, len(res.Spaces)),
	}
	for _, s := range res.Spaces {
		so := spaceOutput{
			Name:                s.Name,
			DisplayName:         s.DisplayName,
			SpaceType:           s.SpaceType,
			SpaceThreadingState: s.SpaceThreadingState,
			CreateTime:          s.CreateTime,
			LastActiveTime:      s.LastActiveTime,
			SingleUserBotDm:     s.SingleUserBotDm,
			ExternalUserAllowed: s.ExternalUserAllowed,
		}
		if s.MembershipCount != nil {
			so.MembershipCount = &membershipCount{
				JoinedDirectHumanUserCount: s.MembershipCount.JoinedDirectHumanUserCount,
				JoinedGroupCount:           s.MembershipCount.JoinedGroupCount,
			}
		}
		output.Spaces = append(output.Spaces, so)
	}

	return out.write(output, func() error {
		if len(output.Spaces) == 0 {
			out.writeMessage("No spaces found")
			return nil
		}
		headers := []string{"NAME", "DISPLAY NAME", "TYPE", "MEMBERS"}
		var rows [][]string
		for _, s := range output.Spaces {
			members := ""
			if s.MembershipCount != nil {
				members = strconv.FormatInt(s.MembershipCount.JoinedDirectHumanUserCount, 10)
			}
			rows = append(rows, []string{s.Name, truncateString(s.DisplayName, 40), s.SpaceType, members})
		}
		return out.writeTable(headers, rows)
	})
}

type chatMessagesOptions struct {
	space     string
	max       int64
	pageToken string
	filter    string
	orderBy   string
	today     bool
}

type chatMessageOutput struct {
	Name           string  `json:"name"`
	CreateTime     string  `json:"createTime"`
	LastUpdateTime string  `json:"lastUpdateTime,omitempty"`
	Sender         *string `json:"sender"`
	Thread         *string `json:"thread"`
	Text           string  `json:"text"`
	ArgumentText   string  `json:"argumentText,omitempty"`
}

type chatMessagesOutput struct {
	OK            bool                `json:"ok"`
	Action        string              `json:"action"`
	Space         string              `json:"space"`
	Count         int                 `json:"count"`
	NextPageToken *string             `json:"nextPageToken"`
	Messages      []chatMessageOutput `json:"messages"`
}

// todayFilter restricts filter to messages created since local midnight.
func todayFilter(filter string, now time.Time) string {
	start, _ := dayBounds(now)
	term := fmt.Sprintf("createTime > %q", start.UTC().Format(time.RFC3339))
	if strings.TrimSpace(filter) == "" {
		return term
	}
	return filter + " AND " + term
}

func runChatMessages(ctx context.Context, conn *gw.Connection, opts chatMessagesOptions, now time.Time, out *outputWriter) error {
	space := strings.TrimSpace(opts.space)
	if space == "" {
		return errors.New("--space is required (spaces/<id>)")
	}
	if !strings.HasPrefix(space, "spaces/") {
		space = "spaces/" + space
	}

	filter := opts.filter
	if opts.today {
		filter = todayFilter(filter, now)
	}

	res, err := conn.ListChatMessages(ctx, space, gw.ChatQuery{
		PageSize:  clamp(opts.max, 1, 1000),
		PageToken: opts.pageToken,
		Filter:    filter,
		OrderBy:   opts.orderBy,
	})
	if err != nil {
		return err
	}

	output := chatMessagesOutput{
		OK:            true,
		Action:        "chat.messages",
		Space:         space,
		Count:         len(res.Messages),
		NextPageToken: nullable(res.NextPageToken),
		Messages:      make([]chatMessageOutput, 0, len(res.Messages)),
	}
	for _, m := range res.Messages {
		output.Messages = append(output.Messages, newChatMessageOutput(m))
	}

	return out.write(output, func() error {
		if len(output.Messages) == 0 {
			out.writeMessage("No messages found")
			return nil
		}
		headers := []string{"CREATED", "SENDER", "TEXT"}
		var rows [][]string
		for _, m := range output.Messages {
			sender := ""
			if m.Sender != nil {
				sender = *m.Sender
			}
			text := strings.ReplaceAll(m.Text, "\n", " ")
			rows = append(rows, []string{m.CreateTime, sender, truncateString(text, 60)})
		}
		return out.writeTable(headers, rows)
	})
}

func newChatMessageOutput(m *chat.Message) chatMessageOutput {
	mo := chatMessageOutput{
		Name:           m.Name,
		CreateTime:     m.CreateTime,
		LastUpdateTime: m.LastUpdateTime,
		Text:           m.Text,
		ArgumentText:   m.ArgumentText,
	}
	if m.Sender != nil {
		mo.Sender = nullable(m.Sender.Name)
	}
	if m.Thread != nil {
		mo.Thread = nullable(m.Thread.Name)
	}
	return mo
}
