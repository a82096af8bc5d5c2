package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/pkg/errors"
	"google.golang.org/api/gmail/v1"

	"github.com/wesnick/gw/pkg/gw"
)

type messageRefOutput struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type gmailSearchOutput struct {
	OK            bool               `json:"ok"`
	Action        string             `json:"action"`
	Query         string             `json:"query"`
	Count         int                `json:"count"`
	NextPageToken *string            `json:"nextPageToken"`
	Messages      []messageRefOutput `json:"messages"`
}

// todayQuery narrows query to messages received since local midnight.
func todayQuery(query string, now time.Time) string {
	start, _ := dayBounds(now)
	return strings.TrimSpace(query + " after:" + strconv.FormatInt(start.Unix(), 10))
}

func runGmailSearch(ctx context.Context, conn *gw.Connection, query, pageToken string, max int64, today bool, now time.Time, out *outputWriter) error {
	if today {
		query = todayQuery(query, now)
	}

	res, err := conn.SearchMessages(ctx, query, pageToken, clamp(max, 1, 100))
	if err != nil {
		return err
	}

	output := gmailSearchOutput{
		OK:            true,
		Action:        "gmail.search",
		Query:         query,
		Count:         len(res.Messages),
		NextPageToken: nullable(res.NextPageToken),
		Messages:      make([]messageRefOutput, 0, len(res.Messages)),
	}
	for _, m := range res.Messages {
		output.Messages = append(output.Messages, messageRefOutput{ID: m.Id, ThreadID: m.ThreadId})
	}

	return out.write(output, func() error {
		if len(output.Messages) == 0 {
			out.writeMessage("No messages found")
			return nil
		}
		headers := []string{"ID", "THREAD"}
		var rows [][]string
		for _, m := range output.Messages {
			rows = append(rows, []string{m.ID, m.ThreadID})
		}
		if err := out.writeTable(headers, rows); err != nil {
			return err
		}
		if res.NextPageToken != "" {
			out.writeMessage("\nNext page: --page-token " + res.NextPageToken)
		}
		return nil
	})
}

type messageOutput struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId"`
	LabelIDs     []string `json:"labelIds"`
	Snippet      string   `json:"snippet"`
	Subject      string   `json:"subject"`
	From         string   `json:"from"`
	To           string   `json:"to"`
	Date         string   `json:"date"`
	InternalDate int64    `json:"internalDate,omitempty"`
	Body         string   `json:"body,omitempty"`
}

type gmailGetOutput struct {
	OK      bool          `json:"ok"`
	Action  string        `json:"action"`
	Message messageOutput `json:"message"`
}

func runGmailGet(ctx context.Context, conn *gw.Connection, id string, withBody bool, out *outputWriter) error {
	msg, err := conn.GetMessage(ctx, id, withBody)
	if err != nil {
		return err
	}

	headers := messageHeaders(msg.Payload)
	output := gmailGetOutput{
		OK:     true,
		Action: "gmail.get",
		Message: messageOutput{
			ID:           msg.Id,
			ThreadID:     msg.ThreadId,
			LabelIDs:     msg.LabelIds,
			Snippet:      msg.Snippet,
			Subject:      headers["subject"],
			From:         headers["from"],
			To:           headers["to"],
			Date:         headers["date"],
			InternalDate: msg.InternalDate,
		},
	}
	if withBody {
		body, err := messageBody(msg.Payload)
		if err != nil {
			return err
		}
		output.Message.Body = body
	}

	return out.write(output, func() error {
		m := output.Message
		if err := out.writeFields([][2]string{
			{"ID", m.ID},
			{"From", m.From},
			{"To", m.To},
			{"Subject", m.Subject},
			{"Date", m.Date},
			{"Labels", strings.Join(m.LabelIDs, ", ")},
		}); err != nil {
			return err
		}
		if m.Body != "" {
			fmt.Fprintf(out.writer, "\n%s\n", m.Body)
		} else if m.Snippet != "" {
			fmt.Fprintf(out.writer, "\n%s\n", m.Snippet)
		}
		return nil
	})
}

// messageHeaders indexes the top-level headers by lower-cased name. The
// first occurrence of a repeated header wins.
func messageHeaders(part *gmail.MessagePart) map[string]string {
	headers := map[string]string{}
	if part == nil {
		return headers
	}
	for _, h := range part.Headers {
		name := strings.ToLower(h.Name)
		if _, ok := headers[name]; !ok {
			headers[name] = h.Value
		}
	}
	return headers
}

// messageBody renders the HTML body as Markdown, falling back to the plain
// text part.
func messageBody(part *gmail.MessagePart) (string, error) {
	if html := findPart(part, "text/html"); html != "" {
		markdown, err := md.ConvertString(html)
		if err != nil {
			return "", errors.Wrap(err, "converting HTML body to markdown")
		}
		return strings.TrimSpace(markdown), nil
	}
	return strings.TrimSpace(findPart(part, "text/plain")), nil
}

// findPart returns the decoded body of the first part with mimeType,
// searching multipart/alternative children before nested parts.
func findPart(part *gmail.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}

	if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
		decoded, err := decodeBody(part.Body.Data)
		if err != nil {
			return ""
		}
		return decoded
	}

	if part.MimeType == "multipart/alternative" {
		for _, p := range part.Parts {
			if p.MimeType == mimeType {
				if body := findPart(p, mimeType); body != "" {
					return body
				}
			}
		}
	}
	for _, p := range part.Parts {
		if body := findPart(p, mimeType); body != "" {
			return body
		}
	}
	return ""
}

// decodeBody decodes Gmail's URL-safe base64, with or without padding.
func decodeBody(data string) (string, error) {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return "", errors.Wrap(err, "decoding message body")
		}
	}
	return string(b), nil
}
