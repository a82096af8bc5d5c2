package gw

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/calendar/v3"
	chat "google.golang.org/api/chat/v1"
	drive "google.golang.org/api/drive/v3"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	email = "me"

	tokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

	driveFileFields     googleapi.Field = "id,name,mimeType,modifiedTime,owners,webViewLink,size"
	driveFileListFields googleapi.Field = "files(id,name,mimeType,modifiedTime,owners,webViewLink),nextPageToken"
)

// MetadataHeaders are the message headers fetched for metadata reads.
var MetadataHeaders = []string{"From", "To", "Subject", "Date"}

// Version is the app version as reported in RPCs.
var Version = "unspecified"

// Connection holds the API clients built on top of an authorized HTTP client.
type Connection struct {
	authedClient *http.Client
	calendar     *calendar.Service
	gmail        *gmail.Service
	drive        *drive.Service
	chat         *chat.Service
}

func userAgent() string {
	return "gw " + Version
}

// NewConnection creates the Calendar, Gmail, Drive and Chat clients over
// client, which must already attach credentials.
func NewConnection(ctx context.Context, client *http.Client) (*Connection, error) {
	conn := &Connection{authedClient: client}
	return conn, conn.setupClients(ctx)
}

// NewFake creates a connection over a stub client, used for testing.
func NewFake(client *http.Client) (*Connection, error) {
	return NewConnection(context.Background(), client)
}

func (c *Connection) setupClients(ctx context.Context) error {
	opt := option.WithHTTPClient(c.authedClient)

	// Set up calendar client.
	{
		var err error
		c.calendar, err = calendar.NewService(ctx, opt)
		if err != nil {
			return errors.Wrap(err, "creating Calendar client")
		}
		c.calendar.UserAgent = userAgent()
	}
	// Set up gmail client.
	{
		var err error
		c.gmail, err = gmail.NewService(ctx, opt)
		if err != nil {
			return errors.Wrap(err, "creating GMail client")
		}
		c.gmail.UserAgent = userAgent()
	}
	// Set up drive client.
	{
		var err error
		c.drive, err = drive.NewService(ctx, opt)
		if err != nil {
			return errors.Wrap(err, "creating Drive client")
		}
		c.drive.UserAgent = userAgent()
	}
	// Set up chat client.
	{
		var err error
		c.chat, err = chat.NewService(ctx, opt)
		if err != nil {
			return errors.Wrap(err, "creating Chat client")
		}
		c.chat.UserAgent = userAgent()
	}
	return nil
}

func wrapLogRPC(fn string, cb func() error, af string, args ...interface{}) error {
	st := time.Now()
	err := cb()
	logRPC(st, err, fmt.Sprintf("%s(%s)", fn, af), args...)
	return err
}

func logRPC(st time.Time, err error, s string, args ...interface{}) {
	log.Debugf("RPC> %s => %v %v", fmt.Sprintf(s, args...), err, time.Since(st))
}

// EventQuery selects calendar events in a time window.
type EventQuery struct {
	CalendarID string
	TimeMin    time.Time
	TimeMax    time.Time
	MaxResults int64
}

// ListEvents lists single (expanded) events ordered by start time.
func (c *Connection) ListEvents(ctx context.Context, q EventQuery) (*calendar.Events, error) {
	calID := q.CalendarID
	if calID == "" {
		calID = "primary"
	}
	var res *calendar.Events
	err := wrapLogRPC("calendar.Events.List", func() (err error) {
		res, err = c.calendar.Events.List(calID).
			Context(ctx).
			TimeMin(q.TimeMin.Format(time.RFC3339)).
			TimeMax(q.TimeMax.Format(time.RFC3339)).
			MaxResults(q.MaxResults).
			SingleEvents(true).
			OrderBy("startTime").
			Do()
		return err
	}, "calendarID=%q", calID)
	return res, errors.Wrap(err, "listing events")
}

// ListCalendars lists the calendars on the user's calendar list.
func (c *Connection) ListCalendars(ctx context.Context, minAccessRole string) (*calendar.CalendarList, error) {
	var res *calendar.CalendarList
	err := wrapLogRPC("calendar.CalendarList.List", func() (err error) {
		call := c.calendar.CalendarList.List().Context(ctx)
		if minAccessRole != "" {
			call = call.MinAccessRole(minAccessRole)
		}
		res, err = call.Do()
		return err
	}, "minAccessRole=%q", minAccessRole)
	return res, errors.Wrap(err, "listing calendars")
}

// ListLabels lists the user's Gmail labels, system labels included.
func (c *Connection) ListLabels(ctx context.Context) ([]*gmail.Label, error) {
	var res *gmail.ListLabelsResponse
	err := wrapLogRPC("gmail.Users.Labels.List", func() (err error) {
		res, err = c.gmail.Users.Labels.List(email).Context(ctx).Do()
		return err
	}, "")
	if err != nil {
		return nil, errors.Wrap(err, "listing labels")
	}
	return res.Labels, nil
}

// SearchMessages lists message ids matching a Gmail search query.
func (c *Connection) SearchMessages(ctx context.Context, query, pageToken string, max int64) (*gmail.ListMessagesResponse, error) {
	var res *gmail.ListMessagesResponse
	err := wrapLogRPC("gmail.Users.Messages.List", func() (err error) {
		call := c.gmail.Users.Messages.List(email).Context(ctx).MaxResults(max)
		if query != "" {
			call = call.Q(query)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err = call.Do()
		return err
	}, "query=%q", query)
	return res, errors.Wrap(err, "searching messages")
}

// GetMessage fetches one message. Without full only the metadata headers
// are returned.
func (c *Connection) GetMessage(ctx context.Context, id string, full bool) (*gmail.Message, error) {
	var res *gmail.Message
	err := wrapLogRPC("gmail.Users.Messages.Get", func() (err error) {
		call := c.gmail.Users.Messages.Get(email, id).Context(ctx)
		if full {
			call = call.Format("full")
		} else {
			call = call.Format("metadata").MetadataHeaders(MetadataHeaders...)
		}
		res, err = call.Do()
		return err
	}, "id=%q", id)
	return res, errors.Wrapf(err, "getting message %s", id)
}

// FileQuery selects Drive files across all drives.
type FileQuery struct {
	Query     string
	OrderBy   string
	PageToken string
	PageSize  int64
}

// SearchFiles lists Drive files.
func (c *Connection) SearchFiles(ctx context.Context, q FileQuery) (*drive.FileList, error) {
	var res *drive.FileList
	err := wrapLogRPC("drive.Files.List", func() (err error) {
		call := c.drive.Files.List().
			Context(ctx).
			Q(q.Query).
			PageSize(q.PageSize).
			Fields(driveFileListFields).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true)
		if q.OrderBy != "" {
			call = call.OrderBy(q.OrderBy)
		}
		if q.PageToken != "" {
			call = call.PageToken(q.PageToken)
		}
		res, err = call.Do()
		return err
	}, "q=%q", q.Query)
	return res, errors.Wrap(err, "listing files")
}

// GetFile fetches Drive file metadata.
func (c *Connection) GetFile(ctx context.Context, id string) (*drive.File, error) {
	var res *drive.File
	err := wrapLogRPC("drive.Files.Get", func() (err error) {
		res, err = c.drive.Files.Get(id).
			Context(ctx).
			Fields(driveFileFields).
			SupportsAllDrives(true).
			Do()
		return err
	}, "id=%q", id)
	return res, errors.Wrapf(err, "getting file %s", id)
}

// ChatQuery pages through Chat spaces or messages.
type ChatQuery struct {
	PageSize  int64
	PageToken string
	Filter    string
	OrderBy   string
}

// ListSpaces lists Chat spaces the user is a member of.
func (c *Connection) ListSpaces(ctx context.Context, q ChatQuery) (*chat.ListSpacesResponse, error) {
	var res *chat.ListSpacesResponse
	err := wrapLogRPC("chat.Spaces.List", func() (err error) {
		call := c.chat.Spaces.List().Context(ctx).PageSize(q.PageSize)
		if q.Filter != "" {
			call = call.Filter(q.Filter)
		}
		if q.PageToken != "" {
			call = call.PageToken(q.PageToken)
		}
		res, err = call.Do()
		return err
	}, "filter=%q", q.Filter)
	return res, errors.Wrap(err, "listing spaces")
}

// ListChatMessages lists messages in space ("spaces/<id>").
func (c *Connection) ListChatMessages(ctx context.Context, space string, q ChatQuery) (*chat.ListMessagesResponse, error) {
	var res *chat.ListMessagesResponse
	err := wrapLogRPC("chat.Spaces.Messages.List", func() (err error) {
		call := c.chat.Spaces.Messages.List(space).Context(ctx).PageSize(q.PageSize)
		if q.Filter != "" {
			call = call.Filter(q.Filter)
		}
		if q.OrderBy != "" {
			call = call.OrderBy(q.OrderBy)
		}
		if q.PageToken != "" {
			call = call.PageToken(q.PageToken)
		}
		res, err = call.Do()
		return err
	}, "space=%q", space)
	return res, errors.Wrapf(err, "listing messages in %s", space)
}

// TokenInfo contains information about the OAuth token.
type TokenInfo struct {
	Email         string   `json:"email"`
	EmailVerified bool     `json:"email_verified"`
	ExpiresIn     int64    `json:"expires_in"`
	Scope         string   `json:"scope"`
	Scopes        []string `json:"scopes"`
	UserID        string   `json:"user_id"`
	Audience      string   `json:"aud"`
	IssuedTo      string   `json:"issued_to"`
}

// UnmarshalJSON accepts numeric or quoted numeric expires_in values.
func (t *TokenInfo) UnmarshalJSON(data []byte) error {
	type tokenInfoAlias TokenInfo
	aux := struct {
		*tokenInfoAlias
		ExpiresIn     json.RawMessage `json:"expires_in"`
		EmailVerified json.RawMessage `json:"email_verified"`
	}{tokenInfoAlias: (*tokenInfoAlias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	expiresIn, err := parseFlexibleInt64(aux.ExpiresIn)
	if err != nil {
		return errors.Wrap(err, "parsing expires_in")
	}
	t.ExpiresIn = expiresIn
	// tokeninfo reports email_verified as "true" on some endpoints.
	t.EmailVerified = strings.Trim(string(aux.EmailVerified), `"`) == "true"
	return nil
}

func parseFlexibleInt64(data json.RawMessage) (int64, error) {
	if len(data) == 0 || string(data) == "null" {
		return 0, nil
	}

	var numeric int64
	if err := json.Unmarshal(data, &numeric); err == nil {
		return numeric, nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if str == "" {
			return 0, nil
		}
		return strconv.ParseInt(str, 10, 64)
	}

	return 0, errors.Errorf("expected number or quoted number, got %s", string(data))
}

// GetTokenInfo asks the provider which user and scopes the current access
// token carries.
func (c *Connection) GetTokenInfo(ctx context.Context) (*TokenInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenInfoURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating tokeninfo request")
	}

	var resp *http.Response
	err = wrapLogRPC("oauth2.tokeninfo", func() (err error) {
		resp, err = c.authedClient.Do(req)
		return err
	}, "")
	if err != nil {
		return nil, errors.Wrap(err, "fetching token info")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.Errorf("tokeninfo request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var info TokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, errors.Wrap(err, "decoding token info response")
	}
	if info.Scope != "" {
		info.Scopes = strings.Fields(info.Scope)
	}
	return &info, nil
}
