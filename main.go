package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"
	log "github.com/sirupsen/logrus"

	"github.com/wesnick/gw/pkg/gw"
)

var version = "dev"

type CLI struct {
	ConfigDir       string `name:"config-dir" help:"Config directory (default: $XDG_CONFIG_HOME/gworkspace)" env:"GWORKSPACE_CONFIG_DIR"`
	Credentials     string `help:"OAuth client credentials file used in local mode" env:"GOOGLE_OAUTH_CREDENTIALS"`
	AuthMode        string `name:"auth-mode" help:"Authorization mode for this invocation (managed or local)"`
	DefaultAuthMode string `name:"default-auth-mode" hidden:"" env:"GW_AUTH_MODE"`
	ClientID        string `name:"client-id" hidden:"" env:"WORKSPACE_CLIENT_ID"`
	RelayURL        string `name:"relay-url" hidden:"" env:"WORKSPACE_CLOUD_FUNCTION_URL"`
	Output          string `short:"o" enum:"json,yaml,text" default:"json" help:"Output format (json, yaml, text)"`
	Verbose         bool   `help:"Verbose logging"`
	NoColor         bool   `help:"Disable colored output"`

	Version struct{} `cmd:"" help:"Show version"`

	Auth struct {
		Login struct {
			NoOpen bool `name:"no-open" help:"Print the consent URL without opening a browser"`
		} `cmd:"" help:"Sign in and store a token"`

		Status struct {
			Diff bool `help:"Show a diff between requested and granted scopes"`
		} `cmd:"" help:"Show the stored token"`

		Logout struct{} `cmd:"" help:"Remove the stored token"`

		TokenInfo struct{} `cmd:"" name:"token-info" help:"Show OAuth token information and scopes"`
	} `cmd:"" help:"Authentication operations"`

	Calendar struct {
		List struct {
			Day        string `arg:"" optional:"" help:"Pass 'today' to list the current day"`
			From       string `help:"Start time (RFC3339 or YYYY-MM-DD, default: now)"`
			To         string `help:"End time (RFC3339 or YYYY-MM-DD, default: from + 7 days)"`
			CalendarID string `name:"calendar-id" default:"primary" help:"Calendar ID"`
			Max        int64  `default:"20" help:"Maximum events to return (1-250)"`
			Today      bool   `help:"Limit to the current local day"`
			ICS        bool   `name:"ics" help:"Write events as iCalendar"`
		} `cmd:"" help:"List upcoming events"`

		Calendars struct {
			MinAccessRole string `name:"min-access-role" help:"Minimum access role (freeBusyReader, reader, writer, owner)"`
		} `cmd:"" help:"List accessible calendars"`
	} `cmd:"" help:"Google Calendar operations"`

	Gmail struct {
		Search struct {
			Query     string `short:"q" help:"Gmail search query"`
			Max       int64  `default:"20" help:"Maximum messages to return (1-100)"`
			PageToken string `name:"page-token" help:"Page token from a previous search"`
			Today     bool   `help:"Only messages received today"`
		} `cmd:"" help:"Search messages"`

		Get struct {
			ID   string `name:"id" required:"" help:"Message ID"`
			Body bool   `help:"Include the message body as Markdown"`
		} `cmd:"" help:"Get message metadata"`

		List struct {
			Day string `arg:"" help:"Only 'today' is supported"`
		} `cmd:"" help:"List messages for a day"`

		Labels struct {
			System   bool `help:"System labels only"`
			UserOnly bool `help:"User labels only" name:"user-only"`
		} `cmd:"" help:"List labels"`
	} `cmd:"" help:"Gmail operations"`

	Drive struct {
		Search struct {
			Query     string `short:"q" default:"trashed = false" help:"Drive query"`
			Max       int64  `default:"20" help:"Maximum files to return (1-200)"`
			PageToken string `name:"page-token" help:"Page token from a previous search"`
		} `cmd:"" help:"Search files"`

		Recent struct {
			Max int64 `default:"20" help:"Maximum files to return (1-200)"`
		} `cmd:"" help:"List recently modified files"`

		Get struct {
			ID string `name:"id" required:"" help:"File ID"`
		} `cmd:"" help:"Get file metadata"`
	} `cmd:"" help:"Google Drive operations"`

	Chat struct {
		Spaces struct {
			Max       int64  `default:"20" help:"Maximum spaces to return (1-1000)"`
			PageToken string `name:"page-token" help:"Page token from a previous call"`
			Filter    string `help:"Spaces filter"`
		} `cmd:"" help:"List spaces"`

		Messages struct {
			Space     string `required:"" help:"Space name (spaces/<id>)"`
			Max       int64  `default:"20" help:"Maximum messages to return (1-1000)"`
			PageToken string `name:"page-token" help:"Page token from a previous call"`
			Filter    string `help:"Messages filter"`
			OrderBy   string `name:"order-by" help:"Sort order, e.g. 'createTime desc'"`
			Today     bool   `help:"Only messages created today"`
		} `cmd:"" help:"List messages in a space"`

		List struct {
			Day   string `arg:"" help:"Only 'today' is supported"`
			Space string `required:"" help:"Space name (spaces/<id>)"`
		} `cmd:"" help:"List a space's messages for a day"`
	} `cmd:"" help:"Google Chat operations"`

	Time struct {
		Now  struct{} `cmd:"" help:"Show the current time"`
		Date struct{} `cmd:"" help:"Show the current date"`
		Zone struct{} `cmd:"" help:"Show the local time zone"`
	} `cmd:"" help:"Local clock helpers"`

	CalendarGetEvents struct {
		TimeMin    string `name:"timeMin"`
		TimeMax    string `name:"timeMax"`
		MaxResults int64  `name:"maxResults" default:"20"`
		CalendarID string `name:"calendarId" default:"primary"`
	} `cmd:"" name:"calendar_getEvents" hidden:""`

	GmailSearch struct {
		Query     string `name:"query"`
		Max       int64  `name:"maxResults" default:"20"`
		PageToken string `name:"pageToken"`
	} `cmd:"" name:"gmail_search" hidden:""`

	DriveSearch struct {
		Query     string `name:"query" default:"trashed = false"`
		Max       int64  `name:"pageSize" default:"20"`
		PageToken string `name:"pageToken"`
	} `cmd:"" name:"drive_search" hidden:""`
}

func (c *CLI) settings() gw.Settings {
	return gw.Settings{
		ConfigDir:       c.ConfigDir,
		CredentialsPath: c.Credentials,
		DefaultMode:     c.DefaultAuthMode,
		ClientID:        c.ClientID,
		RelayURL:        c.RelayURL,
	}
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("gw"),
		kong.Description("Read-only Google Workspace client"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	configureLogging(cli.Verbose)
	gw.Version = version
	out := newOutputWriter(cli.Output, cli.NoColor, cli.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, &cli, kctx.Command(), out)
	stop()
	os.Exit(code)
}

func configureLogging(verbose bool) {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	if verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.WarnLevel)
	}
}

// run executes command and returns the process exit code.
func run(ctx context.Context, cli *CLI, command string, out *outputWriter) int {
	now := time.Now()

	// Commands that need neither config nor credentials.
	switch command {
	case "version":
		return exitOn(out, 2, runVersion(out))
	case "time now":
		return exitOn(out, 2, runTimeNow(now, out))
	case "time date":
		return exitOn(out, 2, runTimeDate(now, out))
	case "time zone":
		return exitOn(out, 2, runTimeZone(now, out))
	}

	resource := resourceCommand(cli, command, now, out)
	isAuth := command == "auth login" || command == "auth status" || command == "auth logout"
	if resource == nil && !isAuth {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		return 1
	}

	cfg, err := gw.LoadConfig(cli.settings())
	if err != nil {
		out.writeError(err)
		return 3
	}
	authz := gw.NewAuthorizer(cfg)

	switch command {
	case "auth login":
		return exitOn(out, 3, runAuthLogin(ctx, authz, cli.AuthMode, cli.Auth.Login.NoOpen, out))
	case "auth status":
		return exitOn(out, 2, runAuthStatus(authz, cli.AuthMode, cli.Auth.Status.Diff, out))
	case "auth logout":
		return exitOn(out, 2, runAuthLogout(authz, out))
	}

	conn, err := getConnection(ctx, authz, cli.AuthMode)
	if err != nil {
		out.writeError(err)
		return 3
	}
	return exitOn(out, 2, resource(ctx, conn))
}

func exitOn(out *outputWriter, code int, err error) int {
	if err != nil {
		out.writeError(err)
		return code
	}
	return 0
}

// getConnection authorizes in the requested mode and builds the API clients.
func getConnection(ctx context.Context, authz *gw.Authorizer, mode string) (*gw.Connection, error) {
	ac, err := authz.Authorize(ctx, mode, "")
	if err != nil {
		return nil, err
	}
	log.Debugf("Authorized in %s mode", ac.Mode)
	return gw.NewConnection(ctx, ac.HTTPClient)
}

type resourceFunc func(ctx context.Context, conn *gw.Connection) error

// resourceCommand maps a parsed command to the call it makes against the
// APIs, or nil when command is not a resource command.
func resourceCommand(cli *CLI, command string, now time.Time, out *outputWriter) resourceFunc {
	switch command {
	case "auth token-info":
		return func(ctx context.Context, conn *gw.Connection) error {
			return runAuthTokenInfo(ctx, conn, out)
		}

	case "calendar list", "calendar list <day>":
		c := cli.Calendar.List
		opts := calendarListOptions{
			from:       c.From,
			to:         c.To,
			calendarID: c.CalendarID,
			max:        c.Max,
			today:      c.Today,
			ics:        c.ICS,
		}
		return func(ctx context.Context, conn *gw.Connection) error {
			if err := checkDay(c.Day); err != nil {
				return err
			}
			if c.Day != "" {
				opts.today = true
			}
			return runCalendarList(ctx, conn, opts, now, out)
		}

	case "calendar calendars":
		role := cli.Calendar.Calendars.MinAccessRole
		return func(ctx context.Context, conn *gw.Connection) error {
			return runCalendarCalendars(ctx, conn, role, out)
		}

	case "calendar_getEvents":
		c := cli.CalendarGetEvents
		opts := calendarListOptions{
			from:       c.TimeMin,
			to:         c.TimeMax,
			calendarID: c.CalendarID,
			max:        c.MaxResults,
		}
		return func(ctx context.Context, conn *gw.Connection) error {
			return runCalendarList(ctx, conn, opts, now, out)
		}

	case "gmail search":
		c := cli.Gmail.Search
		return func(ctx context.Context, conn *gw.Connection) error {
			return runGmailSearch(ctx, conn, c.Query, c.PageToken, c.Max, c.Today, now, out)
		}

	case "gmail_search":
		c := cli.GmailSearch
		return func(ctx context.Context, conn *gw.Connection) error {
			return runGmailSearch(ctx, conn, c.Query, c.PageToken, c.Max, false, now, out)
		}

	case "gmail list <day>":
		day := cli.Gmail.List.Day
		return func(ctx context.Context, conn *gw.Connection) error {
			if err := checkDay(day); err != nil {
				return err
			}
			return runGmailSearch(ctx, conn, "", "", 20, true, now, out)
		}

	case "gmail get":
		c := cli.Gmail.Get
		return func(ctx context.Context, conn *gw.Connection) error {
			return runGmailGet(ctx, conn, c.ID, c.Body, out)
		}

	case "gmail labels":
		c := cli.Gmail.Labels
		return func(ctx context.Context, conn *gw.Connection) error {
			return runGmailLabels(ctx, conn, c.System, c.UserOnly, out)
		}

	case "drive search":
		c := cli.Drive.Search
		return func(ctx context.Context, conn *gw.Connection) error {
			return runDriveSearch(ctx, conn, c.Query, c.PageToken, c.Max, out)
		}

	case "drive_search":
		c := cli.DriveSearch
		return func(ctx context.Context, conn *gw.Connection) error {
			return runDriveSearch(ctx, conn, c.Query, c.PageToken, c.Max, out)
		}

	case "drive recent":
		max := cli.Drive.Recent.Max
		return func(ctx context.Context, conn *gw.Connection) error {
			return runDriveRecent(ctx, conn, max, out)
		}

	case "drive get":
		id := cli.Drive.Get.ID
		return func(ctx context.Context, conn *gw.Connection) error {
			return runDriveGet(ctx, conn, id, out)
		}

	case "chat spaces":
		c := cli.Chat.Spaces
		return func(ctx context.Context, conn *gw.Connection) error {
			return runChatSpaces(ctx, conn, c.Max, c.PageToken, c.Filter, out)
		}

	case "chat messages":
		c := cli.Chat.Messages
		opts := chatMessagesOptions{
			space:     c.Space,
			max:       c.Max,
			pageToken: c.PageToken,
			filter:    c.Filter,
			orderBy:   c.OrderBy,
			today:     c.Today,
		}
		return func(ctx context.Context, conn *gw.Connection) error {
			return runChatMessages(ctx, conn, opts, now, out)
		}

	case "chat list <day>":
		c := cli.Chat.List
		return func(ctx context.Context, conn *gw.Connection) error {
			if err := checkDay(c.Day); err != nil {
				return err
			}
			opts := chatMessagesOptions{space: c.Space, max: 20, today: true}
			return runChatMessages(ctx, conn, opts, now, out)
		}
	}
	return nil
}
