package gw

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/browser"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// RefreshBuffer is how close to expiry a managed token may get before it is
// refreshed ahead of use.
const RefreshBuffer = 5 * time.Minute

type loginState string

const (
	stateIdle             loginState = "idle"
	statePortReserved     loginState = "port-reserved"
	stateURLGenerated     loginState = "url-generated"
	stateBrowserLaunched  loginState = "browser-launched"
	stateAwaitingCallback loginState = "awaiting-callback"
	stateExchanging       loginState = "exchanging"
	statePersisted        loginState = "persisted"
	stateFailed           loginState = "failed"
)

// Authorizer runs interactive logins and hands out authorized clients.
type Authorizer struct {
	Config *Config
	Store  *TokenStore

	// OpenBrowser launches the consent URL. Defaults to the system browser.
	OpenBrowser func(url string) error
	// Prompt receives the consent URL and other user-facing hints.
	Prompt io.Writer
	// HTTPClient is used for the token endpoint and the relay. Nil means
	// http.DefaultClient.
	HTTPClient      *http.Client
	CallbackTimeout time.Duration
	Now             func() time.Time
}

// NewAuthorizer returns an Authorizer wired to the system browser, stderr
// and the token file named by cfg.
func NewAuthorizer(cfg *Config) *Authorizer {
	return &Authorizer{
		Config:      cfg,
		Store:       NewTokenStore(cfg.TokenPath),
		OpenBrowser: systemBrowser(os.Stderr),
		Prompt:      os.Stderr,
		Now:         time.Now,
	}
}

// systemBrowser opens urls with the platform handler. Its output goes to w
// so it cannot corrupt machine-readable stdout.
func systemBrowser(w io.Writer) func(string) error {
	return func(u string) error {
		browser.Stdout = w
		browser.Stderr = w
		return browser.OpenURL(u)
	}
}

func (a *Authorizer) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *Authorizer) prompt() io.Writer {
	if a.Prompt != nil {
		return a.Prompt
	}
	return io.Discard
}

func (a *Authorizer) httpClient() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	return http.DefaultClient
}

// oauthContext carries HTTPClient to the oauth2 package.
func (a *Authorizer) oauthContext(ctx context.Context) context.Context {
	if a.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, a.HTTPClient)
}

func (a *Authorizer) credentialsPath(p string) string {
	if p != "" {
		return p
	}
	return a.Config.CredentialsPath
}

// LoginOptions control an interactive login.
type LoginOptions struct {
	// Mode is the requested mode; empty falls back to the configured default.
	Mode            string
	CredentialsPath string
	// NoOpen skips launching the browser. The URL is printed either way.
	NoOpen bool
}

// LoginResult describes a completed login.
type LoginResult struct {
	Mode            Mode
	CredentialsPath string
	TokenPath       string
	BrowserOpened   bool
	CallbackPort    int
	Scopes          []string
	Credentials     *Credentials
}

type loginFlow struct {
	a     *Authorizer
	mode  Mode
	state loginState
}

func (f *loginFlow) to(s loginState) {
	log.WithFields(log.Fields{"mode": f.mode, "from": f.state, "to": s}).Debug("Login state change")
	f.state = s
}

// Login runs the browser flow for the requested mode and persists the
// resulting credentials. The callback listener is bound before the browser
// is opened.
func (a *Authorizer) Login(ctx context.Context, opts LoginOptions) (*LoginResult, error) {
	mode := ResolveMode(opts.Mode, nil, a.Config.DefaultMode)
	flow := &loginFlow{a: a, mode: mode, state: stateIdle}

	var (
		res *LoginResult
		err error
	)
	if mode == ModeLocal {
		res, err = flow.local(ctx, a.credentialsPath(opts.CredentialsPath), opts.NoOpen)
	} else {
		res, err = flow.managed(ctx, opts.NoOpen)
	}
	if err != nil {
		flow.to(stateFailed)
		return nil, err
	}
	return res, nil
}

func (f *loginFlow) local(ctx context.Context, credentialsPath string, noOpen bool) (*LoginResult, error) {
	a := f.a
	port, err := ReservePort()
	if err != nil {
		return nil, err
	}
	f.to(statePortReserved)

	client, err := NewClient(a.Config, ModeLocal, credentialsPath, port)
	if err != nil {
		return nil, err
	}
	authURL := client.AuthURL("")
	f.to(stateURLGenerated)

	srv := NewLocalCallbackServer(port, authURL)
	srv.Timeout = a.CallbackTimeout
	if err := srv.Start(); err != nil {
		return nil, err
	}
	opened := a.launch(authURL, noOpen)
	f.to(stateBrowserLaunched)

	f.to(stateAwaitingCallback)
	cb, err := srv.Wait(ctx)
	if err != nil {
		return nil, err
	}

	f.to(stateExchanging)
	creds, err := client.Exchange(a.oauthContext(ctx), cb.Code)
	if err != nil {
		return nil, err
	}
	if err := a.Store.Save(ModeLocal, creds); err != nil {
		return nil, err
	}
	f.to(statePersisted)

	return &LoginResult{
		Mode:            ModeLocal,
		CredentialsPath: credentialsPath,
		TokenPath:       a.Store.Path,
		BrowserOpened:   opened,
		CallbackPort:    port,
		Scopes:          a.Config.Scopes,
		Credentials:     creds,
	}, nil
}

// relayState is the state blob the relay decodes to find the loopback
// callback. The relay echoes CSRF back as the `state` parameter.
type relayState struct {
	URI    string `json:"uri"`
	Manual bool   `json:"manual"`
	CSRF   string `json:"csrf"`
}

func (f *loginFlow) managed(ctx context.Context, noOpen bool) (*LoginResult, error) {
	a := f.a
	port, err := ReservePort()
	if err != nil {
		return nil, err
	}
	f.to(statePortReserved)

	csrf, err := randomHex(32)
	if err != nil {
		return nil, err
	}
	blob, err := json.Marshal(relayState{
		URI:  fmt.Sprintf("http://127.0.0.1:%d%s", port, CallbackPath),
		CSRF: csrf,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encoding relay state")
	}
	client, err := NewClient(a.Config, ModeManaged, "", 0)
	if err != nil {
		return nil, err
	}
	authURL := client.AuthURL(base64.StdEncoding.EncodeToString(blob))
	f.to(stateURLGenerated)

	srv := NewManagedCallbackServer(port, authURL, csrf)
	srv.Timeout = a.CallbackTimeout
	if err := srv.Start(); err != nil {
		return nil, err
	}
	opened := a.launch(authURL, noOpen)
	f.to(stateBrowserLaunched)

	f.to(stateAwaitingCallback)
	cb, err := srv.Wait(ctx)
	if err != nil {
		return nil, err
	}

	// The relay already exchanged the code.
	f.to(stateExchanging)
	if err := a.Store.Save(ModeManaged, cb.Credentials); err != nil {
		return nil, err
	}
	f.to(statePersisted)

	return &LoginResult{
		Mode:          ModeManaged,
		TokenPath:     a.Store.Path,
		BrowserOpened: opened,
		CallbackPort:  port,
		Scopes:        a.Config.Scopes,
		Credentials:   cb.Credentials,
	}, nil
}

// launch prints the consent URL and, unless noOpen, tries the browser. It
// reports whether the browser was launched.
func (a *Authorizer) launch(authURL string, noOpen bool) bool {
	fmt.Fprintf(a.prompt(), "Open this URL in your browser to authorize gw:\n\n%s\n\n", authURL)
	if noOpen || a.OpenBrowser == nil {
		return false
	}
	if err := a.OpenBrowser(authURL); err != nil {
		log.Warnf("Could not open browser: %v", err)
		return false
	}
	return true
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "generating CSRF token")
	}
	return hex.EncodeToString(b), nil
}

// AuthorizedClient is an HTTP client that attaches a valid access token to
// every request.
type AuthorizedClient struct {
	Mode       Mode
	HTTPClient *http.Client
}

// Authorize loads the saved token and returns a client for the resolved
// mode. Managed tokens close to expiry are refreshed through the relay and
// saved before returning; local tokens are refreshed on demand. Refreshed
// tokens are written back to the store in both modes.
func (a *Authorizer) Authorize(ctx context.Context, requestedMode, credentialsPath string) (*AuthorizedClient, error) {
	saved, err := a.Store.Load()
	if err != nil {
		return nil, err
	}
	mode := ResolveMode(requestedMode, saved, a.Config.DefaultMode)
	credentialsPath = a.credentialsPath(credentialsPath)

	if saved != nil && saved.Mode != mode {
		log.Warnf("Saved token was issued in %s mode but %s mode is in use; run `gw auth login --auth-mode %s` if requests fail",
			saved.Mode, mode, mode)
	}

	if mode == ModeLocal {
		if _, err := os.Stat(credentialsPath); err != nil {
			return nil, newError(KindConfiguration, err, map[string]interface{}{"credentialsPath": credentialsPath},
				"credentials file not found")
		}
	}

	if saved == nil || saved.Credentials == nil || (saved.Credentials.AccessToken == "" && saved.Credentials.RefreshToken == "") {
		return nil, newError(KindNoToken, nil, map[string]interface{}{
			"tokenPath":       a.Store.Path,
			"authMode":        string(mode),
			"credentialsPath": credentialsPath,
		}, "no token found; run `gw auth login` first")
	}

	client, err := NewClient(a.Config, mode, credentialsPath, 0)
	if err != nil {
		return nil, err
	}

	creds := saved.Credentials
	if mode == ModeManaged && creds.ExpiringWithin(a.now(), RefreshBuffer) {
		log.Debugf("Managed token expires at %s; refreshing through relay", creds.Expiry().Format(time.RFC3339))
		refreshed, err := RefreshManagedToken(ctx, a.httpClient(), a.Config.RelayURL, creds)
		if err != nil {
			return nil, err
		}
		if err := a.Store.Save(ModeManaged, refreshed); err != nil {
			return nil, err
		}
		creds = refreshed
	}

	octx := a.oauthContext(ctx)
	ts := &persistingTokenSource{
		src:   client.TokenSource(octx, creds),
		store: a.Store,
		mode:  mode,
		last:  creds,
	}
	return &AuthorizedClient{
		Mode:       mode,
		HTTPClient: oauth2.NewClient(octx, ts),
	}, nil
}

// persistingTokenSource saves tokens that differ from the last one seen.
type persistingTokenSource struct {
	src   oauth2.TokenSource
	store *TokenStore
	mode  Mode

	mu   sync.Mutex
	last *Credentials
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		if KindOf(err) != "" {
			return nil, err
		}
		return nil, newError(KindRefresh, err, nil, "refreshing access token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last.AccessToken {
		creds := CredentialsFromToken(tok, s.last)
		if err := s.store.Save(s.mode, creds); err != nil {
			log.Warnf("Could not persist refreshed token: %v", err)
		} else {
			log.Debugf("Persisted refreshed %s token", s.mode)
		}
		s.last = creds
	}
	return tok, nil
}

// Status summarizes the stored token without contacting the provider.
type Status struct {
	Authenticated bool
	Mode          Mode
	DefaultMode   Mode
	TokenPath     string
	Scopes        []string
	GrantedScopes []string
	ExpiryDate    int64
	Expired       bool
}

// Status reports whether a token is stored and for which mode.
func (a *Authorizer) Status(requestedMode string) (*Status, error) {
	saved, err := a.Store.Load()
	if err != nil {
		return nil, err
	}
	st := &Status{
		Mode:        ResolveMode(requestedMode, saved, a.Config.DefaultMode),
		DefaultMode: a.Config.DefaultAuthMode(),
		TokenPath:   a.Store.Path,
		Scopes:      a.Config.Scopes,
	}
	if saved != nil && saved.Credentials != nil {
		st.Authenticated = true
		st.Mode = saved.Mode
		st.GrantedScopes = strings.Fields(saved.Credentials.Scope)
		st.ExpiryDate = saved.Credentials.ExpiryDate
		st.Expired = saved.Credentials.ExpiringWithin(a.now(), 0)
	}
	return st, nil
}

// Logout removes the stored token.
func (a *Authorizer) Logout() error {
	return a.Store.Clear()
}
