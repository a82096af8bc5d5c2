package gw

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultCallbackTimeout bounds how long a login waits for the browser.
const DefaultCallbackTimeout = 5 * time.Minute

const successBody = "Authentication successful. You can close this tab."

// ReservePort finds a free loopback port by binding port 0 and closing the
// listener. Another process may take the port before the callback server
// binds it; that window is accepted for a one-off interactive login.
func ReservePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, newError(KindTransport, err, nil, "reserving a loopback port")
	}
	port := l.Addr().(*net.TCPAddr).Port
	if err := l.Close(); err != nil {
		return 0, newError(KindTransport, err, nil, "releasing reserved port")
	}
	return port, nil
}

// CallbackResult is what the browser redirect delivered: an authorization
// code in local mode, or relay-issued credentials in managed mode.
type CallbackResult struct {
	Code        string
	Credentials *Credentials
}

type callbackOutcome struct {
	res *CallbackResult
	err error
}

// CallbackServer receives a single OAuth redirect on the loopback interface.
// The first request to CallbackPath decides the outcome; later requests are
// rejected.
type CallbackServer struct {
	// Timeout overrides DefaultCallbackTimeout when non-zero.
	Timeout time.Duration

	port    int
	authURL string
	mode    Mode
	csrf    string

	server *http.Server
	once   sync.Once
	result chan callbackOutcome
}

// NewLocalCallbackServer returns a server that expects `code` (or `error`)
// query parameters. authURL is repeated in the timeout error.
func NewLocalCallbackServer(port int, authURL string) *CallbackServer {
	return newCallbackServer(ModeLocal, port, authURL, "")
}

// NewManagedCallbackServer returns a server that expects relay-issued tokens
// and a `state` parameter equal to csrf.
func NewManagedCallbackServer(port int, authURL, csrf string) *CallbackServer {
	return newCallbackServer(ModeManaged, port, authURL, csrf)
}

func newCallbackServer(mode Mode, port int, authURL, csrf string) *CallbackServer {
	s := &CallbackServer{
		port:    port,
		authURL: authURL,
		mode:    mode,
		csrf:    csrf,
		result:  make(chan callbackOutcome, 1),
	}
	s.server = &http.Server{
		Handler:           http.HandlerFunc(s.handle),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start binds the listener and serves in the background. It must be called
// before the user is sent to the consent page.
func (s *CallbackServer) Start() error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(s.port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return newError(KindTransport, err, map[string]interface{}{"callbackPort": s.port},
			"starting callback listener on %s", addr)
	}
	log.Debugf("Callback listener bound on http://%s%s", addr, CallbackPath)
	go func() {
		if err := s.server.Serve(l); err != nil && err != http.ErrServerClosed {
			s.resolve(callbackOutcome{err: newError(KindTransport, err, nil, "callback listener failed")})
		}
	}()
	return nil
}

// Wait blocks until the callback resolves, the timeout elapses, or ctx is
// done. The listener is shut down before Wait returns.
func (s *CallbackServer) Wait(ctx context.Context) (*CallbackResult, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultCallbackTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	defer s.shutdown()

	select {
	case o := <-s.result:
		return o.res, o.err
	case <-timer.C:
		return nil, newError(KindTimeout, nil, map[string]interface{}{"authUrl": s.authURL},
			"authentication timed out after %s; open this URL manually: %s", humanDuration(timeout), s.authURL)
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "waiting for authorization callback")
	}
}

func (s *CallbackServer) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		log.Debugf("Callback listener shutdown: %v", err)
		_ = s.server.Close()
	}
}

// resolve records o if nothing was recorded yet and reports whether it did.
func (s *CallbackServer) resolve(o callbackOutcome) bool {
	won := false
	s.once.Do(func() {
		won = true
		s.result <- o
	})
	return won
}

func (s *CallbackServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != CallbackPath {
		log.Debugf("Ignoring request for %s on callback listener", r.URL.Path)
		http.NotFound(w, r)
		return
	}

	var (
		status int
		body   string
		o      callbackOutcome
	)
	if s.mode == ModeManaged {
		status, body, o = s.managedOutcome(r)
	} else {
		status, body, o = s.localOutcome(r)
	}

	if !s.resolve(o) {
		log.Warnf("Rejected callback from %s: authorization already completed", r.RemoteAddr)
		http.Error(w, "Authorization already completed.", http.StatusBadRequest)
		return
	}
	if status != http.StatusOK {
		http.Error(w, body, status)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, body)
}

func (s *CallbackServer) localOutcome(r *http.Request) (int, string, callbackOutcome) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		return http.StatusBadRequest, "OAuth error: " + e, callbackOutcome{err: providerError(e, q.Get("error_description"))}
	}
	code := q.Get("code")
	if code == "" {
		return http.StatusBadRequest, "Missing code", callbackOutcome{
			err: newError(KindCallback, nil, nil, "OAuth callback missing code parameter"),
		}
	}
	return http.StatusOK, successBody, callbackOutcome{res: &CallbackResult{Code: code}}
}

func (s *CallbackServer) managedOutcome(r *http.Request) (int, string, callbackOutcome) {
	q := r.URL.Query()
	state := q.Get("state")
	if s.csrf == "" || subtle.ConstantTimeCompare([]byte(state), []byte(s.csrf)) != 1 {
		return http.StatusBadRequest, "State mismatch.", callbackOutcome{
			err: newError(KindCallback, nil, nil, "OAuth state mismatch; possible CSRF attack"),
		}
	}
	if e := q.Get("error"); e != "" {
		return http.StatusBadRequest, "OAuth error: " + e, callbackOutcome{err: providerError(e, q.Get("error_description"))}
	}

	accessToken := q.Get("access_token")
	expiry, err := strconv.ParseInt(q.Get("expiry_date"), 10, 64)
	if accessToken == "" || err != nil {
		return http.StatusBadRequest, "Missing token fields", callbackOutcome{
			err: newError(KindCallback, nil, nil, "OAuth callback missing token fields"),
		}
	}
	creds := &Credentials{
		AccessToken:  accessToken,
		RefreshToken: q.Get("refresh_token"),
		Scope:        q.Get("scope"),
		TokenType:    q.Get("token_type"),
		ExpiryDate:   expiry,
	}
	return http.StatusOK, successBody, callbackOutcome{res: &CallbackResult{Credentials: creds}}
}

func providerError(code, description string) *Error {
	if description == "" {
		description = "No details"
	}
	return newError(KindCallback, nil, map[string]interface{}{"error": code},
		"authorization failed: %s (%s)", code, description)
}

func humanDuration(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		n := int(d / time.Minute)
		if n == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", n)
	}
	return d.String()
}
