package gw

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// CallbackPath is the loopback path the provider redirects to.
const CallbackPath = "/oauth2callback"

// ClientDescriptor identifies the OAuth client used for one invocation. It is
// never persisted.
type ClientDescriptor struct {
	Mode         Mode
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// OAuthClient is an OAuth client bound to one mode.
type OAuthClient struct {
	ClientDescriptor

	relayURL string
	oauth    *oauth2.Config
}

// clientSecrets mirrors the JSON downloaded from the Google API console.
type clientSecrets struct {
	Installed *clientSecret `json:"installed"`
	Web       *clientSecret `json:"web"`
}

type clientSecret struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// NewClient builds the OAuth client for mode. Managed mode needs no local
// files and ignores port. Local mode reads credentialsPath and redirects to
// the loopback callback on port, or to the bare loopback host when port is 0.
func NewClient(cfg *Config, mode Mode, credentialsPath string, port int) (*OAuthClient, error) {
	var desc ClientDescriptor
	switch mode {
	case ModeManaged:
		desc = ClientDescriptor{
			Mode:        ModeManaged,
			ClientID:    cfg.ManagedClientID,
			RedirectURI: cfg.RelayURL,
		}
	case ModeLocal:
		secret, err := readClientSecret(credentialsPath)
		if err != nil {
			return nil, err
		}
		desc = ClientDescriptor{
			Mode:         ModeLocal,
			ClientID:     secret.ClientID,
			ClientSecret: secret.ClientSecret,
			RedirectURI:  loopbackRedirect(port),
		}
	default:
		return nil, newError(KindConfiguration, nil, map[string]interface{}{"authMode": string(mode)},
			"unknown auth mode %q", mode)
	}

	return &OAuthClient{
		ClientDescriptor: desc,
		relayURL:         cfg.RelayURL,
		oauth: &oauth2.Config{
			ClientID:     desc.ClientID,
			ClientSecret: desc.ClientSecret,
			Endpoint:     cfg.Endpoint,
			RedirectURL:  desc.RedirectURI,
			Scopes:       cfg.Scopes,
		},
	}, nil
}

func loopbackRedirect(port int) string {
	if port > 0 {
		return fmt.Sprintf("http://127.0.0.1:%d%s", port, CallbackPath)
	}
	return "http://127.0.0.1"
}

func readClientSecret(credentialsPath string) (*clientSecret, error) {
	details := map[string]interface{}{"credentialsPath": credentialsPath}
	b, err := os.ReadFile(credentialsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newError(KindConfiguration, nil, details, "credentials file not found")
		}
		return nil, newError(KindConfiguration, err, details, "reading credentials file")
	}

	var cs clientSecrets
	if err := json.Unmarshal(b, &cs); err != nil {
		return nil, newError(KindConfiguration, err, details, "parsing credentials file")
	}
	secret := cs.Installed
	if secret == nil {
		secret = cs.Web
	}
	if secret == nil || secret.ClientID == "" || secret.ClientSecret == "" {
		return nil, newError(KindConfiguration, nil, details,
			`credentials file must contain {"installed": {"client_id": ..., "client_secret": ...}} or the same under "web"`)
	}
	return secret, nil
}

// AuthURL returns the consent URL. Offline access and a forced consent
// prompt make the provider issue a refresh token on every login.
func (c *OAuthClient) AuthURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for credentials. Only local clients
// exchange codes; the relay does it for managed clients.
func (c *OAuthClient) Exchange(ctx context.Context, code string) (*Credentials, error) {
	if c.Mode != ModeLocal {
		return nil, errors.Errorf("code exchange is not available in %s mode", c.Mode)
	}
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return nil, newError(KindCallback, err, nil, "exchanging authorization code")
		}
		return nil, newError(KindTransport, err, nil, "exchanging authorization code")
	}
	return CredentialsFromToken(tok, nil), nil
}

// TokenSource returns a token source that starts from creds and refreshes
// when the access token expires. Local clients refresh against the provider
// token endpoint, managed clients through the relay.
func (c *OAuthClient) TokenSource(ctx context.Context, creds *Credentials) oauth2.TokenSource {
	if c.Mode == ModeManaged {
		return oauth2.ReuseTokenSource(creds.Token(), &relayTokenSource{
			ctx:      ctx,
			relayURL: c.relayURL,
			creds:    creds,
		})
	}
	return c.oauth.TokenSource(ctx, creds.Token())
}
