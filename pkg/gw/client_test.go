package gw

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	return &Config{
		Dir:             dir,
		TokenPath:       filepath.Join(dir, "token.json"),
		CredentialsPath: filepath.Join(dir, "credentials.json"),
		ManagedClientID: "managed-client.apps.googleusercontent.com",
		RelayURL:        "https://relay.example.com",
		Scopes:          Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.example.com/o/oauth2/auth",
			TokenURL: "https://accounts.example.com/token",
		},
	}
}

func writeCredentials(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
}

func TestNewClientManaged(t *testing.T) {
	cfg := testConfig(t)
	client, err := NewClient(cfg, ModeManaged, "/does/not/exist.json", 4242)
	require.NoError(t, err)

	assert.Equal(t, ModeManaged, client.Mode)
	assert.Equal(t, cfg.ManagedClientID, client.ClientID)
	assert.Empty(t, client.ClientSecret)
	assert.Equal(t, cfg.RelayURL, client.RedirectURI)
}

func TestNewClientLocal(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"installed", `{"installed":{"client_id":"cid","client_secret":"sec","redirect_uris":["http://localhost"]}}`},
		{"web", `{"web":{"client_id":"cid","client_secret":"sec"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			writeCredentials(t, cfg.CredentialsPath, tt.body)

			client, err := NewClient(cfg, ModeLocal, cfg.CredentialsPath, 8085)
			require.NoError(t, err)
			assert.Equal(t, ModeLocal, client.Mode)
			assert.Equal(t, "cid", client.ClientID)
			assert.Equal(t, "sec", client.ClientSecret)
			assert.Equal(t, "http://127.0.0.1:8085/oauth2callback", client.RedirectURI)
		})
	}
}

func TestNewClientLocalWithoutPort(t *testing.T) {
	cfg := testConfig(t)
	writeCredentials(t, cfg.CredentialsPath, `{"installed":{"client_id":"cid","client_secret":"sec"}}`)

	client, err := NewClient(cfg, ModeLocal, cfg.CredentialsPath, 0)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1", client.RedirectURI)
}

func TestNewClientLocalInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"missing secret", `{"installed":{"client_id":"cid"}}`, `"installed"`},
		{"missing id", `{"web":{"client_secret":"sec"}}`, `"installed"`},
		{"neither key", `{"type":"service_account"}`, `"installed"`},
		{"not json", `nope`, "parsing credentials file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			writeCredentials(t, cfg.CredentialsPath, tt.body)

			client, err := NewClient(cfg, ModeLocal, cfg.CredentialsPath, 0)
			require.Error(t, err)
			assert.Nil(t, client)
			assert.Equal(t, KindConfiguration, KindOf(err))
			assert.Contains(t, err.Error(), tt.msg)
			assert.Equal(t, cfg.CredentialsPath, DetailsOf(err)["credentialsPath"])
		})
	}
}

func TestNewClientLocalMissingFile(t *testing.T) {
	cfg := testConfig(t)
	_, err := NewClient(cfg, ModeLocal, cfg.CredentialsPath, 0)
	require.Error(t, err)
	assert.Equal(t, KindConfiguration, KindOf(err))
	assert.Contains(t, err.Error(), "credentials file not found")
}

func TestAuthURLRequestsOfflineConsent(t *testing.T) {
	cfg := testConfig(t)
	client, err := NewClient(cfg, ModeManaged, "", 0)
	require.NoError(t, err)

	u, err := url.Parse(client.AuthURL("blob"))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "blob", q.Get("state"))
	assert.Equal(t, cfg.RelayURL, q.Get("redirect_uri"))
	assert.Equal(t, cfg.ManagedClientID, q.Get("client_id"))
	assert.Contains(t, q.Get("scope"), "https://www.googleapis.com/auth/gmail.readonly")
}

func TestExchangeRejectedForManaged(t *testing.T) {
	cfg := testConfig(t)
	client, err := NewClient(cfg, ModeManaged, "", 0)
	require.NoError(t, err)

	_, err = client.Exchange(t.Context(), "code")
	assert.Error(t, err)
}

// closedURL returns the URL of a server that has already shut down.
func closedURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	return srv.URL
}

func localClient(t *testing.T, tokenURL string) *OAuthClient {
	t.Helper()
	cfg := testConfig(t)
	cfg.Endpoint.TokenURL = tokenURL
	writeCredentials(t, cfg.CredentialsPath, `{"installed":{"client_id":"cid","client_secret":"sec"}}`)
	client, err := NewClient(cfg, ModeLocal, cfg.CredentialsPath, 8085)
	require.NoError(t, err)
	return client
}

func TestExchangeNetworkFailure(t *testing.T) {
	client := localClient(t, closedURL(t)+"/token")

	_, err := client.Exchange(t.Context(), "code")
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))
}

func TestExchangeRejectedGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Bad Request"}`))
	}))
	t.Cleanup(srv.Close)
	client := localClient(t, srv.URL+"/token")

	_, err := client.Exchange(t.Context(), "code")
	require.Error(t, err)
	assert.Equal(t, KindCallback, KindOf(err))
	assert.Contains(t, err.Error(), "invalid_grant")
}
