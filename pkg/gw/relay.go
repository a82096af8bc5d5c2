package gw

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const refreshPath = "/refreshToken"

// RefreshManagedToken asks the relay for a new access token. The relay
// response is merged over creds and the original refresh token is kept, as
// the relay does not rotate it.
func RefreshManagedToken(ctx context.Context, client *http.Client, relayURL string, creds *Credentials) (*Credentials, error) {
	if creds == nil || creds.RefreshToken == "" {
		return nil, newError(KindRefresh, nil, nil, "no refresh token available; run `gw auth login`")
	}
	if client == nil {
		client = http.DefaultClient
	}

	body, err := json.Marshal(map[string]string{"refresh_token": creds.RefreshToken})
	if err != nil {
		return nil, errors.Wrap(err, "encoding refresh request")
	}
	endpoint := strings.TrimRight(relayURL, "/") + refreshPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "creating refresh request")
	}
	req.Header.Set("Content-Type", "application/json")

	st := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, newError(KindTransport, err, map[string]interface{}{"relayUrl": relayURL}, "token refresh request failed")
	}
	defer resp.Body.Close()
	log.Debugf("RPC> POST %s => %s %v", endpoint, resp.Status, time.Since(st))

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindRefresh, err, nil, "reading token refresh response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newError(KindRefresh, nil, map[string]interface{}{"status": resp.StatusCode},
			"token refresh failed: %s %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	merged := *creds
	if err := json.Unmarshal(payload, &merged); err != nil {
		return nil, newError(KindRefresh, err, nil, "decoding token refresh response")
	}
	var aux struct {
		ExpiresIn  json.RawMessage `json:"expires_in"`
		ExpiryDate *int64          `json:"expiry_date"`
	}
	if err := json.Unmarshal(payload, &aux); err != nil {
		return nil, newError(KindRefresh, err, nil, "decoding token refresh response")
	}
	if aux.ExpiryDate == nil {
		expiresIn, err := parseFlexibleInt64(aux.ExpiresIn)
		if err != nil {
			return nil, newError(KindRefresh, err, nil, "decoding token refresh response")
		}
		if expiresIn > 0 {
			merged.ExpiryDate = time.Now().Add(time.Duration(expiresIn) * time.Second).UnixMilli()
		}
	}
	merged.RefreshToken = creds.RefreshToken
	if merged.AccessToken == "" {
		return nil, newError(KindRefresh, nil, nil, "token refresh response has no access_token")
	}
	return &merged, nil
}

// relayTokenSource refreshes managed credentials through the relay.
type relayTokenSource struct {
	ctx      context.Context
	relayURL string

	mu    sync.Mutex
	creds *Credentials
}

func (s *relayTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	creds, err := RefreshManagedToken(s.ctx, contextClient(s.ctx), s.relayURL, s.creds)
	if err != nil {
		return nil, err
	}
	s.creds = creds
	return creds.Token(), nil
}

// contextClient returns the *http.Client stored under oauth2.HTTPClient, the
// same key the oauth2 package consults.
func contextClient(ctx context.Context) *http.Client {
	if c, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && c != nil {
		return c
	}
	return http.DefaultClient
}
