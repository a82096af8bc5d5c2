package gw

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// Credentials is the provider-issued token set as persisted on disk.
// ExpiryDate is in epoch milliseconds; zero means unknown.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiryDate   int64  `json:"expiry_date"`
}

// Expiry returns the expiry as a time, or the zero time when unknown.
func (c *Credentials) Expiry() time.Time {
	if c.ExpiryDate <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.ExpiryDate)
}

// ExpiringWithin reports whether the access token expires before now+buf.
// Credentials without an expiry never report as expiring.
func (c *Credentials) ExpiringWithin(now time.Time, buf time.Duration) bool {
	if c.ExpiryDate <= 0 {
		return false
	}
	return c.ExpiryDate < now.Add(buf).UnixMilli()
}

// Token converts the credentials to an oauth2 token.
func (c *Credentials) Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry(),
	}
	if c.Scope != "" {
		tok = tok.WithExtra(map[string]interface{}{"scope": c.Scope})
	}
	return tok
}

// CredentialsFromToken converts an oauth2 token into Credentials. Fields the
// token does not carry (refresh token, scope) are taken from prev when set.
func CredentialsFromToken(tok *oauth2.Token, prev *Credentials) *Credentials {
	c := &Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		c.ExpiryDate = tok.Expiry.UnixMilli()
	}
	if s, ok := tok.Extra("scope").(string); ok {
		c.Scope = s
	}
	if prev != nil {
		if c.RefreshToken == "" {
			c.RefreshToken = prev.RefreshToken
		}
		if c.Scope == "" {
			c.Scope = prev.Scope
		}
	}
	return c
}

// SavedToken is the on-disk envelope: credentials tagged with the mode that
// produced them.
type SavedToken struct {
	Mode        Mode         `json:"mode"`
	Credentials *Credentials `json:"credentials"`
}

// TokenStore persists a single SavedToken as JSON at Path.
type TokenStore struct {
	Path string
}

// NewTokenStore returns a store backed by the file at path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{Path: path}
}

// Load reads the stored token. A missing file yields (nil, nil). Files
// written before the envelope existed hold bare credentials and load as
// local-mode tokens.
func (s *TokenStore) Load() (*SavedToken, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, newError(KindConfiguration, err, map[string]interface{}{"tokenPath": s.Path},
			"reading token file")
	}
	saved, err := decodeSavedToken(b)
	if err != nil {
		return nil, newError(KindConfiguration, err, map[string]interface{}{"tokenPath": s.Path},
			"token file is not valid JSON; fix or remove it and run `gw auth login`")
	}
	return saved, nil
}

func decodeSavedToken(b []byte) (*SavedToken, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}

	if creds, ok := raw["credentials"]; ok && bytes.HasPrefix(bytes.TrimSpace(creds), []byte("{")) {
		var env struct {
			Mode        string       `json:"mode"`
			AuthMode    string       `json:"authMode"`
			Credentials *Credentials `json:"credentials"`
		}
		if err := json.Unmarshal(b, &env); err != nil {
			return nil, err
		}
		name := env.Mode
		if name == "" {
			name = env.AuthMode
		}
		mode := ModeManaged
		if m, ok := ParseMode(name); ok && m == ModeLocal {
			mode = ModeLocal
		}
		return &SavedToken{Mode: mode, Credentials: env.Credentials}, nil
	}

	// Bare credentials. Older releases wrote oauth2.Token JSON with an
	// RFC 3339 "expiry" instead of "expiry_date".
	var legacy struct {
		Credentials
		Expiry time.Time `json:"expiry"`
	}
	if err := json.Unmarshal(b, &legacy); err != nil {
		return nil, err
	}
	creds := legacy.Credentials
	if creds.ExpiryDate == 0 && !legacy.Expiry.IsZero() {
		creds.ExpiryDate = legacy.Expiry.UnixMilli()
	}
	return &SavedToken{Mode: ModeLocal, Credentials: &creds}, nil
}

// Save overwrites the token file with creds tagged by mode.
func (s *TokenStore) Save(mode Mode, creds *Credentials) error {
	if creds == nil {
		return errors.New("saving token: credentials are nil")
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0700); err != nil {
		return errors.Wrap(err, "creating token directory")
	}
	b, err := json.MarshalIndent(&SavedToken{Mode: mode, Credentials: creds}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding token")
	}
	b = append(b, '\n')
	if err := os.WriteFile(s.Path, b, 0600); err != nil {
		return errors.Wrap(err, "writing token file")
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(s.Path, 0600); err != nil {
		return errors.Wrap(err, "restricting token file permissions")
	}
	log.Debugf("Saved %s token to %s", mode, s.Path)
	return nil
}

// Clear removes the token file. A missing file is not an error.
func (s *TokenStore) Clear() error {
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing token file")
	}
	return nil
}
