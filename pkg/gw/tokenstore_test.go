package gw

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestTokenStoreRoundTrip(t *testing.T) {
	for _, mode := range []Mode{ModeLocal, ModeManaged} {
		t.Run(string(mode), func(t *testing.T) {
			store := NewTokenStore(filepath.Join(t.TempDir(), "nested", "token.json"))
			creds := &Credentials{
				AccessToken:  "ya29.access",
				RefreshToken: "1//refresh",
				Scope:        "a b",
				TokenType:    "Bearer",
				ExpiryDate:   1700000000000,
			}

			require.NoError(t, store.Save(mode, creds))
			saved, err := store.Load()
			require.NoError(t, err)
			require.NotNil(t, saved)
			assert.Equal(t, mode, saved.Mode)
			assert.Equal(t, creds, saved.Credentials)
		})
	}
}

func TestTokenStoreFileFormat(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cfg")
	store := NewTokenStore(filepath.Join(dir, "token.json"))
	require.NoError(t, store.Save(ModeManaged, &Credentials{AccessToken: "a", ExpiryDate: 1}))

	b, err := os.ReadFile(store.Path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(b), "}\n"), "file should end with a newline")
	assert.Contains(t, string(b), "\n  \"mode\": \"managed\",\n  \"credentials\": {\n")

	info, err := os.Stat(store.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())
}

func TestTokenStoreSaveTightensExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

	store := NewTokenStore(path)
	require.NoError(t, store.Save(ModeLocal, &Credentials{AccessToken: "a"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestTokenStoreSaveKeepsUnknownExpiry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	store := NewTokenStore(path)
	require.NoError(t, store.Save(ModeLocal, &Credentials{AccessToken: "a"}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"expiry_date": 0`)
}

func TestTokenStoreLoadMissing(t *testing.T) {
	store := NewTokenStore(filepath.Join(t.TempDir(), "token.json"))
	saved, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestTokenStoreLoadLegacyShapes(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		mode   Mode
		expiry int64
	}{
		{
			name:   "bare credentials",
			body:   `{"access_token":"a","refresh_token":"r","expiry_date":42}`,
			mode:   ModeLocal,
			expiry: 42,
		},
		{
			name:   "oauth2 token json",
			body:   `{"access_token":"a","refresh_token":"r","token_type":"Bearer","expiry":"2024-01-01T00:00:00Z"}`,
			mode:   ModeLocal,
			expiry: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		},
		{
			name:   "authMode mcp envelope",
			body:   `{"authMode":"mcp","credentials":{"access_token":"a","refresh_token":"r","expiry_date":42}}`,
			mode:   ModeManaged,
			expiry: 42,
		},
		{
			name:   "authMode local envelope",
			body:   `{"authMode":"local","credentials":{"access_token":"a","refresh_token":"r","expiry_date":42}}`,
			mode:   ModeLocal,
			expiry: 42,
		},
		{
			name:   "envelope without mode",
			body:   `{"credentials":{"access_token":"a","refresh_token":"r","expiry_date":42}}`,
			mode:   ModeManaged,
			expiry: 42,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "token.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0600))

			saved, err := NewTokenStore(path).Load()
			require.NoError(t, err)
			require.NotNil(t, saved)
			assert.Equal(t, tt.mode, saved.Mode)
			assert.Equal(t, "a", saved.Credentials.AccessToken)
			assert.Equal(t, "r", saved.Credentials.RefreshToken)
			assert.Equal(t, tt.expiry, saved.Credentials.ExpiryDate)
		})
	}
}

func TestTokenStoreLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	saved, err := NewTokenStore(path).Load()
	require.Error(t, err)
	assert.Nil(t, saved)
	assert.Equal(t, KindConfiguration, KindOf(err))
	assert.Equal(t, path, DetailsOf(err)["tokenPath"])

	// The file is left for the user to inspect.
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestTokenStoreClear(t *testing.T) {
	store := NewTokenStore(filepath.Join(t.TempDir(), "token.json"))
	require.NoError(t, store.Save(ModeLocal, &Credentials{AccessToken: "a"}))

	require.NoError(t, store.Clear())
	saved, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, saved)

	// Clearing again is fine.
	require.NoError(t, store.Clear())
}

func TestCredentialsExpiringWithin(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	soon := &Credentials{ExpiryDate: now.Add(4 * time.Minute).UnixMilli()}
	later := &Credentials{ExpiryDate: now.Add(6 * time.Minute).UnixMilli()}
	unknown := &Credentials{}

	assert.True(t, soon.ExpiringWithin(now, RefreshBuffer))
	assert.False(t, later.ExpiringWithin(now, RefreshBuffer))
	assert.False(t, unknown.ExpiringWithin(now, RefreshBuffer))
}

func TestCredentialsTokenConversion(t *testing.T) {
	expiry := time.UnixMilli(1700000000000)
	creds := &Credentials{AccessToken: "a", RefreshToken: "r", Scope: "s1 s2", TokenType: "Bearer", ExpiryDate: expiry.UnixMilli()}

	tok := creds.Token()
	assert.Equal(t, "a", tok.AccessToken)
	assert.True(t, tok.Expiry.Equal(expiry))
	assert.Equal(t, "s1 s2", tok.Extra("scope"))

	// A refreshed token without refresh_token keeps the previous one.
	back := CredentialsFromToken(&oauth2.Token{AccessToken: "b", Expiry: expiry}, creds)
	assert.Equal(t, "b", back.AccessToken)
	assert.Equal(t, "r", back.RefreshToken)
	assert.Equal(t, "s1 s2", back.Scope)
	assert.Equal(t, expiry.UnixMilli(), back.ExpiryDate)
}
