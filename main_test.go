package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wesnick/gw/pkg/gw"
)

// roundTripFunc makes it easy to stub HTTP responses in tests.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonBody(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// fakeConnection answers requests whose path contains path with body and
// fails the test on anything else. The last request is stored in *seen.
func fakeConnection(t *testing.T, path, body string, seen **http.Request) *gw.Connection {
	t.Helper()
	client := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if seen != nil {
				*seen = req
			}
			if !strings.Contains(req.URL.Path, path) {
				t.Errorf("unexpected request path %q, want %q", req.URL.Path, path)
				return jsonBody(http.StatusNotFound, `{}`), nil
			}
			return jsonBody(http.StatusOK, body), nil
		}),
	}
	return newFake(t, client)
}

func newFake(t *testing.T, client *http.Client) *gw.Connection {
	t.Helper()
	conn, err := gw.NewFake(client)
	if err != nil {
		t.Fatalf("NewFake() error = %v", err)
	}
	return conn
}

func jsonOut() (*outputWriter, *bytes.Buffer) {
	var buf bytes.Buffer
	return &outputWriter{format: formatJSON, writer: &buf, errWriter: &buf}, &buf
}

func decode(t *testing.T, buf *bytes.Buffer, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(buf.Bytes(), v); err != nil {
		t.Fatalf("failed to unmarshal output %q: %v", buf.String(), err)
	}
}

var fixedNow = time.Date(2025, 3, 10, 15, 4, 5, 0, time.UTC)

func TestRunUnknownCommand(t *testing.T) {
	out, _ := jsonOut()
	if code := run(context.Background(), &CLI{}, "bogus", out); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestRunWithoutTokenExitsWithAuthFailure(t *testing.T) {
	dir := t.TempDir()
	out, buf := jsonOut()

	code := run(context.Background(), &CLI{ConfigDir: dir}, "drive recent", out)
	if code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}

	var result errorOutput
	decode(t, buf, &result)
	if result.OK {
		t.Error("expected ok=false")
	}
	if result.Kind != "no_token" {
		t.Errorf("kind = %q, want no_token", result.Kind)
	}
	if got := result.Details["tokenPath"]; got != filepath.Join(dir, "token.json") {
		t.Errorf("details.tokenPath = %v", got)
	}
}

func TestRunAuthStatusAndLogout(t *testing.T) {
	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "token.json")
	saved := `{"mode":"local","credentials":{"access_token":"a","refresh_token":"r","scope":"https://www.googleapis.com/auth/drive.readonly","expiry_date":1}}`
	if err := os.WriteFile(tokenPath, []byte(saved), 0o600); err != nil {
		t.Fatal(err)
	}

	out, buf := jsonOut()
	if code := run(context.Background(), &CLI{ConfigDir: dir}, "auth status", out); code != 0 {
		t.Fatalf("auth status exit code = %d: %s", code, buf.String())
	}
	var status authStatusOutput
	decode(t, buf, &status)
	if !status.Authenticated || status.AuthMode != gw.ModeLocal {
		t.Errorf("unexpected status: %+v", status)
	}
	if !status.Expired {
		t.Error("expected expired token")
	}
	if len(status.MissingScopes) != len(gw.Scopes)-1 {
		t.Errorf("missingScopes = %v", status.MissingScopes)
	}

	out, buf = jsonOut()
	if code := run(context.Background(), &CLI{ConfigDir: dir}, "auth logout", out); code != 0 {
		t.Fatalf("auth logout exit code = %d: %s", code, buf.String())
	}
	if _, err := os.Stat(tokenPath); !os.IsNotExist(err) {
		t.Errorf("token file still present: %v", err)
	}

	out, buf = jsonOut()
	if code := run(context.Background(), &CLI{ConfigDir: dir}, "auth status", out); code != 0 {
		t.Fatalf("auth status exit code = %d", code)
	}
	status = authStatusOutput{}
	decode(t, buf, &status)
	if status.Authenticated {
		t.Error("expected unauthenticated after logout")
	}
	if status.AuthMode != gw.ModeManaged {
		t.Errorf("authMode = %q, want managed default", status.AuthMode)
	}
}

func TestRunAuthStatusHonorsDefaultMode(t *testing.T) {
	out, buf := jsonOut()
	cli := &CLI{ConfigDir: t.TempDir(), DefaultAuthMode: "LOCAL"}
	if code := run(context.Background(), cli, "auth status", out); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	var status authStatusOutput
	decode(t, buf, &status)
	if status.AuthMode != gw.ModeLocal || status.DefaultAuthMode != gw.ModeLocal {
		t.Errorf("unexpected modes: %+v", status)
	}
}

func TestRunTimeCommandsNeedNoConfig(t *testing.T) {
	for _, cmd := range []string{"time now", "time date", "time zone", "version"} {
		out, buf := jsonOut()
		// An unusable config dir proves no config is loaded.
		cli := &CLI{ConfigDir: "relative/never-created", RelayURL: "not a url"}
		if code := run(context.Background(), cli, cmd, out); code != 0 {
			t.Errorf("%s: exit code = %d: %s", cmd, code, buf.String())
		}
		var result struct {
			OK bool `json:"ok"`
		}
		decode(t, buf, &result)
		if !result.OK {
			t.Errorf("%s: expected ok=true", cmd)
		}
	}
}

func TestCheckDay(t *testing.T) {
	if err := checkDay(""); err != nil {
		t.Errorf("checkDay(\"\") error = %v", err)
	}
	if err := checkDay("today"); err != nil {
		t.Errorf("checkDay(today) error = %v", err)
	}
	if err := checkDay("tomorrow"); err == nil {
		t.Error("expected error for tomorrow")
	}
}

func TestClamp(t *testing.T) {
	tests := []struct{ v, want int64 }{{0, 1}, {-5, 1}, {20, 20}, {500, 250}}
	for _, tt := range tests {
		if got := clamp(tt.v, 1, 250); got != tt.want {
			t.Errorf("clamp(%d) = %d, want %d", tt.v, got, tt.want)
		}
	}
}

func TestParseTimeFlag(t *testing.T) {
	loc := time.FixedZone("X", 2*3600)

	got, err := parseTimeFlag("from", "2025-03-10T08:00:00Z", loc)
	if err != nil || !got.Equal(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("RFC3339: got %v, %v", got, err)
	}

	got, err = parseTimeFlag("from", "2025-03-10", loc)
	if err != nil || !got.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, loc)) {
		t.Errorf("date: got %v, %v", got, err)
	}

	if _, err := parseTimeFlag("from", "next week", loc); err == nil || !strings.Contains(err.Error(), "--from") {
		t.Errorf("expected error naming the flag, got %v", err)
	}
}
