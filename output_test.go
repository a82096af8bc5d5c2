package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/wesnick/gw/pkg/gw"
)

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	out := &outputWriter{format: formatYAML, writer: &buf}

	data := timeZoneOutput{OK: true, Action: "time.zone", TimeZone: "Europe/Berlin"}
	if err := out.write(data, nil); err != nil {
		t.Fatalf("write() error = %v", err)
	}

	want := "ok: true\naction: time.zone\ntimeZone: Europe/Berlin\n"
	if buf.String() != want {
		t.Errorf("yaml output:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestWriteYAMLNested(t *testing.T) {
	var buf bytes.Buffer
	out := &outputWriter{format: formatYAML, writer: &buf}

	data := gmailSearchOutput{
		OK:       true,
		Action:   "gmail.search",
		Query:    "true",
		Messages: []messageRefOutput{{ID: "m1", ThreadID: "t1"}},
	}
	if err := out.write(data, nil); err != nil {
		t.Fatalf("write() error = %v", err)
	}

	got := buf.String()
	// A string that looks like a bool keeps its quotes.
	if !strings.Contains(got, `query: "true"`) {
		t.Errorf("expected quoted query:\n%s", got)
	}
	if !strings.Contains(got, "messages:\n  - id: m1\n    threadId: t1\n") {
		t.Errorf("expected block sequence:\n%s", got)
	}
	if !strings.Contains(got, "nextPageToken: null") {
		t.Errorf("expected null page token:\n%s", got)
	}
}

func TestWriteTextFallsBackToYAML(t *testing.T) {
	var buf bytes.Buffer
	out := &outputWriter{format: formatText, writer: &buf}
	if err := out.write(versionOutput{OK: true, Action: "version", Version: "1.0"}, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "version: \"1.0\"") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestWriteErrorJSON(t *testing.T) {
	out, buf := jsonOut()
	err := pkgerrors.Wrap(&gw.Error{
		Kind:    gw.KindNoToken,
		Message: "no token found",
		Details: map[string]interface{}{"tokenPath": "/tmp/token.json"},
	}, "authorizing")

	out.writeError(err)

	var result errorOutput
	decode(t, buf, &result)
	if result.OK || result.Kind != "no_token" {
		t.Errorf("unexpected error output: %+v", result)
	}
	if !strings.HasPrefix(result.Error, "authorizing: no token found") {
		t.Errorf("error = %q", result.Error)
	}
	if result.Details["tokenPath"] != "/tmp/token.json" {
		t.Errorf("details = %v", result.Details)
	}
}

func TestWriteErrorText(t *testing.T) {
	var stdout, stderr bytes.Buffer
	out := &outputWriter{format: formatText, noColor: true, writer: &stdout, errWriter: &stderr}

	out.writeError(&gw.Error{
		Kind:    gw.KindRefresh,
		Message: "token refresh failed",
		Details: map[string]interface{}{"status": 400, "authMode": "managed"},
	})

	if stdout.Len() != 0 {
		t.Errorf("expected nothing on stdout, got %q", stdout.String())
	}
	want := "Error: token refresh failed\n  authMode: managed\n  status: 400\n"
	if stderr.String() != want {
		t.Errorf("stderr = %q, want %q", stderr.String(), want)
	}
}

func TestWriteErrorPlain(t *testing.T) {
	out, buf := jsonOut()
	out.writeError(errors.New("boom"))

	var result errorOutput
	decode(t, buf, &result)
	if result.Error != "boom" || result.Kind != "" || result.Details != nil {
		t.Errorf("unexpected error output: %+v", result)
	}
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	out := &outputWriter{format: formatText, writer: &buf}
	if err := out.writeTable([]string{"ID", "NAME"}, [][]string{{"1", "alpha"}, {"22", "b"}}); err != nil {
		t.Fatal(err)
	}
	want := "ID  NAME\n1   alpha\n22  b\n"
	if buf.String() != want {
		t.Errorf("table = %q, want %q", buf.String(), want)
	}
}

func TestTruncateString(t *testing.T) {
	if got := truncateString("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncateString("a much longer string", 10); got != "a much ..." {
		t.Errorf("got %q", got)
	}
	if got := truncateString("Équipe café réunion", 8); got != "Équip..." {
		t.Errorf("got %q", got)
	}
	if got := truncateString("日本語", 3); got != "日本語" {
		t.Errorf("got %q", got)
	}
}

func TestRunTimeNow(t *testing.T) {
	t.Setenv("TZ", "America/New_York")
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("zoneinfo unavailable")
	}
	now := time.Date(2025, 3, 10, 1, 30, 0, 0, time.UTC).In(loc)

	out, buf := jsonOut()
	if err := runTimeNow(now, out); err != nil {
		t.Fatal(err)
	}

	var result timeNowOutput
	decode(t, buf, &result)
	if result.UTC != "2025-03-10T01:30:00Z" {
		t.Errorf("utc = %q", result.UTC)
	}
	if result.LocalDate != "2025-03-09" || result.LocalTime != "21:30:00" {
		t.Errorf("local = %s %s", result.LocalDate, result.LocalTime)
	}
	if result.TimeZone != "America/New_York" {
		t.Errorf("timeZone = %q", result.TimeZone)
	}
}

func TestLocalZoneNameFromLocation(t *testing.T) {
	t.Setenv("TZ", "")
	loc := time.FixedZone("Custom/Zone", 0)
	if got := localZoneName(time.Date(2025, 1, 1, 0, 0, 0, 0, loc)); got != "Custom/Zone" {
		t.Errorf("localZoneName = %q", got)
	}
}
