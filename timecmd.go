package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

const zoneinfoMarker = "zoneinfo/"

// localZoneName returns the IANA name of the local zone when it can be
// determined, else the zone abbreviation.
func localZoneName(now time.Time) string {
	if tz := strings.TrimPrefix(os.Getenv("TZ"), ":"); tz != "" {
		return tz
	}
	if name := now.Location().String(); name != "Local" && name != "" {
		return name
	}
	if target, err := filepath.EvalSymlinks("/etc/localtime"); err == nil {
		if i := strings.LastIndex(target, zoneinfoMarker); i >= 0 {
			return target[i+len(zoneinfoMarker):]
		}
	}
	abbrev, _ := now.Zone()
	return abbrev
}

type timeNowOutput struct {
	OK        bool   `json:"ok"`
	Action    string `json:"action"`
	UTC       string `json:"utc"`
	LocalDate string `json:"localDate"`
	LocalTime string `json:"localTime"`
	TimeZone  string `json:"timeZone"`
}

func runTimeNow(now time.Time, out *outputWriter) error {
	output := timeNowOutput{
		OK:        true,
		Action:    "time.now",
		UTC:       now.UTC().Format(time.RFC3339),
		LocalDate: now.Format(dateLayout),
		LocalTime: now.Format("15:04:05"),
		TimeZone:  localZoneName(now),
	}
	return out.write(output, func() error {
		out.writeMessage(output.LocalDate + " " + output.LocalTime + " " + output.TimeZone)
		return nil
	})
}

type timeDateOutput struct {
	OK       bool   `json:"ok"`
	Action   string `json:"action"`
	UTC      string `json:"utc"`
	Local    string `json:"local"`
	TimeZone string `json:"timeZone"`
}

func runTimeDate(now time.Time, out *outputWriter) error {
	output := timeDateOutput{
		OK:       true,
		Action:   "time.date",
		UTC:      now.UTC().Format(dateLayout),
		Local:    now.Format(dateLayout),
		TimeZone: localZoneName(now),
	}
	return out.write(output, func() error {
		out.writeMessage(output.Local)
		return nil
	})
}

type timeZoneOutput struct {
	OK       bool   `json:"ok"`
	Action   string `json:"action"`
	TimeZone string `json:"timeZone"`
}

func runTimeZone(now time.Time, out *outputWriter) error {
	output := timeZoneOutput{OK: true, Action: "time.zone", TimeZone: localZoneName(now)}
	return out.write(output, func() error {
		out.writeMessage(output.TimeZone)
		return nil
	})
}

type versionOutput struct {
	OK      bool   `json:"ok"`
	Action  string `json:"action"`
	Version string `json:"version"`
}

func runVersion(out *outputWriter) error {
	output := versionOutput{OK: true, Action: "version", Version: version}
	return out.write(output, func() error {
		out.writeMessage("gw " + version)
		return nil
	})
}
