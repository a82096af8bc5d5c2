// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Adapted from github.com/mbrt/gmailctl

// Package reporting renders scope comparisons for humans.
package reporting

import (
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/pmezard/go-difflib/difflib"
)

// ScopeDiff returns a unified diff from the requested scopes to the scopes
// the provider granted, or "" when they match. Order is ignored.
func ScopeDiff(requested, granted []string) (string, error) {
	a := sortedLines(requested)
	b := sortedLines(granted)
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: "requested",
		ToFile:   "granted",
		Context:  len(a) + len(b),
	})
	if err != nil {
		return "", err
	}
	return diff, nil
}

// MissingScopes returns the requested scopes absent from granted.
func MissingScopes(requested, granted []string) []string {
	have := make(map[string]bool, len(granted))
	for _, s := range granted {
		have[s] = true
	}
	var missing []string
	for _, s := range requested {
		if !have[s] {
			missing = append(missing, s)
		}
	}
	return missing
}

func sortedLines(scopes []string) []string {
	lines := make([]string, len(scopes))
	for i, s := range scopes {
		lines[i] = s + "\n"
	}
	sort.Strings(lines)
	return lines
}

// ColorizeDiff colors a unified diff for terminal output. With enabled false
// the diff is returned unchanged.
func ColorizeDiff(diff string, enabled bool) string {
	if !enabled {
		return diff
	}
	coloredDiff := &strings.Builder{}
	lines := strings.Split(diff, "\n")
	colorBold := color.New(color.Bold)
	colorBold.EnableColor()
	colorCyan := color.New(color.FgCyan)
	colorCyan.EnableColor()
	colorRed := color.New(color.FgRed)
	colorRed.EnableColor()
	colorGreen := color.New(color.FgGreen)
	colorGreen.EnableColor()

	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
			colorBold.Fprint(coloredDiff, line)
		case strings.HasPrefix(line, "@@"):
			colorCyan.Fprint(coloredDiff, line)
		case strings.HasPrefix(line, "-"):
			colorRed.Fprint(coloredDiff, line)
		case strings.HasPrefix(line, "+"):
			colorGreen.Fprint(coloredDiff, line)
		default:
			coloredDiff.WriteString(line)
		}
		if i < len(lines)-1 {
			coloredDiff.WriteString("\n")
		}
	}
	return coloredDiff.String()
}
