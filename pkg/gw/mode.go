package gw

import "strings"

// Mode selects which OAuth client and flow are used.
type Mode string

const (
	// ModeManaged uses the built-in public client and a cloud relay that
	// performs the code exchange and token refresh.
	ModeManaged Mode = "managed"
	// ModeLocal uses a user-supplied client id/secret and exchanges the code
	// locally.
	ModeLocal Mode = "local"
)

// ParseMode parses a mode name case-insensitively.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ModeManaged):
		return ModeManaged, true
	case string(ModeLocal):
		return ModeLocal, true
	}
	return "", false
}

// ResolveMode decides the effective mode. An explicit value wins, then the
// mode recorded with the saved token, then the configured default, and
// finally managed. Unrecognized explicit or default values are skipped.
func ResolveMode(explicit string, saved *SavedToken, defaultMode string) Mode {
	if m, ok := ParseMode(explicit); ok {
		return m
	}
	if saved != nil && saved.Mode != "" {
		return saved.Mode
	}
	if m, ok := ParseMode(defaultMode); ok {
		return m
	}
	return ModeManaged
}
