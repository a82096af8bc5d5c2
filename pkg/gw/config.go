package gw

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/google/go-jsonnet"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	chat "google.golang.org/api/chat/v1"
	drive "google.golang.org/api/drive/v3"
	gmail "google.golang.org/api/gmail/v1"
)

const (
	// DefaultManagedClientID is the public OAuth client used in managed mode.
	DefaultManagedClientID = "338689075775-o75k922vn5fdl18qergr96rp8g63e4d7.apps.googleusercontent.com"
	// DefaultRelayURL is the cloud relay that completes managed-mode logins.
	DefaultRelayURL = "https://google-workspace-extension.geminicli.com"

	configDirName   = "gworkspace"
	credentialsFile = "credentials.json"
	tokenFile       = "token.json"
	configFile      = "config.jsonnet"
)

// Scopes are the read-only scopes requested by every login.
var Scopes = []string{
	calendar.CalendarReadonlyScope,
	gmail.GmailReadonlyScope,
	drive.DriveReadonlyScope,
	chat.ChatSpacesReadonlyScope,
	chat.ChatMessagesReadonlyScope,
}

// Settings are the raw values gathered from flags and environment variables.
// Empty fields fall back to config.jsonnet and then to built-in defaults.
type Settings struct {
	ConfigDir       string
	CredentialsPath string
	DefaultMode     string
	ClientID        string
	RelayURL        string
}

// fileSettings is the shape of the optional config.jsonnet.
type fileSettings struct {
	DefaultAuthMode string `json:"defaultAuthMode"`
	ClientID        string `json:"clientId"`
	RelayURL        string `json:"relayUrl"`
	CredentialsPath string `json:"credentialsPath"`
}

// Config is the resolved configuration, built once at startup and passed to
// every component that needs it.
type Config struct {
	Dir             string
	TokenPath       string
	ConfigFile      string
	CredentialsPath string
	// DefaultMode is the configured default, possibly empty or unrecognized.
	DefaultMode     string
	ManagedClientID string
	RelayURL        string
	Scopes          []string
	Endpoint        oauth2.Endpoint
}

// DefaultAuthMode is the mode used when neither a flag nor a saved token
// decides it.
func (c *Config) DefaultAuthMode() Mode {
	return ResolveMode("", nil, c.DefaultMode)
}

// LoadConfig resolves s into a Config. The config directory defaults to
// $XDG_CONFIG_HOME/gworkspace.
func LoadConfig(s Settings) (*Config, error) {
	dir := s.ConfigDir
	if dir == "" {
		dir = filepath.Join(xdg.ConfigHome, configDirName)
	}
	dir, err := expandPath(dir)
	if err != nil {
		return nil, newError(KindConfiguration, err, nil, "resolving config directory")
	}

	cfg := &Config{
		Dir:             dir,
		TokenPath:       filepath.Join(dir, tokenFile),
		ConfigFile:      filepath.Join(dir, configFile),
		ManagedClientID: DefaultManagedClientID,
		RelayURL:        DefaultRelayURL,
		Scopes:          append([]string(nil), Scopes...),
		Endpoint:        google.Endpoint,
	}

	fs, err := readConfigFile(cfg.ConfigFile)
	if err != nil {
		return nil, newError(KindConfiguration, err, map[string]interface{}{"configPath": cfg.ConfigFile},
			"reading config file")
	}

	cfg.CredentialsPath = firstNonEmpty(s.CredentialsPath, fs.CredentialsPath, filepath.Join(dir, credentialsFile))
	cfg.DefaultMode = firstNonEmpty(s.DefaultMode, fs.DefaultAuthMode)
	cfg.ManagedClientID = firstNonEmpty(s.ClientID, fs.ClientID, cfg.ManagedClientID)
	cfg.RelayURL = strings.TrimRight(firstNonEmpty(s.RelayURL, fs.RelayURL, cfg.RelayURL), "/")

	if cfg.CredentialsPath, err = expandPath(cfg.CredentialsPath); err != nil {
		return nil, newError(KindConfiguration, err, nil, "resolving credentials path")
	}
	if abs, err := filepath.Abs(cfg.CredentialsPath); err == nil {
		cfg.CredentialsPath = abs
	}

	if err := cfg.Validate(); err != nil {
		return nil, newError(KindConfiguration, err, nil, "invalid configuration")
	}

	if cfg.DefaultMode != "" {
		if _, ok := ParseMode(cfg.DefaultMode); !ok {
			log.Warnf("Ignoring unknown default auth mode %q", cfg.DefaultMode)
		}
	}

	log.Debugf("Config directory: %s", cfg.Dir)
	log.Debugf("Token file: %s", cfg.TokenPath)
	log.Debugf("Credentials file: %s", cfg.CredentialsPath)
	log.Debugf("Relay: %s", cfg.RelayURL)
	return cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.ManagedClientID == "" {
		result = multierror.Append(result, errors.New("managed client id must not be empty"))
	}
	u, err := url.Parse(c.RelayURL)
	switch {
	case err != nil:
		result = multierror.Append(result, errors.Wrapf(err, "relay url %q", c.RelayURL))
	case u.Scheme != "http" && u.Scheme != "https", u.Host == "":
		result = multierror.Append(result, fmt.Errorf("relay url %q must be an absolute http(s) URL", c.RelayURL))
	}
	if c.Dir == "" {
		result = multierror.Append(result, errors.New("config directory must not be empty"))
	}
	return result.ErrorOrNil()
}

func readConfigFile(p string) (fileSettings, error) {
	var fs fileSettings
	b, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return fs, err
	}
	vm := jsonnet.MakeVM()
	vm.Importer(&jsonnet.FileImporter{
		JPaths: []string{path.Dir(p)},
	})
	js, err := vm.EvaluateAnonymousSnippet(p, string(b))
	if err != nil {
		return fs, errors.Wrap(err, "evaluating jsonnet")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(js)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fs); err != nil {
		return fs, errors.Wrap(err, "decoding config")
	}
	return fs, nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(p string) (string, error) {
	if p == "" || p[0] != '~' {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "cannot determine home directory")
	}
	return filepath.Join(home, p[1:]), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
