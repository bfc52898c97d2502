// Package config handles loading, parsing, and persisting the YAML
// settings file for the chat client, with environment variable overrides
// for secrets and atomic write-back after token changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/gjverhoeff/TwitchChatUE5/internal/constants"
)

// DefaultPath is the default settings file location.
const DefaultPath = "configs/twitchchat.yaml"

// Settings mirrors the persisted configuration fields. Tokens are mutable
// and written back after every successful acquisition or refresh.
type Settings struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token"`

	UserName    string `yaml:"username"`
	LastChannel string `yaml:"last_channel"`

	MaxMessages             int `yaml:"max_messages"`
	KeepaliveTimeoutSeconds int `yaml:"keepalive_timeout_seconds"`

	// Port is the legacy IRC connect port. Unused by the EventSub path,
	// kept so existing settings files round-trip.
	Port int `yaml:"port"`

	AutoDownloadEmotes          bool   `yaml:"auto_download_emotes"`
	EmoteDownloadTimeoutSeconds int    `yaml:"emote_download_timeout_seconds"`
	EmoteCacheDir               string `yaml:"emote_cache_dir"`
}

// Store owns the settings file: it loads it once and serializes every
// write-back. Reads return snapshots so callers never observe a
// half-written credential set.
type Store struct {
	mu       sync.RWMutex
	path     string
	settings Settings
}

// Load reads the settings file at path, applies defaults and environment
// overrides, and returns a Store bound to that path. A missing file is not
// an error; defaults and environment values are used instead.
func Load(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}

	// Non-zero defaults are seeded before unmarshaling so a settings file
	// that omits a key keeps the default rather than the zero value.
	s := Settings{AutoDownloadEmotes: true}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parsing settings file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults and environment values only.
	default:
		return nil, fmt.Errorf("reading settings file %s: %w", path, err)
	}

	applyDefaults(&s)
	applyEnvOverrides(&s)

	return &Store{path: path, settings: s}, nil
}

func applyDefaults(s *Settings) {
	if s.MaxMessages == 0 {
		s.MaxMessages = constants.DefaultMaxMessages
	}
	if s.KeepaliveTimeoutSeconds == 0 {
		s.KeepaliveTimeoutSeconds = constants.DefaultKeepaliveSeconds
	}
	if s.EmoteDownloadTimeoutSeconds == 0 {
		s.EmoteDownloadTimeoutSeconds = constants.DefaultEmoteTimeoutSeconds
	}
	if s.EmoteCacheDir == "" {
		s.EmoteCacheDir = filepath.Join("cache", "emotes")
	}
}

// applyEnvOverrides overlays environment variables for secrets so they can
// stay out of the settings file.
func applyEnvOverrides(s *Settings) {
	if v := os.Getenv("TWITCH_CLIENT_ID"); v != "" {
		s.ClientID = v
	}
	if v := os.Getenv("TWITCH_CLIENT_SECRET"); v != "" {
		s.ClientSecret = v
	}
	if v := os.Getenv("TWITCH_ACCESS_TOKEN"); v != "" {
		s.AccessToken = v
	}
	if v := os.Getenv("TWITCH_REFRESH_TOKEN"); v != "" {
		s.RefreshToken = v
	}
}

// Validate checks the configuration for common errors.
func Validate(s Settings) error {
	if s.ClientID == "" {
		return fmt.Errorf("client_id is required (set it in the settings file or TWITCH_CLIENT_ID)")
	}
	if s.ClientSecret == "" {
		return fmt.Errorf("client_secret is required (set it in the settings file or TWITCH_CLIENT_SECRET)")
	}
	if s.MaxMessages < 0 {
		return fmt.Errorf("max_messages must not be negative")
	}
	return nil
}

// Snapshot returns a copy of the current settings.
func (st *Store) Snapshot() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.settings
}

// SaveTokens stores a freshly granted access/refresh token pair and writes
// the settings file back. An empty refresh token leaves the stored one
// untouched.
func (st *Store) SaveTokens(accessToken, refreshToken string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.settings.AccessToken = accessToken
	if refreshToken != "" {
		st.settings.RefreshToken = refreshToken
	}
	return st.saveLocked()
}

// SaveLastChannel records the most recently connected channel.
func (st *Store) SaveLastChannel(channel string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.settings.LastChannel = channel
	return st.saveLocked()
}

// saveLocked writes the settings atomically: temp file in the same
// directory, then rename.
func (st *Store) saveLocked() error {
	dir := filepath.Dir(st.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating settings directory %s: %w", dir, err)
	}

	data, err := yaml.Marshal(st.settings)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	tmpPath := st.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("writing temp settings file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, st.path); err != nil {
		return fmt.Errorf("renaming temp settings file %s to %s: %w", tmpPath, st.path, err)
	}
	return nil
}
