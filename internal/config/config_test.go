package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gjverhoeff/TwitchChatUE5/internal/constants"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	s := store.Snapshot()
	if !s.AutoDownloadEmotes {
		t.Error("AutoDownloadEmotes should default to true for a fresh file")
	}
	if s.MaxMessages != constants.DefaultMaxMessages {
		t.Errorf("MaxMessages = %d, want %d", s.MaxMessages, constants.DefaultMaxMessages)
	}
	if s.KeepaliveTimeoutSeconds != constants.DefaultKeepaliveSeconds {
		t.Errorf("KeepaliveTimeoutSeconds = %d, want %d", s.KeepaliveTimeoutSeconds, constants.DefaultKeepaliveSeconds)
	}
	if s.EmoteDownloadTimeoutSeconds != constants.DefaultEmoteTimeoutSeconds {
		t.Errorf("EmoteDownloadTimeoutSeconds = %d, want %d", s.EmoteDownloadTimeoutSeconds, constants.DefaultEmoteTimeoutSeconds)
	}
	if s.EmoteCacheDir == "" {
		t.Error("EmoteCacheDir should have a default")
	}
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := `client_id: abc123
client_secret: shh
username: botaccount
last_channel: somechannel
max_messages: 50
keepalive_timeout_seconds: 45
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	s := store.Snapshot()
	if s.ClientID != "abc123" || s.ClientSecret != "shh" {
		t.Errorf("credentials not loaded: %+v", s)
	}
	if s.UserName != "botaccount" || s.LastChannel != "somechannel" {
		t.Errorf("identity fields not loaded: %+v", s)
	}
	if s.MaxMessages != 50 || s.KeepaliveTimeoutSeconds != 45 {
		t.Errorf("numeric fields not loaded: %+v", s)
	}
}

func TestAutoDownloadEmotesDefault(t *testing.T) {
	t.Run("file without the key keeps the default", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "settings.yaml")
		if err := os.WriteFile(path, []byte("client_id: abc123\n"), 0o600); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}

		store, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if !store.Snapshot().AutoDownloadEmotes {
			t.Error("AutoDownloadEmotes should default to true when the key is absent")
		}
	})

	t.Run("explicit false wins", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "settings.yaml")
		if err := os.WriteFile(path, []byte("auto_download_emotes: false\n"), 0o600); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}

		store, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if store.Snapshot().AutoDownloadEmotes {
			t.Error("explicit auto_download_emotes: false must be honored")
		}
	})
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("client_id: from-file\naccess_token: file-token\n"), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	t.Setenv("TWITCH_CLIENT_ID", "from-env")
	t.Setenv("TWITCH_ACCESS_TOKEN", "env-token")

	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	s := store.Snapshot()
	if s.ClientID != "from-env" {
		t.Errorf("ClientID = %q, want env override", s.ClientID)
	}
	if s.AccessToken != "env-token" {
		t.Errorf("AccessToken = %q, want env override", s.AccessToken)
	}
}

func TestSaveTokensPersistsAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if err := store.SaveTokens("access-1", "refresh-1"); err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}

	// An empty refresh token must not clobber the stored one.
	if err := store.SaveTokens("access-2", ""); err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}

	s := store.Snapshot()
	if s.AccessToken != "access-2" || s.RefreshToken != "refresh-1" {
		t.Errorf("snapshot after save = %+v", s)
	}

	// No temp file may remain after the rename.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp settings file left behind")
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	rs := reloaded.Snapshot()
	if rs.AccessToken != "access-2" || rs.RefreshToken != "refresh-1" {
		t.Errorf("reloaded settings = %+v", rs)
	}
}

func TestSaveLastChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if err := store.SaveLastChannel("newchannel"); err != nil {
		t.Fatalf("SaveLastChannel() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading settings file: %v", err)
	}
	if !strings.Contains(string(data), "last_channel: newchannel") {
		t.Errorf("settings file missing channel: %s", data)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		wantErr  string
	}{
		{
			name:     "valid",
			settings: Settings{ClientID: "id", ClientSecret: "secret"},
		},
		{
			name:     "missing client id",
			settings: Settings{ClientSecret: "secret"},
			wantErr:  "client_id",
		},
		{
			name:     "missing client secret",
			settings: Settings{ClientID: "id"},
			wantErr:  "client_secret",
		},
		{
			name:     "negative max messages",
			settings: Settings{ClientID: "id", ClientSecret: "secret", MaxMessages: -1},
			wantErr:  "max_messages",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.settings)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
