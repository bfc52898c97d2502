// Package auth owns the OAuth credential lifecycle: it acquires tokens via
// the device-code flow, refreshes them on demand, and persists every
// change through the settings store.
package auth

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/gjverhoeff/TwitchChatUE5/internal/config"
	"github.com/gjverhoeff/TwitchChatUE5/internal/constants"
	"github.com/gjverhoeff/TwitchChatUE5/internal/logger"
	"github.com/gjverhoeff/TwitchChatUE5/internal/metrics"
	"github.com/gjverhoeff/TwitchChatUE5/internal/twitcherr"
)

// CredentialStore persists OAuth credentials across sessions.
// *config.Store satisfies this interface.
type CredentialStore interface {
	Snapshot() config.Settings
	SaveTokens(accessToken, refreshToken string) error
}

// Manager owns the access/refresh token pair and the device-flow state.
// All credential mutations happen inside this component. It is safe for
// concurrent use.
type Manager struct {
	mu sync.Mutex

	store CredentialStore
	log   *logger.Logger

	httpClient *http.Client
	clock      clockwork.Clock

	// Endpoint URLs, overridable in tests.
	deviceCodeURL string
	tokenURL      string

	// token is the access token in active use.
	token string

	// flow is the active device-flow state; at most one at a time.
	flow *DeviceFlowState

	// refreshDone is non-nil while a refresh is in flight. Concurrent
	// callers wait on it and share the result instead of issuing a
	// second refresh for the same credential set.
	refreshDone chan struct{}
	refreshOK   bool

	// openURL launches the verification URI in a browser. Replaced in tests.
	openURL func(string) error
}

// NewManager creates a Manager backed by the given credential store.
func NewManager(store CredentialStore, log *logger.Logger) *Manager {
	return &Manager{
		store:         store,
		log:           log,
		httpClient:    &http.Client{Timeout: constants.DefaultHTTPTimeout},
		clock:         clockwork.NewRealClock(),
		deviceCodeURL: constants.DeviceCodeURL,
		tokenURL:      constants.TokenURL,
		openURL:       openBrowser,
	}
}

// Token returns the access token currently in use.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// EnsureToken makes an access token available for authenticated calls.
// If the store already holds one it is adopted directly (a legacy "oauth:"
// prefix is stripped) and onReady fires synchronously. Otherwise the
// device-code flow starts and onReady fires from the polling goroutine
// once the user authorizes. Exactly one of the two paths runs per call.
func (m *Manager) EnsureToken(ctx context.Context, onReady func()) error {
	s := m.store.Snapshot()

	token := strings.TrimSpace(s.AccessToken)
	if token != "" {
		token = strings.TrimPrefix(token, "oauth:")
		m.mu.Lock()
		m.token = token
		m.mu.Unlock()
		if onReady != nil {
			onReady()
		}
		return nil
	}

	return m.StartDeviceFlow(ctx, onReady)
}

// RefreshOAuthToken performs a single refresh request and reports the
// outcome through onComplete. It fails fast without a network call when no
// refresh token is stored, and never retries internally. A refresh already
// in flight is shared: concurrent callers block until it finishes and
// receive the same result.
func (m *Manager) RefreshOAuthToken(ctx context.Context, onComplete func(ok bool)) {
	m.mu.Lock()
	if done := m.refreshDone; done != nil {
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			onComplete(false)
			return
		}
		m.mu.Lock()
		ok := m.refreshOK
		m.mu.Unlock()
		onComplete(ok)
		return
	}

	s := m.store.Snapshot()
	if s.RefreshToken == "" {
		m.mu.Unlock()
		m.log.Error("No refresh token available")
		onComplete(false)
		return
	}

	done := make(chan struct{})
	m.refreshDone = done
	m.mu.Unlock()

	ok := m.doRefresh(ctx, s)

	m.mu.Lock()
	m.refreshOK = ok
	m.refreshDone = nil
	m.mu.Unlock()
	close(done)

	onComplete(ok)
}

func (m *Manager) doRefresh(ctx context.Context, s config.Settings) bool {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {s.RefreshToken},
		"client_id":     {s.ClientID},
		"client_secret": {s.ClientSecret},
	}

	status, body, err := m.postForm(ctx, m.tokenURL, form)
	if err != nil {
		m.log.Error("Token refresh request failed", "error", err)
		metrics.TokenRefreshesTotal.WithLabelValues("failed").Inc()
		return false
	}
	if status != http.StatusOK {
		m.log.Error("Token refresh rejected", "status", status, "body", body)
		metrics.TokenRefreshesTotal.WithLabelValues("failed").Inc()
		return false
	}

	tok, err := parseTokenResponse(body)
	if err != nil {
		m.log.Error("Token refresh response malformed", "error", err, "body", body)
		metrics.TokenRefreshesTotal.WithLabelValues("failed").Inc()
		return false
	}

	m.mu.Lock()
	m.token = tok.AccessToken
	m.mu.Unlock()

	if err := m.store.SaveTokens(tok.AccessToken, tok.RefreshToken); err != nil {
		m.log.Warn("Failed to persist refreshed tokens", "error", err)
	} else {
		m.log.Info("Tokens saved after refresh")
	}

	metrics.TokenRefreshesTotal.WithLabelValues("ok").Inc()
	return true
}

// postForm sends a form-encoded POST and returns the status code and body.
func (m *Manager) postForm(ctx context.Context, endpoint string, form url.Values) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return 0, "", twitcherr.Network("creating request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return 0, "", twitcherr.Network("sending request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", twitcherr.Network("reading response", err)
	}
	return resp.StatusCode, string(body), nil
}
