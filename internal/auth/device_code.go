package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gjverhoeff/TwitchChatUE5/internal/constants"
	"github.com/gjverhoeff/TwitchChatUE5/internal/metrics"
	"github.com/gjverhoeff/TwitchChatUE5/internal/twitcherr"
)

// DeviceFlowState tracks one in-progress device-code authorization.
// It exists from flow start until the grant succeeds or the code expires.
type DeviceFlowState struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	Interval        time.Duration
	Expiry          time.Time
}

// deviceCodeResponse is the response from the device authorization endpoint.
type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
}

// tokenResponse is a successful response from the token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func parseTokenResponse(body string) (*tokenResponse, error) {
	var tok tokenResponse
	if err := json.Unmarshal([]byte(body), &tok); err != nil {
		return nil, twitcherr.Protocol("parsing token response", err)
	}
	if tok.AccessToken == "" {
		return nil, twitcherr.Protocol("token response missing access_token", nil)
	}
	return &tok, nil
}

// StartDeviceFlow issues a device-authorization request, surfaces the user
// code and verification URI (including opening it in a browser), and
// starts polling the token endpoint on a background goroutine. onReady
// fires once the user authorizes; on expiry polling ends silently.
func (m *Manager) StartDeviceFlow(ctx context.Context, onReady func()) error {
	m.mu.Lock()
	if m.flow != nil {
		m.mu.Unlock()
		return fmt.Errorf("device flow already in progress")
	}
	m.mu.Unlock()

	s := m.store.Snapshot()
	form := url.Values{
		"client_id": {s.ClientID},
		"scopes":    {constants.ChatScopes},
	}

	status, body, err := m.postForm(ctx, m.deviceCodeURL, form)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return twitcherr.Protocol(fmt.Sprintf("device flow start failed (status %d): %s", status, body), nil)
	}

	var dc deviceCodeResponse
	if err := json.Unmarshal([]byte(body), &dc); err != nil {
		return twitcherr.Protocol("parsing device code response", err)
	}
	if dc.DeviceCode == "" || dc.UserCode == "" {
		return twitcherr.Protocol("device code response missing required fields", nil)
	}

	interval := dc.Interval
	if interval <= 0 {
		interval = constants.DefaultPollIntervalSeconds
	}

	flow := &DeviceFlowState{
		DeviceCode:      dc.DeviceCode,
		UserCode:        dc.UserCode,
		VerificationURI: dc.VerificationURI,
		Interval:        time.Duration(interval) * time.Second,
		Expiry:          m.clock.Now().Add(time.Duration(dc.ExpiresIn) * time.Second),
	}

	m.mu.Lock()
	m.flow = flow
	m.mu.Unlock()

	m.log.Info("Device authorization started",
		"verification_uri", flow.VerificationURI,
		"user_code", flow.UserCode,
	)
	if err := m.openURL(flow.VerificationURI); err != nil {
		m.log.Warn("Failed to open verification URI in browser", "error", err)
	}

	go m.pollDeviceToken(ctx, flow, onReady)
	return nil
}

// pollDeviceToken sleeps the poll interval between attempts and issues one
// blocking token request per iteration, so polls never overlap. It stops
// on the first grant or when the device code expires.
func (m *Manager) pollDeviceToken(ctx context.Context, flow *DeviceFlowState, onReady func()) {
	defer func() {
		m.mu.Lock()
		m.flow = nil
		m.mu.Unlock()
	}()

	for m.clock.Now().Before(flow.Expiry) {
		select {
		case <-ctx.Done():
			m.log.Debug("Device flow polling cancelled")
			return
		case <-m.clock.After(flow.Interval):
		}

		tok, err := m.requestDeviceToken(ctx, flow.DeviceCode)
		if err != nil {
			m.log.Debug("Device token poll attempt failed", "error", err)
			continue
		}
		if tok == nil {
			continue // authorization still pending
		}

		m.mu.Lock()
		m.token = tok.AccessToken
		m.mu.Unlock()

		if err := m.store.SaveTokens(tok.AccessToken, tok.RefreshToken); err != nil {
			m.log.Warn("Failed to persist tokens after device flow", "error", err)
		} else {
			m.log.Info("Device flow succeeded; tokens saved")
		}

		metrics.DeviceFlowsTotal.WithLabelValues("granted").Inc()
		if onReady != nil {
			onReady()
		}
		return
	}

	metrics.DeviceFlowsTotal.WithLabelValues("expired").Inc()
	m.log.Warn("Device code expired before authorization",
		"user_code", flow.UserCode)
}

// requestDeviceToken makes a single token request for the device grant.
// Returns (nil, nil) when authorization is still pending.
func (m *Manager) requestDeviceToken(ctx context.Context, deviceCode string) (*tokenResponse, error) {
	s := m.store.Snapshot()
	form := url.Values{
		"client_id":     {s.ClientID},
		"client_secret": {s.ClientSecret},
		"grant_type":    {"urn:ietf:params:oauth:grant-type:device_code"},
		"device_code":   {deviceCode},
	}

	status, body, err := m.postForm(ctx, m.tokenURL, form)
	if err != nil {
		return nil, err
	}

	if status == http.StatusOK {
		return parseTokenResponse(body)
	}

	// Non-200 means the grant has not been approved yet (or the endpoint
	// asked us to slow down); keep polling until the code expires.
	return nil, nil
}
