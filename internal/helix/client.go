// Package helix implements the authenticated Helix REST calls the chat
// client needs: user id resolution and EventSub subscription creation.
// Every call applies the one-shot refresh-and-retry policy on an
// authorization failure.
package helix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gjverhoeff/TwitchChatUE5/internal/constants"
	"github.com/gjverhoeff/TwitchChatUE5/internal/logger"
	"github.com/gjverhoeff/TwitchChatUE5/internal/metrics"
	"github.com/gjverhoeff/TwitchChatUE5/internal/twitcherr"
)

// TokenSource supplies bearer tokens and the refresh primitive.
// *auth.Manager satisfies this interface.
type TokenSource interface {
	Token() string
	RefreshOAuthToken(ctx context.Context, onComplete func(ok bool))
}

// Client is an authenticated Helix API client.
type Client struct {
	tokens   TokenSource
	clientID string
	log      *logger.Logger

	httpClient *http.Client

	// BaseURL is the Helix API root, overridable in tests.
	BaseURL string
}

// NewClient creates a Helix client using the given token source and
// application client id.
func NewClient(tokens TokenSource, clientID string, log *logger.Logger) *Client {
	return &Client{
		tokens:     tokens,
		clientID:   clientID,
		log:        log,
		httpClient: &http.Client{Timeout: constants.DefaultHTTPTimeout},
		BaseURL:    constants.HelixURL,
	}
}

// ResolveUserID looks up the stable user id for a login name. A lookup
// that succeeds but matches no user returns an empty id and no error.
// On an authorization failure the client refreshes once and retries the
// lookup exactly once; any remaining failure returns an empty id.
func (c *Client) ResolveUserID(ctx context.Context, login string) (string, error) {
	endpoint := fmt.Sprintf("%s/users?login=%s", c.BaseURL, url.QueryEscape(login))

	status, body, err := c.doAuthenticated(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", twitcherr.Protocol(
			fmt.Sprintf("user lookup for %q failed (status %d): %s", login, status, body), nil)
	}

	var result struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return "", twitcherr.Protocol("parsing user lookup response", err)
	}
	if len(result.Data) == 0 {
		return "", nil
	}
	return result.Data[0].ID, nil
}

// CreateChatSubscription creates a channel.chat.message subscription bound
// to the given WebSocket session. Success is any 2xx response. An
// authorization failure triggers one refresh and one retry; any other
// failure is terminal for this attempt.
func (c *Client) CreateChatSubscription(ctx context.Context, botUserID, broadcasterUserID, sessionID string) error {
	payload := map[string]any{
		"type":    constants.ChatSubscriptionType,
		"version": constants.ChatSubscriptionVersion,
		"condition": map[string]string{
			"broadcaster_user_id": broadcasterUserID,
			"user_id":             botUserID,
		},
		"transport": map[string]string{
			"method":     "websocket",
			"session_id": sessionID,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return twitcherr.Protocol("marshaling subscription request", err)
	}

	endpoint := c.BaseURL + "/eventsub/subscriptions"
	status, body, err := c.doAuthenticated(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		metrics.SubscriptionsTotal.WithLabelValues("failed").Inc()
		return err
	}
	if status < 200 || status > 299 {
		metrics.SubscriptionsTotal.WithLabelValues("failed").Inc()
		return twitcherr.Subscription("subscription creation failed", status, body)
	}

	metrics.SubscriptionsTotal.WithLabelValues("ok").Inc()
	return nil
}

// doAuthenticated performs a request with auth headers attached. On a 401
// it refreshes the token exactly once and, only on a successful refresh,
// retries the request exactly once. A second 401 is terminal.
func (c *Client) doAuthenticated(ctx context.Context, build func() (*http.Request, error)) (int, string, error) {
	status, body, err := c.doOnce(build)
	if err != nil {
		return 0, "", err
	}
	if status != http.StatusUnauthorized {
		return status, body, nil
	}

	c.log.Warn("Authenticated call rejected, refreshing token", "status", status)
	if !c.refresh(ctx) {
		return 0, "", twitcherr.Auth("token refresh failed", status, body)
	}

	status, body, err = c.doOnce(build)
	if err != nil {
		return 0, "", err
	}
	if status == http.StatusUnauthorized {
		return 0, "", twitcherr.Auth("request rejected after token refresh", status, body)
	}
	return status, body, nil
}

func (c *Client) doOnce(build func() (*http.Request, error)) (int, string, error) {
	req, err := build()
	if err != nil {
		return 0, "", twitcherr.Network("creating request", err)
	}
	req.Header.Set("Client-Id", c.clientID)
	req.Header.Set("Authorization", "Bearer "+c.tokens.Token())

	resp, err := c.httpClient.Do(req)
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

func (c *Client) refresh(ctx context.Context) bool {
	result := make(chan bool, 1)
	c.tokens.RefreshOAuthToken(ctx, func(ok bool) { result <- ok })
	select {
	case ok := <-result:
		return ok
	case <-ctx.Done():
		return false
	}
}
