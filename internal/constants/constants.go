// Package constants defines the Twitch OAuth, Helix, and EventSub
// endpoints, the emote CDN template, and default timeout/interval values
// used throughout the chat client.
package constants

import "time"

const (
	// DeviceCodeURL is the Twitch OAuth2 device authorization endpoint.
	DeviceCodeURL = "https://id.twitch.tv/oauth2/device"
	// TokenURL is the Twitch OAuth2 token endpoint, used for both the
	// device-code grant and the refresh-token grant.
	TokenURL = "https://id.twitch.tv/oauth2/token"
	// HelixURL is the base URL for Helix REST API calls.
	HelixURL = "https://api.twitch.tv/helix"
	// EventSubSocketURL is the EventSub WebSocket endpoint. The keepalive
	// timeout is negotiated via the keepalive_timeout_seconds query parameter.
	EventSubSocketURL = "wss://eventsub.wss.twitch.tv/ws"
	// EmoteCDNTemplate is the emote image URL template; the single %s is
	// the emote id.
	EmoteCDNTemplate = "https://static-cdn.jtvnw.net/emoticons/v2/%s/default/dark/3.0"
)

// ChatScopes are the OAuth scopes requested during device code authorization.
const ChatScopes = "user:read:chat"

const (
	// ChatSubscriptionType is the EventSub subscription type for chat messages.
	ChatSubscriptionType = "channel.chat.message"
	// ChatSubscriptionVersion is the subscription version sent on creation.
	ChatSubscriptionVersion = "1"
)

// DefaultUserColor is the hex color used when a chat message carries no
// color tag (Twitch brand purple).
const DefaultUserColor = "#6441A4"

const (
	// MinKeepaliveSeconds is the lower clamp bound for the negotiated
	// WebSocket keepalive timeout.
	MinKeepaliveSeconds = 10
	// MaxKeepaliveSeconds is the upper clamp bound.
	MaxKeepaliveSeconds = 600
	// DefaultKeepaliveSeconds is used when the setting is absent.
	DefaultKeepaliveSeconds = 30
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 15 * time.Second
	// DefaultPollIntervalSeconds is the device-flow poll interval used when
	// the authorization response omits one.
	DefaultPollIntervalSeconds = 5
	// EmotePollInterval is the fixed interval between emote cache presence
	// checks while waiting for downloads.
	EmotePollInterval = 100 * time.Millisecond
	// DefaultEmoteTimeoutSeconds bounds the wait for emote downloads before
	// a message is delivered anyway.
	DefaultEmoteTimeoutSeconds = 5
	// EmoteDownloadWorkers is the number of concurrent emote prefetch workers.
	EmoteDownloadWorkers = 4
	// DefaultMaxMessages is the number of retained chat messages when the
	// setting is absent.
	DefaultMaxMessages = 20
	// DefaultGracefulShutdownTimeout is the timeout for graceful HTTP server
	// shutdown.
	DefaultGracefulShutdownTimeout = 5 * time.Second
)
