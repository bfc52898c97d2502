package eventsub

import "encoding/json"

// Message types recognized on the EventSub socket.
const (
	TypeSessionWelcome = "session_welcome"
	TypeNotification   = "notification"
)

// Envelope is the outer frame of every EventSub socket message.
type Envelope struct {
	Metadata Metadata        `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

// Metadata describes the message type; subscription_type is only present
// on notifications.
type Metadata struct {
	MessageType      string `json:"message_type"`
	SubscriptionType string `json:"subscription_type"`
}

// welcomePayload is the payload of a session_welcome message.
type welcomePayload struct {
	Session struct {
		ID string `json:"id"`
	} `json:"session"`
}
