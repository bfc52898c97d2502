// Package twitcherr defines the error taxonomy shared by the auth, helix,
// and eventsub layers: transport failures, authorization rejections,
// malformed responses, subscription failures, and deadline expiries.
package twitcherr

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for retry policy and logging.
type Kind string

const (
	// KindNetwork is a transport or request failure with no usable response.
	KindNetwork Kind = "network"
	// KindAuth is an authorization rejection on an authenticated call.
	KindAuth Kind = "auth"
	// KindProtocol is a malformed or schema-unexpected response or payload.
	KindProtocol Kind = "protocol"
	// KindSubscription is a non-success, non-auth response from subscription
	// creation.
	KindSubscription Kind = "subscription"
	// KindTimeout is a deadline expiry (device-flow or asset wait).
	KindTimeout Kind = "timeout"
)

// Error carries the error kind plus the HTTP status code and raw body when
// a response was received, so failures stay diagnosable from logs.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Body       string
	Cause      error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s: %s (status %d): %s", e.Kind, e.Message, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.StatusCode)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Cause }

// Network wraps a transport-level failure.
func Network(msg string, cause error) *Error {
	return &Error{Kind: KindNetwork, Message: msg, Cause: cause}
}

// Auth describes an authorization rejection carrying the response details.
func Auth(msg string, status int, body string) *Error {
	return &Error{Kind: KindAuth, Message: msg, StatusCode: status, Body: body}
}

// Protocol describes a malformed or unexpected response.
func Protocol(msg string, cause error) *Error {
	return &Error{Kind: KindProtocol, Message: msg, Cause: cause}
}

// Subscription describes a failed subscription-creation response.
func Subscription(msg string, status int, body string) *Error {
	return &Error{Kind: KindSubscription, Message: msg, StatusCode: status, Body: body}
}

// Timeout describes a deadline expiry.
func Timeout(msg string) *Error {
	return &Error{Kind: KindTimeout, Message: msg}
}

// IsKind reports whether err or any error it wraps is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
