// Package eventsub owns the EventSub WebSocket session: the handshake,
// the readiness state gating subscription creation, and normalization of
// inbound notifications into chat messages.
package eventsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"github.com/gjverhoeff/TwitchChatUE5/internal/constants"
	"github.com/gjverhoeff/TwitchChatUE5/internal/logger"
	"github.com/gjverhoeff/TwitchChatUE5/internal/metrics"
	"github.com/gjverhoeff/TwitchChatUE5/internal/model"
	"github.com/gjverhoeff/TwitchChatUE5/internal/twitcherr"
)

// Subscriber creates the chat subscription bound to a session id.
// *helix.Client satisfies this interface.
type Subscriber interface {
	CreateChatSubscription(ctx context.Context, botUserID, broadcasterUserID, sessionID string) error
}

// Session is a single EventSub WebSocket connection. It holds the session
// readiness state (bot id, broadcaster id, welcome) and creates the chat
// subscription once all three are known. A transport error or close resets
// all state; reconnecting requires a fresh Session.
type Session struct {
	mu sync.Mutex

	conn *websocket.Conn
	open bool

	// closed is a tombstone set by Close. A closed session never dials:
	// without it, a Close racing Open could leave a live connection that
	// no owner will ever shut down.
	closed bool

	botUserID         string
	broadcasterUserID string
	sessionID         string

	gotBotID         bool
	gotBroadcasterID bool
	gotWelcome       bool

	// subscribeStarted gates subscription creation to a single request
	// per (bot id, broadcaster id, session id) triple.
	subscribeStarted bool
	subscribed       bool

	subscriber Subscriber
	normalizer *Normalizer
	log        *logger.Logger

	// SocketURL is the EventSub endpoint, overridable in tests. Set it
	// before Open.
	SocketURL string

	messages chan *model.ChatMessage
	done     chan struct{}
}

// NewSession creates a Session that will hand normalized messages to the
// returned Messages channel in arrival order.
func NewSession(subscriber Subscriber, normalizer *Normalizer, log *logger.Logger) *Session {
	return &Session{
		subscriber: subscriber,
		normalizer: normalizer,
		log:        log,
		SocketURL:  constants.EventSubSocketURL,
		messages:   make(chan *model.ChatMessage, 64),
		done:       make(chan struct{}),
	}
}

// Open dials the session endpoint with the keepalive parameter clamped to
// [10, 600] and starts the read loop. A session that has already been
// closed refuses to dial.
func (s *Session) Open(ctx context.Context, keepaliveTimeoutSeconds int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session is closed")
	}
	s.mu.Unlock()

	ka := keepaliveTimeoutSeconds
	if ka < constants.MinKeepaliveSeconds {
		ka = constants.MinKeepaliveSeconds
	}
	if ka > constants.MaxKeepaliveSeconds {
		ka = constants.MaxKeepaliveSeconds
	}

	socketURL := fmt.Sprintf("%s?keepalive_timeout_seconds=%d", s.SocketURL, ka)
	conn, _, err := websocket.Dial(ctx, socketURL, &websocket.DialOptions{})
	if err != nil {
		return twitcherr.Network("dialing EventSub socket", err)
	}
	conn.SetReadLimit(1 << 20) // 1 MB

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "disconnect")
		return fmt.Errorf("session closed during dial")
	}
	s.conn = conn
	s.open = true
	s.mu.Unlock()

	metrics.SessionsOpenedTotal.Inc()
	s.log.Info("WebSocket connected; awaiting session_welcome", "keepalive_timeout_seconds", ka)

	go s.readLoop(ctx)
	return nil
}

// Messages returns the channel of normalized chat messages. It is closed
// when the read loop exits.
func (s *Session) Messages() <-chan *model.ChatMessage {
	return s.messages
}

// Done is closed when the session has fully shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close closes the transport if open and clears all session state.
// Safe to call at any time, including more than once. A closed session
// cannot be reopened; reconnecting requires a fresh Session.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.resetLocked()
	s.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "disconnect")
	}
}

// IsOpen reports whether the transport is currently open.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// IsSubscribed reports whether the chat subscription has been created.
func (s *Session) IsSubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed
}

// SetBotUserID records the resolved bot user id and attempts subscription.
func (s *Session) SetBotUserID(ctx context.Context, id string) {
	s.mu.Lock()
	s.botUserID = id
	s.gotBotID = true
	s.mu.Unlock()
	s.TrySubscribe(ctx)
}

// SetBroadcasterUserID records the resolved broadcaster user id and
// attempts subscription.
func (s *Session) SetBroadcasterUserID(ctx context.Context, id string) {
	s.mu.Lock()
	s.broadcasterUserID = id
	s.gotBroadcasterID = true
	s.mu.Unlock()
	s.TrySubscribe(ctx)
}

// TrySubscribe creates the chat subscription once the bot id, broadcaster
// id, and welcome have all arrived. It is a no-op until then, and issues
// at most one creation request per session. The refresh-and-retry policy
// for authorization failures is applied by the subscriber; any remaining
// failure is terminal for this attempt and leaves the session
// non-subscribed.
func (s *Session) TrySubscribe(ctx context.Context) {
	s.mu.Lock()
	if s.subscribed || s.subscribeStarted || !s.gotBotID || !s.gotBroadcasterID || !s.gotWelcome {
		s.mu.Unlock()
		return
	}
	s.subscribeStarted = true
	botID, broadcasterID, sessionID := s.botUserID, s.broadcasterUserID, s.sessionID
	s.mu.Unlock()

	err := s.subscriber.CreateChatSubscription(ctx, botID, broadcasterID, sessionID)
	if err != nil {
		s.log.Error("Subscription failed", "session_id", sessionID, "error", err)
		return
	}

	s.mu.Lock()
	s.subscribed = true
	s.mu.Unlock()
	s.log.Info("Subscribed to chat messages", "session_id", sessionID)
}

func (s *Session) readLoop(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.resetLocked()
		s.mu.Unlock()
		close(s.messages)
		close(s.done)
	}()

	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("WebSocket closed", "error", err)
			}
			return
		}

		s.handleRaw(ctx, data)
	}
}

// handleRaw short-circuits the welcome control message; everything else is
// handed to the normalizer unprocessed.
func (s *Session) handleRaw(ctx context.Context, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Debug("Dropping unparseable frame", "error", err)
		return
	}

	if env.Metadata.MessageType == TypeSessionWelcome {
		var welcome welcomePayload
		if err := json.Unmarshal(env.Payload, &welcome); err != nil || welcome.Session.ID == "" {
			s.log.Error("Malformed session_welcome", "error", err, "payload", string(env.Payload))
			return
		}

		s.mu.Lock()
		s.sessionID = welcome.Session.ID
		s.gotWelcome = true
		s.mu.Unlock()

		s.log.Info("Session welcome received", "session_id", welcome.Session.ID)
		s.TrySubscribe(ctx)
		return
	}

	msg := s.normalizer.Parse(data)
	if msg == nil {
		return
	}

	select {
	case s.messages <- msg:
	case <-ctx.Done():
	}
}

// resetLocked clears every piece of session state. Any reset implies the
// subscribed flag is cleared as well. The closed tombstone is left alone.
func (s *Session) resetLocked() {
	s.conn = nil
	s.open = false
	s.sessionID = ""
	s.botUserID = ""
	s.broadcasterUserID = ""
	s.gotBotID = false
	s.gotBroadcasterID = false
	s.gotWelcome = false
	s.subscribeStarted = false
	s.subscribed = false
}
