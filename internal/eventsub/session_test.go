package eventsub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSubscriber records subscription requests and returns a scripted error.
type fakeSubscriber struct {
	mu    sync.Mutex
	calls []subscribeCall
	err   error
}

type subscribeCall struct {
	botUserID         string
	broadcasterUserID string
	sessionID         string
}

func (f *fakeSubscriber) CreateChatSubscription(_ context.Context, botUserID, broadcasterUserID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, subscribeCall{botUserID, broadcasterUserID, sessionID})
	return f.err
}

func (f *fakeSubscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestSession(t *testing.T, sub Subscriber) *Session {
	t.Helper()
	log := testLogger(t)
	return NewSession(sub, NewNormalizer(nil, log), log)
}

const welcomeFrame = `{
	"metadata": {"message_type": "session_welcome"},
	"payload": {"session": {"id": "sess-abc"}}
}`

func TestSubscribeWaitsForAllThreeInputs(t *testing.T) {
	sub := &fakeSubscriber{}
	s := newTestSession(t, sub)
	ctx := context.Background()

	s.SetBotUserID(ctx, "bot-1")
	assert.Equal(t, 0, sub.callCount(), "bot id alone must not subscribe")

	s.SetBroadcasterUserID(ctx, "caster-2")
	assert.Equal(t, 0, sub.callCount(), "both ids without welcome must not subscribe")

	s.handleRaw(ctx, []byte(welcomeFrame))
	require.Equal(t, 1, sub.callCount(), "welcome completes the readiness triple")

	assert.Equal(t, subscribeCall{"bot-1", "caster-2", "sess-abc"}, sub.calls[0])
	assert.True(t, s.IsSubscribed())
}

func TestSubscribeOrderIndependent(t *testing.T) {
	sub := &fakeSubscriber{}
	s := newTestSession(t, sub)
	ctx := context.Background()

	// Welcome first, ids afterwards.
	s.handleRaw(ctx, []byte(welcomeFrame))
	assert.Equal(t, 0, sub.callCount())

	s.SetBroadcasterUserID(ctx, "caster-2")
	assert.Equal(t, 0, sub.callCount())

	s.SetBotUserID(ctx, "bot-1")
	require.Equal(t, 1, sub.callCount())
}

func TestSubscribeAtMostOncePerSession(t *testing.T) {
	sub := &fakeSubscriber{}
	s := newTestSession(t, sub)
	ctx := context.Background()

	s.SetBotUserID(ctx, "bot-1")
	s.SetBroadcasterUserID(ctx, "caster-2")
	s.handleRaw(ctx, []byte(welcomeFrame))
	require.Equal(t, 1, sub.callCount())

	// Redundant triggers must not issue a second request.
	s.SetBotUserID(ctx, "bot-1")
	s.TrySubscribe(ctx)
	assert.Equal(t, 1, sub.callCount())
}

func TestSubscribeFailureIsTerminal(t *testing.T) {
	sub := &fakeSubscriber{err: errors.New("subscription: denied")}
	s := newTestSession(t, sub)
	ctx := context.Background()

	s.SetBotUserID(ctx, "bot-1")
	s.SetBroadcasterUserID(ctx, "caster-2")
	s.handleRaw(ctx, []byte(welcomeFrame))

	require.Equal(t, 1, sub.callCount())
	assert.False(t, s.IsSubscribed())

	// No automatic second attempt on this session.
	s.TrySubscribe(ctx)
	assert.Equal(t, 1, sub.callCount())
}

func TestMalformedWelcomeIsIgnored(t *testing.T) {
	sub := &fakeSubscriber{}
	s := newTestSession(t, sub)
	ctx := context.Background()

	s.SetBotUserID(ctx, "bot-1")
	s.SetBroadcasterUserID(ctx, "caster-2")
	s.handleRaw(ctx, []byte(`{"metadata": {"message_type": "session_welcome"}, "payload": {"session": {}}}`))

	assert.Equal(t, 0, sub.callCount(), "welcome without a session id must not complete readiness")
	assert.False(t, s.IsSubscribed())
}

func TestCloseResetsState(t *testing.T) {
	sub := &fakeSubscriber{}
	s := newTestSession(t, sub)
	ctx := context.Background()

	s.SetBotUserID(ctx, "bot-1")
	s.SetBroadcasterUserID(ctx, "caster-2")
	s.handleRaw(ctx, []byte(welcomeFrame))
	require.True(t, s.IsSubscribed())

	s.Close()
	assert.False(t, s.IsOpen())
	assert.False(t, s.IsSubscribed())
}

func TestOpenRefusedAfterClose(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn.CloseNow()
	}))
	defer srv.Close()

	s := newTestSession(t, &fakeSubscriber{})
	s.SocketURL = "ws" + strings.TrimPrefix(srv.URL, "http")

	// A disconnect that lands before the dial must win: the session is
	// tombstoned and a late Open must not bring up an unowned connection.
	s.Close()

	err := s.Open(context.Background(), 30)
	require.Error(t, err)
	assert.False(t, s.IsOpen())
	assert.Equal(t, int32(0), dials.Load(), "a closed session must never dial")
}

func TestSessionOverWebSocket(t *testing.T) {
	notification := `{
		"metadata": {"message_type": "notification", "subscription_type": "channel.chat.message"},
		"payload": {"event": {"chatter_user_name": "Viewer", "message": {"text": "hi", "fragments": [{"type": "text", "text": "hi"}]}}}
	}`

	serverDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("keepalive_timeout_seconds"); got != "10" {
			t.Errorf("keepalive_timeout_seconds = %q, want clamp to 10", got)
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		if err := conn.Write(ctx, websocket.MessageText, []byte(welcomeFrame)); err != nil {
			t.Errorf("writing welcome: %v", err)
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, []byte(notification)); err != nil {
			t.Errorf("writing notification: %v", err)
			return
		}
		<-serverDone
	}))
	defer srv.Close()
	defer close(serverDone)

	sub := &fakeSubscriber{}
	s := newTestSession(t, sub)
	s.SocketURL = "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.SetBotUserID(ctx, "bot-1")
	s.SetBroadcasterUserID(ctx, "caster-2")
	require.NoError(t, s.Open(ctx, 7)) // below the minimum, clamped on the wire
	require.True(t, s.IsOpen())

	select {
	case msg := <-s.Messages():
		require.NotNil(t, msg)
		assert.Equal(t, "Viewer", msg.UserName)
		assert.Equal(t, "hi", msg.Text)
	case <-ctx.Done():
		t.Fatal("no message received")
	}

	require.Eventually(t, func() bool { return s.IsSubscribed() }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, sub.callCount())
	assert.Equal(t, "sess-abc", sub.calls[0].sessionID, "subscription must reference the welcome session id")

	s.Close()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not shut down")
	}
}
