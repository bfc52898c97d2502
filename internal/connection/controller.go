// Package connection implements the top-level chat connection controller:
// it drives authentication, user id resolution, and the EventSub session,
// and fans normalized chat messages out to registered observers on a
// single ordered delivery goroutine.
package connection

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gjverhoeff/TwitchChatUE5/internal/auth"
	"github.com/gjverhoeff/TwitchChatUE5/internal/config"
	"github.com/gjverhoeff/TwitchChatUE5/internal/constants"
	"github.com/gjverhoeff/TwitchChatUE5/internal/emote"
	"github.com/gjverhoeff/TwitchChatUE5/internal/eventsub"
	"github.com/gjverhoeff/TwitchChatUE5/internal/helix"
	"github.com/gjverhoeff/TwitchChatUE5/internal/logger"
	"github.com/gjverhoeff/TwitchChatUE5/internal/metrics"
	"github.com/gjverhoeff/TwitchChatUE5/internal/model"
)

// Observer receives normalized chat messages on the delivery goroutine.
// Implementations must not block; long work belongs on their own
// goroutine.
type Observer func(model.ChatMessage)

// Subscription is a cancellable observer registration.
type Subscription struct {
	id uuid.UUID
	c  *Controller
}

// Cancel removes the observer. Cancelling twice is a no-op.
func (s *Subscription) Cancel() {
	s.c.mu.Lock()
	delete(s.c.observers, s.id)
	s.c.mu.Unlock()
}

// Controller owns the aggregate connection lifecycle. It is constructed
// once by application wiring and injected into consumers; all of its
// methods are safe for concurrent use.
type Controller struct {
	mu sync.Mutex

	store *config.Store
	log   *logger.Logger

	auth   *auth.Manager
	helix  *helix.Client
	emotes *emote.Resolver

	// generation invalidates callbacks from a previous connection; any
	// result arriving with a stale generation is discarded.
	generation uint64

	session      *eventsub.Session
	botLogin     string
	channelLogin string

	observers map[uuid.UUID]Observer
	deliverCh chan model.ChatMessage
	recent    []model.ChatMessage

	// done is closed exactly once by Close. Senders select on it rather
	// than the channel being closed under them.
	done      chan struct{}
	closeOnce sync.Once

	// socketURL is the EventSub endpoint handed to each session,
	// overridable in tests.
	socketURL string
}

// New wires a Controller and its children from the settings store and
// starts the delivery goroutine.
func New(store *config.Store, log *logger.Logger) *Controller {
	s := store.Snapshot()

	authMgr := auth.NewManager(store, log)
	c := &Controller{
		store:     store,
		log:       log,
		auth:      authMgr,
		helix:     helix.NewClient(authMgr, s.ClientID, log),
		emotes:    emote.NewResolver(s.EmoteCacheDir, log),
		observers: make(map[uuid.UUID]Observer),
		deliverCh: make(chan model.ChatMessage, 64),
		done:      make(chan struct{}),
		socketURL: constants.EventSubSocketURL,
	}

	go c.deliverLoop()
	return c
}

// Subscribe registers an observer for normalized chat messages and
// returns its cancellable handle.
func (c *Controller) Subscribe(fn Observer) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := uuid.New()
	c.observers[id] = fn
	return &Subscription{id: id, c: c}
}

// Recent returns a copy of the retained message ring, oldest first.
func (c *Controller) Recent() []model.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ChatMessage, len(c.recent))
	copy(out, c.recent)
	return out
}

// Connect tears down any existing session, then drives token acquisition,
// parallel bot/channel id resolution, and the WebSocket handshake. The
// channel identifier is case-insensitive and may carry a leading '#'.
func (c *Controller) Connect(ctx context.Context, user, channel string) error {
	c.Disconnect()

	channel = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#"))
	user = strings.ToLower(strings.TrimSpace(user))
	if user == "" || channel == "" {
		return fmt.Errorf("both user and channel are required")
	}

	c.mu.Lock()
	c.botLogin = user
	c.channelLogin = channel
	gen := c.generation
	c.mu.Unlock()

	if err := c.store.SaveLastChannel(channel); err != nil {
		c.log.Warn("Failed to persist last channel", "error", err)
	}

	c.log.Info("Connecting", "user", user, "channel", channel)
	return c.auth.EnsureToken(ctx, func() {
		c.beginSession(ctx, gen)
	})
}

// Disconnect closes the transport if open and invalidates all in-flight
// callbacks. Safe to call at any time; state is fully reset before a
// subsequent Connect begins any work.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.generation++
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
}

// IsConnected reports whether the transport is open and the chat
// subscription has been created.
func (c *Controller) IsConnected() bool {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	return sess != nil && sess.IsOpen() && sess.IsSubscribed()
}

// Close shuts the controller down for good: it disconnects and stops the
// delivery goroutine.
func (c *Controller) Close() {
	c.Disconnect()
	c.closeOnce.Do(func() { close(c.done) })
}

// beginSession opens the EventSub socket and resolves both user ids in
// parallel, feeding each completion into the session's subscription
// gating. It runs once a token is available.
func (c *Controller) beginSession(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	sessLog := c.log.WithScope(c.channelLogin)
	normalizer := eventsub.NewNormalizer(c.emotes, sessLog)
	sess := eventsub.NewSession(c.helix, normalizer, sessLog)
	sess.SocketURL = c.socketURL
	c.session = sess
	botLogin, channelLogin := c.botLogin, c.channelLogin
	c.mu.Unlock()

	s := c.store.Snapshot()

	if err := sess.Open(ctx, s.KeepaliveTimeoutSeconds); err != nil {
		c.log.Error("Failed to open EventSub socket", "error", err)
		return
	}

	go c.consume(ctx, gen, sess, s)

	go func() {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return c.resolveInto(gctx, gen, sess, botLogin, sess.SetBotUserID)
		})
		g.Go(func() error {
			return c.resolveInto(gctx, gen, sess, channelLogin, sess.SetBroadcasterUserID)
		})
		if err := g.Wait(); err != nil {
			c.log.Error("User id resolution failed", "error", err)
		}
	}()
}

// resolveInto resolves one login and hands the id to the session unless
// the connection has moved on. A failure here means the session never
// becomes ready; the error is reported through the resolution group.
func (c *Controller) resolveInto(ctx context.Context, gen uint64, sess *eventsub.Session, login string, set func(context.Context, string)) error {
	id, err := c.helix.ResolveUserID(ctx, login)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", login, err)
	}
	if id == "" {
		return fmt.Errorf("no user found for login %q", login)
	}
	if c.currentGeneration() != gen {
		return nil
	}
	set(ctx, id)
	return nil
}

// consume forwards normalized messages from the session to the delivery
// channel. When emote auto-download is enabled it queues the referenced
// downloads and then waits, bounded by the configured timeout, for them
// to land in the cache. Running on a single goroutine keeps per-session
// ordering end to end.
func (c *Controller) consume(ctx context.Context, gen uint64, sess *eventsub.Session, s config.Settings) {
	timeout := time.Duration(s.EmoteDownloadTimeoutSeconds) * time.Second

	for msg := range sess.Messages() {
		if c.currentGeneration() != gen {
			continue // drain stale session output
		}

		if s.AutoDownloadEmotes {
			if ids := msg.EmoteIDs(); len(ids) > 0 {
				if err := c.emotes.Prefetch(ctx, ids); err != nil {
					c.log.Warn("Emote prefetch failed", "emotes", ids, "error", err)
				}
				if err := c.emotes.EnsureDownloaded(ids, time.Now().Add(timeout)); err != nil {
					c.log.Debug("Delivering with incomplete emote cache", "emotes", ids, "error", err)
				}
			}
		}

		if c.currentGeneration() != gen {
			continue
		}

		select {
		case c.deliverCh <- *msg:
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// deliverLoop is the single delivery goroutine: observers always run here,
// one message at a time, preserving arrival order. It exits when Close
// fires the done channel; deliverCh itself is never closed, so late
// senders cannot panic.
func (c *Controller) deliverLoop() {
	for {
		var msg model.ChatMessage
		select {
		case <-c.done:
			return
		case msg = <-c.deliverCh:
		}

		c.mu.Lock()
		observers := make([]Observer, 0, len(c.observers))
		for _, fn := range c.observers {
			observers = append(observers, fn)
		}
		c.appendRecentLocked(msg)
		c.mu.Unlock()

		for _, fn := range observers {
			fn(msg)
		}
		metrics.MessagesDeliveredTotal.Inc()
	}
}

func (c *Controller) appendRecentLocked(msg model.ChatMessage) {
	maxMessages := c.store.Snapshot().MaxMessages
	if maxMessages <= 0 {
		return
	}
	c.recent = append(c.recent, msg)
	if len(c.recent) > maxMessages {
		c.recent = c.recent[len(c.recent)-maxMessages:]
	}
}

func (c *Controller) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}
