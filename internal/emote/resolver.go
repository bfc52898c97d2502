// Package emote resolves and caches the emote images referenced by chat
// messages. Downloads are fire-and-forget; readiness is determined by
// cache inspection with a bounded sleep-poll wait.
package emote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gjverhoeff/TwitchChatUE5/internal/constants"
	"github.com/gjverhoeff/TwitchChatUE5/internal/logger"
	"github.com/gjverhoeff/TwitchChatUE5/internal/metrics"
	"github.com/gjverhoeff/TwitchChatUE5/internal/twitcherr"
	"github.com/gjverhoeff/TwitchChatUE5/internal/workerpool"
)

// Resolver downloads emote images into a local cache directory, one file
// per emote id. It is safe for concurrent use.
type Resolver struct {
	dir string
	log *logger.Logger

	httpClient *http.Client
	clock      clockwork.Clock

	// urlTemplate is the CDN URL template, overridable in tests.
	urlTemplate string

	mu       sync.Mutex
	inflight map[string]bool
}

// NewResolver creates a Resolver caching into dir. The directory is
// created on demand, not up front.
func NewResolver(dir string, log *logger.Logger) *Resolver {
	return &Resolver{
		dir:         dir,
		log:         log,
		httpClient:  &http.Client{Timeout: constants.DefaultHTTPTimeout},
		clock:       clockwork.NewRealClock(),
		urlTemplate: constants.EmoteCDNTemplate,
		inflight:    make(map[string]bool),
	}
}

// Path returns the cache path for an emote id.
func (r *Resolver) Path(id string) string {
	return filepath.Join(r.dir, id+".png")
}

// DownloadIfNeeded returns true without network action when the asset is
// already cached (or its fetch is already in flight). Otherwise it queues
// an asynchronous CDN fetch and returns true; false means the fetch could
// not be initiated.
func (r *Resolver) DownloadIfNeeded(id string) bool {
	if id == "" {
		return false
	}
	if r.cached(id) {
		return true
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		r.log.Error("Failed to create emote cache directory", "dir", r.dir, "error", err)
		return false
	}

	r.mu.Lock()
	if r.inflight[id] {
		r.mu.Unlock()
		return true
	}
	r.inflight[id] = true
	r.mu.Unlock()

	go r.fetch(id)
	return true
}

// AllDownloaded polls cache presence for every id at a fixed short
// interval until all are present (true) or the deadline passes (false).
// An empty id list returns true immediately. This blocks the calling
// goroutine; never call it from the delivery context.
func (r *Resolver) AllDownloaded(ids []string, deadline time.Time) bool {
	if len(ids) == 0 {
		return true
	}

	for r.clock.Now().Before(deadline) {
		all := true
		for _, id := range ids {
			if !r.cached(id) {
				all = false
				break
			}
		}
		if all {
			return true
		}
		r.clock.Sleep(constants.EmotePollInterval)
	}
	return false
}

// EnsureDownloaded waits like AllDownloaded but surfaces a missed
// deadline as a timeout error, so callers can report which emotes were
// still absent when delivery went ahead.
func (r *Resolver) EnsureDownloaded(ids []string, deadline time.Time) error {
	if r.AllDownloaded(ids, deadline) {
		return nil
	}
	return twitcherr.Timeout(fmt.Sprintf("emotes %v not cached before deadline", ids))
}

// Prefetch queues downloads for every id using a bounded worker pool.
// Missing assets that cannot be queued produce the first error.
func (r *Resolver) Prefetch(ctx context.Context, ids []string) error {
	return workerpool.Run(ctx, ids, constants.EmoteDownloadWorkers, func(_ context.Context, id string) error {
		if !r.DownloadIfNeeded(id) {
			return fmt.Errorf("emote %s: download could not be initiated", id)
		}
		return nil
	})
}

func (r *Resolver) cached(id string) bool {
	_, err := os.Stat(r.Path(id))
	return err == nil
}

func (r *Resolver) fetch(id string) {
	defer func() {
		r.mu.Lock()
		delete(r.inflight, id)
		r.mu.Unlock()
	}()

	resp, err := r.httpClient.Get(fmt.Sprintf(r.urlTemplate, id))
	if err != nil {
		r.log.Warn("Emote download failed", "emote_id", id, "error", err)
		metrics.EmoteDownloadsTotal.WithLabelValues("failed").Inc()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.log.Warn("Emote download rejected", "emote_id", id, "status", resp.StatusCode)
		metrics.EmoteDownloadsTotal.WithLabelValues("failed").Inc()
		return
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		r.log.Warn("Emote download read failed", "emote_id", id, "error", err)
		metrics.EmoteDownloadsTotal.WithLabelValues("failed").Inc()
		return
	}

	if err := os.WriteFile(r.Path(id), data, 0o644); err != nil {
		r.log.Warn("Emote cache write failed", "emote_id", id, "error", err)
		metrics.EmoteDownloadsTotal.WithLabelValues("failed").Inc()
		return
	}

	metrics.EmoteDownloadsTotal.WithLabelValues("ok").Inc()
	r.log.Debug("Emote cached", "emote_id", id)
}
