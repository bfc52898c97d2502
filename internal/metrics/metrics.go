// Package metrics defines the Prometheus instrumentation for the chat
// client: token lifecycle, session lifecycle, message delivery, and emote
// cache activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokenRefreshesTotal counts OAuth refresh attempts by result.
	TokenRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twitchchat_token_refreshes_total",
		Help: "OAuth token refresh attempts by result (ok/failed).",
	}, []string{"result"})

	// DeviceFlowsTotal counts device-code flows by outcome.
	DeviceFlowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twitchchat_device_flows_total",
		Help: "Device-code authorization flows by outcome (granted/expired).",
	}, []string{"outcome"})

	// SessionsOpenedTotal counts EventSub WebSocket sessions opened.
	SessionsOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "twitchchat_sessions_opened_total",
		Help: "EventSub WebSocket sessions opened.",
	})

	// SubscriptionsTotal counts subscription-creation attempts by result.
	SubscriptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twitchchat_subscriptions_total",
		Help: "EventSub subscription creation attempts by result (ok/failed).",
	}, []string{"result"})

	// MessagesDeliveredTotal counts chat messages delivered to observers.
	MessagesDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "twitchchat_messages_delivered_total",
		Help: "Normalized chat messages delivered to observers.",
	})

	// EmoteDownloadsTotal counts emote image downloads by result.
	EmoteDownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twitchchat_emote_downloads_total",
		Help: "Emote image downloads by result (ok/failed).",
	}, []string{"result"})
)
