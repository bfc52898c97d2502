package server

import (
	"encoding/json"
	"net/http"
	"time"
)

func (s *DebugServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.status()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"connected": status.Connected,
		"user":      status.User,
		"channel":   status.Channel,
	})
}

func (s *DebugServer) handleMessages(w http.ResponseWriter, _ *http.Request) {
	messages := s.messages()
	result := make([]messageSummary, 0, len(messages))

	for _, m := range messages {
		result = append(result, messageSummary{
			UserName:   m.UserName,
			Text:       m.Text,
			Color:      m.Color,
			EmoteCount: len(m.Emotes),
			Tags:       m.Tags,
		})
	}

	writeJSON(w, http.StatusOK, result)
}

type messageSummary struct {
	UserName   string            `json:"user_name"`
	Text       string            `json:"text"`
	Color      string            `json:"color"`
	EmoteCount int               `json:"emote_count"`
	Tags       map[string]string `json:"tags,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v) //nolint:errcheck
}
