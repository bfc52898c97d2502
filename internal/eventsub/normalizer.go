package eventsub

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/gjverhoeff/TwitchChatUE5/internal/constants"
	"github.com/gjverhoeff/TwitchChatUE5/internal/jsonutil"
	"github.com/gjverhoeff/TwitchChatUE5/internal/logger"
	"github.com/gjverhoeff/TwitchChatUE5/internal/model"
)

// Downloader queues emote image downloads. *emote.Resolver satisfies this
// interface.
type Downloader interface {
	DownloadIfNeeded(id string) bool
}

// tagKeys are the event fields lifted into ChatMessage.Tags when present.
var tagKeys = []string{
	"chatter_user_id",
	"chatter_user_login",
	"broadcaster_user_id",
	"broadcaster_user_login",
	"message_id",
	"message_type",
}

// Normalizer parses raw notification payloads into canonical chat
// messages and queues emote downloads as a side effect.
type Normalizer struct {
	emotes Downloader
	log    *logger.Logger
}

// NewNormalizer creates a Normalizer. emotes may be nil to disable the
// download side effect.
func NewNormalizer(emotes Downloader, log *logger.Logger) *Normalizer {
	return &Normalizer{emotes: emotes, log: log}
}

// Parse returns the normalized chat message for a channel.chat.message
// notification, or nil when the payload lacks envelope metadata or is a
// different message type.
//
// Two emote dialects are supported: fragment lists, where ranges are
// accumulated with an exclusive-end character cursor, and legacy flat
// emote lists carrying explicit inclusive begin/end indices. Each
// dialect's end convention is preserved as-is.
func (n *Normalizer) Parse(raw []byte) *model.ChatMessage {
	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil
	}

	meta := jsonutil.MapFromMap(root, "metadata")
	if meta == nil {
		return nil
	}
	if jsonutil.StringFromMap(meta, "message_type") != TypeNotification ||
		jsonutil.StringFromMap(meta, "subscription_type") != constants.ChatSubscriptionType {
		return nil
	}

	payload := jsonutil.MapFromMap(root, "payload")
	event := jsonutil.MapFromMap(payload, "event")
	if event == nil {
		n.log.Debug("Notification without event payload", "payload", string(raw))
		return nil
	}

	msg := &model.ChatMessage{RawPayload: string(raw)}

	if v := jsonutil.StringFromMap(event, "chatter_user_name"); v != "" {
		msg.UserName = v
	} else {
		msg.UserName = jsonutil.StringFromMap(event, "user_name")
	}

	message := jsonutil.MapFromMap(event, "message")
	if message != nil {
		msg.Text = jsonutil.StringFromMap(message, "text")
	} else {
		msg.Text = jsonutil.StringFromMap(event, "text")
	}

	switch {
	case message != nil:
		msg.Emotes = n.parseFragments(jsonutil.SliceFromMap(message, "fragments"))
	default:
		msg.Emotes = n.parseLegacyEmotes(jsonutil.SliceFromMap(event, "emotes"))
	}

	if color := jsonutil.StringFromMap(event, "color"); color != "" {
		msg.Color = color
	} else {
		msg.Color = constants.DefaultUserColor
	}

	for _, key := range tagKeys {
		if v := jsonutil.StringFromMap(event, key); v != "" {
			if msg.Tags == nil {
				msg.Tags = make(map[string]string)
			}
			msg.Tags[key] = v
		}
	}

	return msg
}

// parseFragments derives emote ranges by advancing a character cursor
// across the ordered text/emote fragments. The end offset is the cursor
// past the fragment (exclusive).
func (n *Normalizer) parseFragments(fragments []any) []model.EmoteOccurrence {
	var out []model.EmoteOccurrence
	cursor := 0
	for _, v := range fragments {
		frag, ok := v.(map[string]any)
		if !ok {
			continue
		}
		text := jsonutil.StringFromMap(frag, "text")
		length := utf8.RuneCountInString(text)

		if jsonutil.StringFromMap(frag, "type") == "emote" {
			if em := jsonutil.MapFromMap(frag, "emote"); em != nil {
				id := jsonutil.StringFromMap(em, "id")
				out = append(out, model.EmoteOccurrence{ID: id, Begin: cursor, End: cursor + length})
				n.download(id)
			}
		}
		cursor += length
	}
	return out
}

// parseLegacyEmotes reads a flat emotes list with explicit inclusive
// begin/end indices into the message text.
func (n *Normalizer) parseLegacyEmotes(emotes []any) []model.EmoteOccurrence {
	var out []model.EmoteOccurrence
	for _, v := range emotes {
		obj, ok := v.(map[string]any)
		if !ok {
			continue
		}
		id := jsonutil.StringFromMap(obj, "id")
		out = append(out, model.EmoteOccurrence{
			ID:    id,
			Begin: jsonutil.IntFromMap(obj, "begin"),
			End:   jsonutil.IntFromMap(obj, "end"),
		})
		n.download(id)
	}
	return out
}

func (n *Normalizer) download(id string) {
	if n.emotes == nil || id == "" {
		return
	}
	n.emotes.DownloadIfNeeded(id)
}
