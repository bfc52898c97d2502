// Package model defines the chat data types exchanged between the event
// session, the connection controller, and external consumers.
package model

// EmoteOccurrence is a single emote reference inside a chat message.
//
// Begin and End are character (rune) offsets into the message text and
// follow the convention of the source dialect: ranges derived from message
// fragments use an exclusive End (cumulative cursor plus fragment length),
// while ranges from a flat emotes list carry the inclusive End index the
// payload provided. Occurrences are listed in left-to-right order of
// appearance, never sorted.
type EmoteOccurrence struct {
	ID    string `json:"id"`
	Begin int    `json:"begin"`
	End   int    `json:"end"`
}

// ChatMessage is a normalized chat message produced from an EventSub
// notification.
type ChatMessage struct {
	UserName string `json:"user_name"`
	Text     string `json:"text"`

	// Color is the user's display color as a hex string. Defaults to the
	// brand color when the payload carries no color tag.
	Color string `json:"color"`

	Emotes []EmoteOccurrence `json:"emotes,omitempty"`

	// Tags holds auxiliary key/value pairs lifted from the event payload
	// (chatter id, message id, badge info). Keys are unique.
	Tags map[string]string `json:"tags,omitempty"`

	// RawPayload is the unmodified notification JSON the message was
	// parsed from.
	RawPayload string `json:"raw_payload,omitempty"`
}

// EmoteIDs returns the distinct emote ids referenced by the message, in
// order of first appearance.
func (m *ChatMessage) EmoteIDs() []string {
	if len(m.Emotes) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(m.Emotes))
	ids := make([]string, 0, len(m.Emotes))
	for _, e := range m.Emotes {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		ids = append(ids, e.ID)
	}
	return ids
}
