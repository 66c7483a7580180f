package bus

import "fmt"

// Peer identifies the routing peer for a message (direct, group, thread).
type Peer struct {
	Kind string `json:"kind"` // "direct" | "group" | ""
	ID   string `json:"id"`
}

// Target identifies where a reply must be delivered. Immutable; built per
// message or per reply.
type Target struct {
	Channel string            `json:"channel"`
	ChatID  string            `json:"chat_id"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// Attachment references a platform file attached to an inbound message.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
}

// InboundMessage is the normalized envelope for one accepted platform
// message. Produced exactly once per accepted message, after all policy
// and rate-limit filtering.
type InboundMessage struct {
	Channel     string            `json:"channel"`
	SenderID    string            `json:"sender_id"`
	SenderName  string            `json:"sender_name,omitempty"`
	ChatID      string            `json:"chat_id"`
	Content     string            `json:"content"`
	Target      Target            `json:"target"`
	AccountID   string            `json:"account_id"`
	IsGroup     bool              `json:"is_group,omitempty"`
	ThreadID    string            `json:"thread_id,omitempty"`
	MessageID   string            `json:"message_id,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	SessionKey  string            `json:"session_key"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type OutboundMessage struct {
	Channel     string            `json:"channel"`
	ChatID      string            `json:"chat_id"`
	Content     string            `json:"content"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ShadowAccountID synthesizes an owner identity for a sender with no
// explicit mapping. The "{channel}_{sender}" form keeps identities from
// distinct channels, and from the real local user, disjoint in storage.
func ShadowAccountID(channel, senderID string) string {
	return fmt.Sprintf("%s_%s", channel, senderID)
}

// SessionKeyFor derives the durable session key for an envelope.
// Thread scope wins over group scope when both are present.
func SessionKeyFor(channel, senderID, chatID, threadID string, isGroup bool) string {
	switch {
	case threadID != "":
		return fmt.Sprintf("%s_thread_%s", channel, threadID)
	case isGroup:
		return fmt.Sprintf("%s_group_%s", channel, chatID)
	default:
		return fmt.Sprintf("%s_%s", channel, senderID)
	}
}
