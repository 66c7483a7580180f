package discord

import "encoding/json"

const (
	defaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"
	defaultAPIBase    = "https://discord.com/api/v10"

	// Gateway opcodes (v10).
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11

	// Gateway intents.
	intentGuildMessages  = 1 << 9
	intentDirectMessages = 1 << 12
	intentMessageContent = 1 << 15

	// Single-message content limit.
	maxMessageLength = 2000
)

// payload is one gateway frame: {op, d, s, t}.
type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

type identifyData struct {
	Token      string            `json:"token"`
	Intents    int               `json:"intents"`
	Properties map[string]string `json:"properties"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

type readyData struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
	User             User   `json:"user"`
}

// User is the author block of a gateway or REST payload.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot"`
}

type attachment struct {
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
}

// Message is a MESSAGE_CREATE dispatch payload, reduced to the fields the
// channel consumes.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id,omitempty"`
	Author    User   `json:"author"`
	Content   string `json:"content"`
	// Position is only set on messages posted inside a thread; the
	// MESSAGE_CREATE payload carries no channel type, so its presence is
	// the thread signal.
	Position    *int         `json:"position,omitempty"`
	Mentions    []User       `json:"mentions,omitempty"`
	Attachments []attachment `json:"attachments,omitempty"`
}

// IsThread reports whether the message was posted inside a thread.
func (m Message) IsThread() bool { return m.Position != nil }

// IsDM reports whether the message arrived outside any guild.
func (m Message) IsDM() bool { return m.GuildID == "" }
