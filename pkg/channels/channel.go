package channels

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tinyland-inc/bridgeclaw/pkg/bus"
)

// Channel is one platform integration. Implementations own their transport
// for the lifetime between Start and Stop; Send must be safe to call from
// the manager's dispatch goroutine while the receive loop runs.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
}

// Status is one channel's health report.
type Status struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// TypingCapable is an opt-in interface for channels that can show a typing
// indicator. Call sites check SupportsTyping rather than relying on silent
// no-op implementations.
type TypingCapable interface {
	SendTyping(ctx context.Context, chatID string) error
}

// MediaCapable is an opt-in interface for channels that can deliver file
// attachments.
type MediaCapable interface {
	SendMedia(ctx context.Context, chatID string, media bus.Attachment) error
}

// MessageLengthProvider is an opt-in interface advertising a channel's
// maximum outbound message length in runes. The manager splits longer
// messages before Send. A value of 0 means no limit.
type MessageLengthProvider interface {
	MaxMessageLength() int
}

// SupportsTyping reports whether ch implements TypingCapable.
func SupportsTyping(ch Channel) bool {
	_, ok := ch.(TypingCapable)
	return ok
}

// SupportsMedia reports whether ch implements MediaCapable.
func SupportsMedia(ch Channel) bool {
	_, ok := ch.(MediaCapable)
	return ok
}

// BaseChannelOption is a functional option for configuring a BaseChannel.
type BaseChannelOption func(*BaseChannel)

// WithMaxMessageLength sets the maximum outbound message length in runes.
func WithMaxMessageLength(n int) BaseChannelOption {
	return func(c *BaseChannel) { c.maxMessageLength = n }
}

// WithUserMapping sets the sender→owner identity mapping consulted when
// normalizing envelopes. Unmapped senders get a shadow identity.
func WithUserMapping(m map[string]string) BaseChannelOption {
	return func(c *BaseChannel) { c.userMapping = m }
}

// BaseChannel holds the state and normalization logic shared by every
// channel implementation.
type BaseChannel struct {
	bus              *bus.MessageBus
	running          atomic.Bool
	name             string
	allowList        []string
	maxMessageLength int

	// userMapping can grow at runtime (pairing confirmation), so reads
	// and writes go through mappingMu.
	mappingMu   sync.RWMutex
	userMapping map[string]string
}

func NewBaseChannel(name string, b *bus.MessageBus, allowList []string, opts ...BaseChannelOption) *BaseChannel {
	bc := &BaseChannel{
		bus:       b,
		name:      name,
		allowList: allowList,
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

func (c *BaseChannel) Name() string { return c.name }

func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// MaxMessageLength returns the maximum outbound message length in runes.
func (c *BaseChannel) MaxMessageLength() int { return c.maxMessageLength }

// IsAllowed reports whether senderID passes the channel allowlist. An
// empty allowlist admits everyone. Entries may carry a leading "@" for
// username matching.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	for _, allowed := range c.allowList {
		if senderID == allowed || senderID == strings.TrimPrefix(allowed, "@") {
			return true
		}
	}
	return false
}

// AccountIDFor resolves the owner identity for a sender: the explicit
// mapping when present, else a "{channel}_{sender}" shadow identity.
func (c *BaseChannel) AccountIDFor(senderID string) string {
	c.mappingMu.RLock()
	owner, ok := c.userMapping[senderID]
	c.mappingMu.RUnlock()
	if ok && owner != "" {
		return owner
	}
	return bus.ShadowAccountID(c.name, senderID)
}

// HasUserMapping reports whether senderID has an explicit owner mapping.
func (c *BaseChannel) HasUserMapping(senderID string) bool {
	c.mappingMu.RLock()
	defer c.mappingMu.RUnlock()
	_, ok := c.userMapping[senderID]
	return ok
}

// AddUserMapping records a sender→owner mapping at runtime, taking effect
// immediately for subsequent envelopes.
func (c *BaseChannel) AddUserMapping(senderID, ownerID string) {
	c.mappingMu.Lock()
	defer c.mappingMu.Unlock()
	if c.userMapping == nil {
		c.userMapping = make(map[string]string)
	}
	c.userMapping[senderID] = ownerID
}

// Envelope assembles the normalized InboundMessage for one accepted
// platform message. Called exactly once per accepted message.
func (c *BaseChannel) Envelope(
	senderID, senderName, chatID, threadID, content string,
	isGroup bool,
	attachments []bus.Attachment,
	metadata map[string]string,
) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:    c.name,
		SenderID:   senderID,
		SenderName: senderName,
		ChatID:     chatID,
		Content:    content,
		Target: bus.Target{
			Channel: c.name,
			ChatID:  chatID,
		},
		AccountID:   c.AccountIDFor(senderID),
		IsGroup:     isGroup,
		ThreadID:    threadID,
		Attachments: attachments,
		SessionKey:  bus.SessionKeyFor(c.name, senderID, chatID, threadID, isGroup),
		Metadata:    metadata,
	}
}

// Publish hands an envelope to the bus.
func (c *BaseChannel) Publish(ctx context.Context, msg bus.InboundMessage) error {
	return c.bus.PublishInbound(ctx, msg)
}
