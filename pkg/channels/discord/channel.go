// Package discord implements the Discord channel: a hand-rolled gateway
// v10 client over websocket, a rate-limit-aware REST client, and the
// policy/pairing filtering that turns raw MESSAGE_CREATE dispatches into
// normalized bus envelopes.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tinyland-inc/bridgeclaw/pkg/bus"
	"github.com/tinyland-inc/bridgeclaw/pkg/channels"
	"github.com/tinyland-inc/bridgeclaw/pkg/config"
	"github.com/tinyland-inc/bridgeclaw/pkg/logger"
	"github.com/tinyland-inc/bridgeclaw/pkg/pairing"
	"github.com/tinyland-inc/bridgeclaw/pkg/ratelimit"
)

const replyTimeout = 15 * time.Second

func init() {
	channels.Register("discord",
		func(cfg *config.Config) bool { return cfg.Channels.Discord.Enabled },
		func(cfg *config.Config, b *bus.MessageBus) (channels.Channel, error) {
			return New(cfg, b)
		},
	)
}

// DiscordChannel composes the gateway client, the REST client, the rate
// limiter, and the pairing store into one platform integration.
type DiscordChannel struct {
	*channels.BaseChannel
	cfg     *config.Config
	dcfg    *config.DiscordConfig
	gateway *Gateway
	rest    *RestClient
	limiter *ratelimit.Limiter
	pairing *pairing.Store

	mu        sync.Mutex
	botUserID string

	runCancel context.CancelFunc
	runDone   chan struct{}
}

func New(cfg *config.Config, b *bus.MessageBus) (*DiscordChannel, error) {
	dc := &cfg.Channels.Discord
	if dc.BotToken == "" {
		return nil, fmt.Errorf("discord: bot_token is required")
	}

	// The channel works on its own copy of the mapping; pairing updates
	// write through to the config separately.
	mapping := make(map[string]string, len(dc.ExternalUserMapping))
	for k, v := range dc.ExternalUserMapping {
		mapping[k] = v
	}

	c := &DiscordChannel{
		BaseChannel: channels.NewBaseChannel("discord", b, dc.AllowedIDs,
			channels.WithMaxMessageLength(maxMessageLength),
			channels.WithUserMapping(mapping)),
		cfg:     cfg,
		dcfg:    dc,
		rest:    NewRestClient(dc.BotToken),
		limiter: ratelimit.NewLimiter(dc.RateLimit, dc.RateLimitHour),
		pairing: pairing.NewStore(pairing.DefaultTTL),
	}

	c.gateway = NewGateway(dc.BotToken)
	c.gateway.OnReady(c.handleReady)
	c.gateway.OnDispatch(c.handleDispatch)
	return c, nil
}

// Start launches the gateway connection loop. The loop runs on its own
// background context so it outlives the caller's setup context.
func (c *DiscordChannel) Start(context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	c.runCancel = cancel
	c.runDone = make(chan struct{})

	go func() {
		defer close(c.runDone)
		if err := c.gateway.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.ErrorCF("discord", "gateway stopped", map[string]any{"error": err.Error()})
		}
		c.SetRunning(false)
	}()

	c.SetRunning(true)
	logger.InfoC("discord", "channel started")
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	if c.runCancel != nil {
		c.runCancel()
	}
	c.gateway.Close()
	if c.runDone != nil {
		select {
		case <-c.runDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.SetRunning(false)
	logger.InfoC("discord", "channel stopped")
	return nil
}

// Send delivers one already-chunked outbound message.
func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	_, err := c.rest.CreateMessage(ctx, msg.ChatID, msg.Content)
	return err
}

// SendTyping shows the typing indicator; callers refresh it on a cadence
// while a reply is in flight.
func (c *DiscordChannel) SendTyping(ctx context.Context, chatID string) error {
	return c.rest.TriggerTyping(ctx, chatID)
}

// PairingStore exposes the live pairing requests for administrative
// inspection.
func (c *DiscordChannel) PairingStore() *pairing.Store { return c.pairing }

// RateLimiter exposes the per-user limiter so maintenance jobs can reset
// accumulated counters.
func (c *DiscordChannel) RateLimiter() *ratelimit.Limiter { return c.limiter }

func (c *DiscordChannel) handleReady(sessionID, resumeURL string, botUser User) {
	c.mu.Lock()
	c.botUserID = botUser.ID
	c.mu.Unlock()
}

func (c *DiscordChannel) handleDispatch(eventType string, data json.RawMessage) {
	if eventType != "MESSAGE_CREATE" {
		return
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		logger.WarnCF("discord", "malformed message payload", map[string]any{"error": err.Error()})
		return
	}
	c.handleMessage(m)
}

// handleMessage applies the inbound filter chain in order: self/bot,
// policy, rate limit, should-respond, mention stripping. A rejection at
// any stage drops the message without error.
func (c *DiscordChannel) handleMessage(m Message) {
	c.mu.Lock()
	botID := c.botUserID
	c.mu.Unlock()

	if m.Author.Bot || (botID != "" && m.Author.ID == botID) {
		return
	}

	if m.IsDM() {
		switch c.dcfg.DMPolicy {
		case config.PolicyDisabled:
			logger.DebugCF("discord", "dm dropped by policy", map[string]any{"sender": m.Author.ID})
			return
		case config.PolicyPairing:
			if !c.HasUserMapping(m.Author.ID) {
				c.handlePairing(m)
				return
			}
		}
	} else {
		switch c.dcfg.GroupPolicy {
		case config.PolicyDisabled:
			return
		case config.PolicyAllowlist:
			if !c.IsAllowed(m.ChannelID) {
				logger.DebugCF("discord", "group not in allowlist", map[string]any{"chat": m.ChannelID})
				return
			}
		case config.PolicyPairing:
			if !c.HasUserMapping(m.Author.ID) {
				c.handlePairing(m)
				return
			}
		}
	}

	if !c.limiter.Allow(m.Author.ID) {
		logger.DebugCF("discord", "rate limited", map[string]any{"sender": m.Author.ID})
		return
	}

	if !c.shouldRespond(m, botID) {
		return
	}

	content := stripMentions(m.Content, botID)
	if content == "" && len(m.Attachments) == 0 {
		return
	}

	var threadID string
	if m.IsThread() {
		threadID = m.ChannelID
	}

	atts := make([]bus.Attachment, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		atts = append(atts, bus.Attachment{
			URL:      a.URL,
			Filename: a.Filename,
			MIMEType: a.ContentType,
		})
	}

	var metadata map[string]string
	if m.GuildID != "" {
		metadata = map[string]string{"guild_id": m.GuildID}
	}

	env := c.Envelope(m.Author.ID, m.Author.Username, m.ChannelID, threadID,
		content, !m.IsDM(), atts, metadata)
	env.MessageID = m.ID

	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()
	if err := c.Publish(ctx, env); err != nil {
		logger.ErrorCF("discord", "publish failed", map[string]any{"error": err.Error()})
	}
}

// shouldRespond: DMs always get a reply; in a guild the bot replies only
// when mentioned, or when the source channel is auto-respond and mentions
// are not required.
func (c *DiscordChannel) shouldRespond(m Message, botID string) bool {
	if m.IsDM() {
		return true
	}
	for _, u := range m.Mentions {
		if u.ID == botID {
			return true
		}
	}
	if c.dcfg.RequireMention {
		return false
	}
	for _, id := range c.dcfg.AutoRespondChannels {
		if id == m.ChannelID {
			return true
		}
	}
	return false
}

// handlePairing runs the restricted-DM first-contact flow. A message
// carrying the sender's live code confirms the pairing; anything else
// issues (or refreshes) a code. Neither path reaches the pipeline.
func (c *DiscordChannel) handlePairing(m Message) {
	if req, ok := c.pairing.Match(m.Author.ID, m.Content); ok {
		c.completePairing(req)
		c.reply(m.ChannelID, "Pairing confirmed. You can chat with me now.")
		return
	}

	req, err := c.pairing.Begin(m.Author.ID, m.ChannelID)
	if err != nil {
		logger.ErrorCF("discord", "pairing begin failed", map[string]any{"error": err.Error()})
		return
	}
	logger.InfoCF("discord", "pairing requested", map[string]any{
		"sender": m.Author.ID, "code": req.Code,
	})

	// Codes go to the sender's DM even if the trigger arrived elsewhere.
	chatID := m.ChannelID
	if !m.IsDM() {
		ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
		dmID, err := c.rest.CreateDMChannel(ctx, m.Author.ID)
		cancel()
		if err != nil {
			logger.ErrorCF("discord", "could not open pairing DM", map[string]any{"error": err.Error()})
			return
		}
		chatID = dmID
	}
	c.reply(chatID, fmt.Sprintf(
		"Hi! This bot is restricted. Your pairing code is **%s**. "+
			"Reply with the code (or have the owner approve it) within %d minutes to link your account.",
		req.Code, int(pairing.DefaultTTL.Minutes())))
}

// completePairing persists the sender→owner mapping into the live channel
// mapping and the loaded config, so it takes effect without a restart.
// Chat confirmation carries no owner account, so the mapping records the
// channel-scoped shadow identity; `pair approve` can bind a real account.
func (c *DiscordChannel) completePairing(req *pairing.Request) {
	owner := bus.ShadowAccountID(c.Name(), req.SenderID)
	c.AddUserMapping(req.SenderID, owner)

	c.mu.Lock()
	if c.dcfg.ExternalUserMapping == nil {
		c.dcfg.ExternalUserMapping = make(map[string]string)
	}
	c.dcfg.ExternalUserMapping[req.SenderID] = owner
	c.mu.Unlock()

	if err := c.cfg.Save(); err != nil {
		logger.WarnCF("discord", "could not persist pairing", map[string]any{"error": err.Error()})
	}
	logger.InfoCF("discord", "pairing confirmed", map[string]any{"sender": req.SenderID})
}

func (c *DiscordChannel) reply(chatID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()
	if _, err := c.rest.CreateMessage(ctx, chatID, text); err != nil {
		logger.ErrorCF("discord", "reply failed", map[string]any{"error": err.Error()})
	}
}

func stripMentions(content, botID string) string {
	if botID != "" {
		content = strings.ReplaceAll(content, "<@"+botID+">", "")
		content = strings.ReplaceAll(content, "<@!"+botID+">", "")
	}
	return strings.TrimSpace(content)
}
