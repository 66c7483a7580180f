// Package telegram implements the Telegram channel over long polling.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mymmrac/telego"

	"github.com/tinyland-inc/bridgeclaw/pkg/bus"
	"github.com/tinyland-inc/bridgeclaw/pkg/channels"
	"github.com/tinyland-inc/bridgeclaw/pkg/config"
	"github.com/tinyland-inc/bridgeclaw/pkg/logger"
	"github.com/tinyland-inc/bridgeclaw/pkg/ratelimit"
)

// Telegram's single-message limit.
const maxMessageLength = 4096

const publishTimeout = 15 * time.Second

func init() {
	channels.Register("telegram",
		func(cfg *config.Config) bool { return cfg.Channels.Telegram.Enabled },
		func(cfg *config.Config, b *bus.MessageBus) (channels.Channel, error) {
			return New(cfg, b)
		},
	)
}

type TelegramChannel struct {
	*channels.BaseChannel
	bot     *telego.Bot
	limiter *ratelimit.Limiter

	runCancel context.CancelFunc
	runDone   chan struct{}
}

func New(cfg *config.Config, b *bus.MessageBus) (*TelegramChannel, error) {
	tc := cfg.Channels.Telegram
	if tc.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}

	bot, err := telego.NewBot(tc.Token, telego.WithDefaultLogger(false, true))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	rateLimit := tc.RateLimit
	if rateLimit <= 0 {
		rateLimit = 10
	}
	rateLimitHour := tc.RateLimitHour
	if rateLimitHour <= 0 {
		rateLimitHour = 60
	}

	return &TelegramChannel{
		BaseChannel: channels.NewBaseChannel("telegram", b, tc.AllowedIDs,
			channels.WithMaxMessageLength(maxMessageLength)),
		bot:     bot,
		limiter: ratelimit.NewLimiter(rateLimit, rateLimitHour),
	}, nil
}

func (c *TelegramChannel) Start(context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())

	updates, err := c.bot.UpdatesViaLongPolling(runCtx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("telegram: long polling: %w", err)
	}

	c.runCancel = cancel
	c.runDone = make(chan struct{})
	go func() {
		defer close(c.runDone)
		for update := range updates {
			c.handleUpdate(update)
		}
		c.SetRunning(false)
	}()

	c.SetRunning(true)
	logger.InfoC("telegram", "channel started")
	return nil
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	if c.runCancel != nil {
		c.runCancel()
	}
	if c.runDone != nil {
		select {
		case <-c.runDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.SetRunning(false)
	logger.InfoC("telegram", "channel stopped")
	return nil
}

func (c *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad chat id %q: %w", msg.ChatID, err)
	}
	_, err = c.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   msg.Content,
	})
	return err
}

func (c *TelegramChannel) SendTyping(ctx context.Context, chatID string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad chat id %q: %w", chatID, err)
	}
	return c.bot.SendChatAction(ctx, &telego.SendChatActionParams{
		ChatID: telego.ChatID{ID: id},
		Action: telego.ChatActionTyping,
	})
}

// SendMedia delivers an attachment by URL; Telegram fetches it server-side.
func (c *TelegramChannel) SendMedia(ctx context.Context, chatID string, media bus.Attachment) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad chat id %q: %w", chatID, err)
	}
	_, err = c.bot.SendDocument(ctx, &telego.SendDocumentParams{
		ChatID:   telego.ChatID{ID: id},
		Document: telego.InputFile{URL: media.URL},
		Caption:  media.Filename,
	})
	return err
}

func (c *TelegramChannel) handleUpdate(update telego.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return
	}
	if msg.Text == "" {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !c.IsAllowed(senderID) && !c.IsAllowed(msg.From.Username) {
		logger.DebugCF("telegram", "sender not in allowlist", map[string]any{"sender": senderID})
		return
	}
	if !c.limiter.Allow(senderID) {
		logger.DebugCF("telegram", "rate limited", map[string]any{"sender": senderID})
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	isGroup := msg.Chat.Type != telego.ChatTypePrivate
	var threadID string
	if msg.MessageThreadID != 0 {
		threadID = strconv.Itoa(msg.MessageThreadID)
	}

	env := c.Envelope(senderID, msg.From.Username, chatID, threadID, msg.Text, isGroup, nil, nil)
	env.MessageID = strconv.Itoa(msg.MessageID)

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := c.Publish(ctx, env); err != nil {
		logger.ErrorCF("telegram", "publish failed", map[string]any{"error": err.Error()})
	}
}
