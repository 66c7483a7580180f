// Package slack implements the Slack channel over Socket Mode.
package slack

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/tinyland-inc/bridgeclaw/pkg/bus"
	"github.com/tinyland-inc/bridgeclaw/pkg/channels"
	"github.com/tinyland-inc/bridgeclaw/pkg/config"
	"github.com/tinyland-inc/bridgeclaw/pkg/logger"
	"github.com/tinyland-inc/bridgeclaw/pkg/ratelimit"
)

const publishTimeout = 15 * time.Second

func init() {
	channels.Register("slack",
		func(cfg *config.Config) bool { return cfg.Channels.Slack.Enabled },
		func(cfg *config.Config, b *bus.MessageBus) (channels.Channel, error) {
			return New(cfg, b)
		},
	)
}

type SlackChannel struct {
	*channels.BaseChannel
	api     *slack.Client
	socket  *socketmode.Client
	limiter *ratelimit.Limiter

	runCancel context.CancelFunc
	runDone   chan struct{}
}

func New(cfg *config.Config, b *bus.MessageBus) (*SlackChannel, error) {
	sc := cfg.Channels.Slack
	if sc.BotToken == "" || sc.AppToken == "" {
		return nil, fmt.Errorf("slack: bot_token and app_token are required")
	}
	if !strings.HasPrefix(sc.AppToken, "xapp-") {
		return nil, fmt.Errorf("slack: app_token must be an app-level token (xapp-)")
	}

	api := slack.New(sc.BotToken, slack.OptionAppLevelToken(sc.AppToken))

	rateLimit := sc.RateLimit
	if rateLimit <= 0 {
		rateLimit = 10
	}
	rateLimitHour := sc.RateLimitHour
	if rateLimitHour <= 0 {
		rateLimitHour = 60
	}

	return &SlackChannel{
		BaseChannel: channels.NewBaseChannel("slack", b, sc.AllowedIDs),
		api:         api,
		socket:      socketmode.New(api),
		limiter:     ratelimit.NewLimiter(rateLimit, rateLimitHour),
	}, nil
}

func (c *SlackChannel) Start(context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	c.runCancel = cancel
	c.runDone = make(chan struct{})

	go func() {
		if err := c.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			logger.ErrorCF("slack", "socket mode stopped", map[string]any{"error": err.Error()})
		}
	}()
	go func() {
		defer close(c.runDone)
		c.eventLoop(runCtx)
		c.SetRunning(false)
	}()

	c.SetRunning(true)
	logger.InfoC("slack", "channel started")
	return nil
}

func (c *SlackChannel) Stop(ctx context.Context) error {
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
	logger.InfoC("slack", "channel stopped")
	return nil
}

func (c *SlackChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	_, _, err := c.api.PostMessageContext(ctx, msg.ChatID,
		slack.MsgOptionText(msg.Content, false))
	return err
}

func (c *SlackChannel) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.socket.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			if evt.Request != nil {
				c.socket.Ack(*evt.Request)
			}
			if ev, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
				c.handleMessage(ev)
			}
		}
	}
}

func (c *SlackChannel) handleMessage(ev *slackevents.MessageEvent) {
	// Bot echoes and message edits/joins carry a bot id or a subtype.
	if ev.BotID != "" || ev.SubType != "" || ev.User == "" || ev.Text == "" {
		return
	}
	if !c.IsAllowed(ev.User) {
		logger.DebugCF("slack", "sender not in allowlist", map[string]any{"sender": ev.User})
		return
	}
	if !c.limiter.Allow(ev.User) {
		logger.DebugCF("slack", "rate limited", map[string]any{"sender": ev.User})
		return
	}

	isGroup := ev.ChannelType != "im"
	env := c.Envelope(ev.User, "", ev.Channel, ev.ThreadTimeStamp, ev.Text, isGroup, nil, nil)
	env.MessageID = ev.TimeStamp

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := c.Publish(ctx, env); err != nil {
		logger.ErrorCF("slack", "publish failed", map[string]any{"error": err.Error()})
	}
}
