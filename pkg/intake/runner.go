package intake

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tinyland-inc/bridgeclaw/pkg/bus"
	"github.com/tinyland-inc/bridgeclaw/pkg/channels"
	"github.com/tinyland-inc/bridgeclaw/pkg/config"
	"github.com/tinyland-inc/bridgeclaw/pkg/logger"
	"github.com/tinyland-inc/bridgeclaw/pkg/providers/protocoltypes"
	"github.com/tinyland-inc/bridgeclaw/pkg/session"
)

const (
	// typingCadence keeps the indicator alive; platforms expire it after
	// roughly ten seconds.
	typingCadence = 8 * time.Second

	defaultConcurrency = 3

	// processTimeout bounds one pipeline call; shutdown does not cancel
	// in-flight messages, this does.
	processTimeout = 5 * time.Minute

	apologyReply = "Sorry, something went wrong while handling that message. Please try again."

	helpReply = "Commands: !clear resets this conversation, !help shows this message. " +
		"Anything else is sent to the assistant."
)

// Runner consumes inbound envelopes from the bus and drives the AI
// pipeline: per-channel bounded concurrency, typing refresh while a reply
// is in flight, session history, chat commands, and an apology reply when
// the pipeline fails.
type Runner struct {
	bus      *bus.MessageBus
	manager  *channels.Manager
	intake   *Intake
	sessions session.Store

	defaultAgent string
	cadence      time.Duration

	mu   sync.Mutex
	sems map[string]chan struct{}

	wg sync.WaitGroup
}

func NewRunner(cfg *config.Config, b *bus.MessageBus, m *channels.Manager, in *Intake, store session.Store) *Runner {
	sems := map[string]chan struct{}{
		"discord":  make(chan struct{}, concurrency(cfg.Channels.Discord.MaxConcurrent)),
		"telegram": make(chan struct{}, concurrency(cfg.Channels.Telegram.MaxConcurrent)),
		"slack":    make(chan struct{}, concurrency(cfg.Channels.Slack.MaxConcurrent)),
	}
	return &Runner{
		bus:          b,
		manager:      m,
		intake:       in,
		sessions:     store,
		defaultAgent: cfg.Agents.Defaults.ModelName,
		cadence:      typingCadence,
		sems:         sems,
	}
}

func concurrency(n int) int {
	if n <= 0 {
		return defaultConcurrency
	}
	return n
}

// Run consumes inbound envelopes until ctx is cancelled, then waits for
// in-flight messages to finish. An in-flight pipeline call is not
// forcibly cancelled by shutdown; it runs to its own completion.
func (r *Runner) Run(ctx context.Context) {
	for {
		msg, ok := r.bus.ConsumeInbound(ctx)
		if !ok {
			r.wg.Wait()
			return
		}

		sem := r.sem(msg.Channel)
		r.wg.Add(1)
		go func(msg bus.InboundMessage) {
			defer r.wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), processTimeout)
			defer cancel()
			r.handle(hctx, msg)
		}(msg)
	}
}

func (r *Runner) sem(channel string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sems[channel]; ok {
		return s
	}
	s := make(chan struct{}, defaultConcurrency)
	r.sems[channel] = s
	return s
}

func (r *Runner) handle(ctx context.Context, msg bus.InboundMessage) {
	if r.handleCommand(ctx, msg) {
		return
	}

	sess, err := r.sessions.GetOrCreate(msg.SessionKey)
	if err != nil {
		logger.ErrorCF("intake", "session load failed", map[string]any{
			"session": msg.SessionKey, "error": err.Error(),
		})
		r.reply(ctx, msg, apologyReply)
		return
	}

	typingCtx, stopTyping := context.WithCancel(ctx)
	defer stopTyping()
	if ch, ok := r.manager.GetChannel(msg.Channel); ok && channels.SupportsTyping(ch) {
		go r.typingLoop(typingCtx, ch.(channels.TypingCapable), msg.ChatID)
	}

	events, err := r.intake.ProcessMessageStream(ctx, Request{
		Text:    msg.Content,
		UserID:  msg.AccountID,
		Session: msg.SessionKey,
		Channel: msg.Channel,
		Agent:   r.defaultAgent,
		History: sess.Messages,
	})
	if err != nil {
		logger.ErrorCF("intake", "pipeline unavailable", map[string]any{"error": err.Error()})
		r.reply(ctx, msg, apologyReply)
		return
	}

	var reply string
	var pipelineErr error
	for ev := range events {
		switch ev.Type {
		case EventDone:
			if ev.Response != nil {
				reply = ev.Response.Content
			}
		case EventError:
			pipelineErr = ev.Err
		}
	}
	stopTyping()

	if pipelineErr != nil {
		logger.ErrorCF("intake", "pipeline failed", map[string]any{
			"session": msg.SessionKey, "error": pipelineErr.Error(),
		})
		r.reply(ctx, msg, apologyReply)
		return
	}
	if reply == "" {
		return
	}

	r.reply(ctx, msg, reply)

	if err := r.sessions.Append(msg.SessionKey,
		protocoltypes.Message{Role: "user", Content: msg.Content},
		protocoltypes.Message{Role: "assistant", Content: reply},
	); err != nil {
		logger.WarnCF("intake", "session append failed", map[string]any{
			"session": msg.SessionKey, "error": err.Error(),
		})
	}
}

// handleCommand intercepts chat commands; they never reach the pipeline.
func (r *Runner) handleCommand(ctx context.Context, msg bus.InboundMessage) bool {
	switch strings.TrimSpace(msg.Content) {
	case "!clear":
		if err := r.sessions.Clear(msg.SessionKey); err != nil {
			logger.WarnCF("intake", "session clear failed", map[string]any{"error": err.Error()})
			r.reply(ctx, msg, "Could not clear the session.")
			return true
		}
		r.reply(ctx, msg, "Session cleared.")
		return true
	case "!help":
		r.reply(ctx, msg, helpReply)
		return true
	}
	return false
}

func (r *Runner) typingLoop(ctx context.Context, ch channels.TypingCapable, chatID string) {
	ticker := time.NewTicker(r.cadence)
	defer ticker.Stop()

	for {
		if err := ch.SendTyping(ctx, chatID); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) reply(ctx context.Context, msg bus.InboundMessage, text string) {
	err := r.bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel: msg.Target.Channel,
		ChatID:  msg.Target.ChatID,
		Content: text,
	})
	if err != nil {
		logger.ErrorCF("intake", "reply publish failed", map[string]any{"error": err.Error()})
	}
}
