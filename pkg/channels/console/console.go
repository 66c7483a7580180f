// Package console implements a local interactive channel on stdin. It
// exercises the same registry, envelope, and session machinery as the
// remote platforms and doubles as the development loop for the pipeline.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/tinyland-inc/bridgeclaw/pkg/bus"
	"github.com/tinyland-inc/bridgeclaw/pkg/channels"
	"github.com/tinyland-inc/bridgeclaw/pkg/config"
	"github.com/tinyland-inc/bridgeclaw/pkg/logger"
)

const publishTimeout = 15 * time.Second

func init() {
	channels.Register("console",
		func(cfg *config.Config) bool { return cfg.Channels.Console.Enabled },
		func(cfg *config.Config, b *bus.MessageBus) (channels.Channel, error) {
			return New(cfg, b)
		},
	)
}

type ConsoleChannel struct {
	*channels.BaseChannel
	rl      *readline.Instance
	runDone chan struct{}
}

func New(_ *config.Config, b *bus.MessageBus) (*ConsoleChannel, error) {
	rl, err := readline.New("you> ")
	if err != nil {
		return nil, fmt.Errorf("console: %w", err)
	}
	return &ConsoleChannel{
		BaseChannel: channels.NewBaseChannel("console", b, nil),
		rl:          rl,
	}, nil
}

func (c *ConsoleChannel) Start(context.Context) error {
	c.runDone = make(chan struct{})
	go func() {
		defer close(c.runDone)
		c.readLoop()
		c.SetRunning(false)
	}()
	c.SetRunning(true)
	return nil
}

func (c *ConsoleChannel) Stop(ctx context.Context) error {
	c.rl.Close()
	if c.runDone != nil {
		select {
		case <-c.runDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.SetRunning(false)
	return nil
}

func (c *ConsoleChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	_, err := fmt.Fprintf(c.rl.Stdout(), "bot> %s\n", msg.Content)
	return err
}

func (c *ConsoleChannel) readLoop() {
	for {
		line, err := c.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.ErrorCF("console", "read failed", map[string]any{"error": err.Error()})
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		env := c.Envelope("console", "console", "console", "", line, false, nil, nil)
		// No platform message id on stdin; mint one so dedupe and logging
		// behave like the remote channels.
		env.MessageID = uuid.NewString()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := c.Publish(ctx, env); err != nil {
			logger.ErrorCF("console", "publish failed", map[string]any{"error": err.Error()})
		}
		cancel()
	}
}
