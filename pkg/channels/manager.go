// Package channels defines the channel abstraction, the factory registry,
// and the manager that owns every running channel instance.
package channels

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tinyland-inc/bridgeclaw/pkg/bus"
	"github.com/tinyland-inc/bridgeclaw/pkg/config"
	"github.com/tinyland-inc/bridgeclaw/pkg/logger"
)

// Manager owns the lifecycle of all enabled channel instances. One
// channel's failure to construct, start, stop, or report health never
// affects its siblings.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	bus      *bus.MessageBus
}

// NewManager constructs every registered channel whose enabled flag is set
// in cfg. A factory error is logged and skipped.
func NewManager(cfg *config.Config, b *bus.MessageBus) *Manager {
	m := &Manager{
		channels: make(map[string]Channel),
		bus:      b,
	}

	for _, name := range registeredNames() {
		reg, ok := lookup(name)
		if !ok {
			continue
		}
		if !reg.enabled(cfg) {
			continue
		}
		ch, err := reg.factory(cfg, b)
		if err != nil {
			logger.ErrorCF("manager", "channel construction failed",
				map[string]any{"channel": name, "error": err.Error()})
			continue
		}
		m.channels[name] = ch
	}

	return m
}

// StartAll starts every constructed channel. A single channel's failure
// (error or panic) is logged and does not stop the others.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	for name, ch := range m.channels {
		if err := startGuarded(ctx, ch); err != nil {
			logger.ErrorCF("manager", "channel start failed",
				map[string]any{"channel": name, "error": err.Error()})
			lastErr = err
		} else {
			logger.InfoC("manager", "channel started: "+name)
		}
	}
	return lastErr
}

// StopAll stops every channel with the same isolation guarantee.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, ch := range m.channels {
		if err := stopGuarded(ctx, ch); err != nil {
			logger.ErrorCF("manager", "channel stop failed",
				map[string]any{"channel": name, "error": err.Error()})
		}
	}
}

// GetChannel returns a constructed channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// GetEnabledChannels returns the names of constructed channels, sorted.
func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status reports per-channel availability. A channel whose health check
// panics is reported unavailable rather than taking the manager down.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]Status, 0, len(m.channels))
	for name, ch := range m.channels {
		statuses = append(statuses, Status{
			Name:      name,
			Available: runningGuarded(ch),
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// DispatchOutbound consumes outbound messages from the bus and routes each
// to its channel, splitting to the channel's message-size limit. Blocks
// until ctx is cancelled or the bus closes.
func (m *Manager) DispatchOutbound(ctx context.Context) {
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}

		ch, found := m.GetChannel(msg.Channel)
		if !found {
			logger.WarnCF("manager", "outbound for unknown channel",
				map[string]any{"channel": msg.Channel})
			continue
		}

		limit := 0
		if lp, ok := ch.(MessageLengthProvider); ok {
			limit = lp.MaxMessageLength()
		}
		for _, chunk := range SplitMessage(msg.Content, limit) {
			part := msg
			part.Content = chunk
			part.Attachments = nil
			if err := ch.Send(ctx, part); err != nil {
				logger.ErrorCF("manager", "outbound send failed",
					map[string]any{"channel": msg.Channel, "error": err.Error()})
				break
			}
		}

		if len(msg.Attachments) > 0 {
			mc, ok := ch.(MediaCapable)
			if !ok {
				logger.WarnCF("manager", "channel cannot deliver attachments",
					map[string]any{"channel": msg.Channel, "count": len(msg.Attachments)})
				continue
			}
			for _, att := range msg.Attachments {
				if err := mc.SendMedia(ctx, msg.ChatID, att); err != nil {
					logger.ErrorCF("manager", "outbound media failed",
						map[string]any{"channel": msg.Channel, "error": err.Error()})
					break
				}
			}
		}
	}
}

func startGuarded(ctx context.Context, ch Channel) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during start: %v", r)
		}
	}()
	return ch.Start(ctx)
}

func stopGuarded(ctx context.Context, ch Channel) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during stop: %v", r)
		}
	}()
	return ch.Stop(ctx)
}

func runningGuarded(ch Channel) (running bool) {
	defer func() {
		if r := recover(); r != nil {
			running = false
		}
	}()
	return ch.IsRunning()
}
