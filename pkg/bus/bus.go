// Package bus carries normalized messages between channels and the intake
// layer. Channels publish inbound envelopes; the intake loop consumes them
// and publishes outbound replies, which the channel manager dispatches back
// to the owning channel.
package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrBusClosed is returned when publishing to a closed MessageBus.
var ErrBusClosed = errors.New("message bus closed")

const defaultBufferSize = 100

type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	done     chan struct{}
	closed   atomic.Bool
}

// BusOption configures a MessageBus at construction.
type BusOption func(*busConfig)

type busConfig struct {
	inboundSize  int
	outboundSize int
}

// WithInboundBuffer sets the inbound queue capacity. Zero makes publishes
// rendezvous with the consumer.
func WithInboundBuffer(n int) BusOption {
	return func(c *busConfig) { c.inboundSize = n }
}

// WithOutboundBuffer sets the outbound queue capacity.
func WithOutboundBuffer(n int) BusOption {
	return func(c *busConfig) { c.outboundSize = n }
}

func NewMessageBus(opts ...BusOption) *MessageBus {
	c := busConfig{inboundSize: defaultBufferSize, outboundSize: defaultBufferSize}
	for _, opt := range opts {
		opt(&c)
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, c.inboundSize),
		outbound: make(chan OutboundMessage, c.outboundSize),
		done:     make(chan struct{}),
	}
}

func (mb *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case mb.inbound <- msg:
		return nil
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg, ok := <-mb.inbound:
		return msg, ok
	case <-mb.done:
		return InboundMessage{}, false
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

func (mb *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case mb.outbound <- msg:
		return nil
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg, ok := <-mb.outbound:
		return msg, ok
	case <-mb.done:
		return OutboundMessage{}, false
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

func (mb *MessageBus) Close() {
	if mb.closed.CompareAndSwap(false, true) {
		close(mb.done)
	}
}
