package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageBus_InboundBufferCapacity(t *testing.T) {
	mb := NewMessageBus(WithInboundBuffer(2))
	defer mb.Close()

	ctx := context.Background()
	require.NoError(t, mb.PublishInbound(ctx, InboundMessage{Content: "a"}))
	require.NoError(t, mb.PublishInbound(ctx, InboundMessage{Content: "b"}))

	// Queue full: a publish with an expired deadline must not block forever.
	full, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := mb.PublishInbound(full, InboundMessage{Content: "c"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	msg, ok := mb.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", msg.Content)
}

func TestMessageBus_OutboundBufferCapacity(t *testing.T) {
	mb := NewMessageBus(WithOutboundBuffer(1))
	defer mb.Close()

	ctx := context.Background()
	require.NoError(t, mb.PublishOutbound(ctx, OutboundMessage{Content: "x"}))

	full, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, mb.PublishOutbound(full, OutboundMessage{Content: "y"}), context.DeadlineExceeded)
}

func TestMessageBus_CloseSemantics(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()
	mb.Close() // idempotent

	ctx := context.Background()
	assert.ErrorIs(t, mb.PublishInbound(ctx, InboundMessage{}), ErrBusClosed)
	assert.ErrorIs(t, mb.PublishOutbound(ctx, OutboundMessage{}), ErrBusClosed)

	_, ok := mb.ConsumeInbound(ctx)
	assert.False(t, ok)
	_, ok = mb.SubscribeOutbound(ctx)
	assert.False(t, ok)
}
