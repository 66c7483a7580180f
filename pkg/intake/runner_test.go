package intake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/bridgeclaw/pkg/bus"
	"github.com/tinyland-inc/bridgeclaw/pkg/channels"
	"github.com/tinyland-inc/bridgeclaw/pkg/config"
	"github.com/tinyland-inc/bridgeclaw/pkg/providers/protocoltypes"
	"github.com/tinyland-inc/bridgeclaw/pkg/session"
)

// typingChannel is a registry-driven fake that counts typing refreshes.
type typingChannel struct {
	mu     sync.Mutex
	typing int
}

func (c *typingChannel) Name() string                                   { return "test" }
func (c *typingChannel) Start(context.Context) error                    { return nil }
func (c *typingChannel) Stop(context.Context) error                     { return nil }
func (c *typingChannel) Send(context.Context, bus.OutboundMessage) error { return nil }
func (c *typingChannel) IsRunning() bool                                { return true }

func (c *typingChannel) SendTyping(context.Context, string) error {
	c.mu.Lock()
	c.typing++
	c.mu.Unlock()
	return nil
}

func (c *typingChannel) typingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

type runnerFixture struct {
	runner   *Runner
	bus      *bus.MessageBus
	store    *session.FileStore
	channel  *typingChannel
	provider *fakeProvider
	cancel   context.CancelFunc
}

func newRunnerFixture(t *testing.T, p *fakeProvider) *runnerFixture {
	t.Helper()
	channels.ClearRegistry()
	t.Cleanup(channels.ClearRegistry)

	ch := &typingChannel{}
	channels.Register("test",
		func(*config.Config) bool { return true },
		func(*config.Config, *bus.MessageBus) (channels.Channel, error) { return ch, nil },
	)

	b := bus.NewMessageBus()
	t.Cleanup(b.Close)

	cfg := config.DefaultConfig()
	m := channels.NewManager(cfg, b)
	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)

	in := NewWithAgents(NewAgent("a", p, "m", nil))
	r := NewRunner(cfg, b, m, in, store)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Run(ctx)

	return &runnerFixture{runner: r, bus: b, store: store, channel: ch, provider: p, cancel: cancel}
}

func inboundFor(content string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:    "test",
		SenderID:   "u1",
		ChatID:     "c1",
		Content:    content,
		Target:     bus.Target{Channel: "test", ChatID: "c1"},
		AccountID:  "test_u1",
		SessionKey: "test_u1",
	}
}

func awaitOutbound(t *testing.T, b *bus.MessageBus) bus.OutboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := b.SubscribeOutbound(ctx)
	require.True(t, ok, "expected an outbound reply")
	return msg
}

func TestRunner_RepliesAndAppendsSession(t *testing.T) {
	f := newRunnerFixture(t, &fakeProvider{deltas: []string{"an", "swer"}})

	require.NoError(t, f.bus.PublishInbound(context.Background(), inboundFor("question")))

	out := awaitOutbound(t, f.bus)
	assert.Equal(t, "test", out.Channel)
	assert.Equal(t, "c1", out.ChatID)
	assert.Equal(t, "answer", out.Content)

	assert.Eventually(t, func() bool {
		sess, err := f.store.GetOrCreate("test_u1")
		return err == nil && len(sess.Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)

	sess, err := f.store.GetOrCreate("test_u1")
	require.NoError(t, err)
	assert.Equal(t, "question", sess.Messages[0].Content)
	assert.Equal(t, "answer", sess.Messages[1].Content)
}

func TestRunner_ApologyOnPipelineFailure(t *testing.T) {
	f := newRunnerFixture(t, &fakeProvider{err: errors.New("model exploded")})

	require.NoError(t, f.bus.PublishInbound(context.Background(), inboundFor("question")))

	out := awaitOutbound(t, f.bus)
	assert.Equal(t, apologyReply, out.Content)

	sess, err := f.store.GetOrCreate("test_u1")
	require.NoError(t, err)
	assert.Empty(t, sess.Messages, "failed exchanges are not recorded")
}

func TestRunner_ClearCommand(t *testing.T) {
	f := newRunnerFixture(t, &fakeProvider{reply: "should not be called"})
	require.NoError(t, f.store.Append("test_u1",
		protocoltypes.Message{Role: "user", Content: "old"}))

	require.NoError(t, f.bus.PublishInbound(context.Background(), inboundFor("!clear")))

	out := awaitOutbound(t, f.bus)
	assert.Equal(t, "Session cleared.", out.Content)
	assert.Zero(t, f.provider.callCount(), "commands never reach the pipeline")

	sess, err := f.store.GetOrCreate("test_u1")
	require.NoError(t, err)
	assert.Empty(t, sess.Messages)
}

func TestRunner_HelpCommand(t *testing.T) {
	f := newRunnerFixture(t, &fakeProvider{reply: "nope"})

	require.NoError(t, f.bus.PublishInbound(context.Background(), inboundFor("!help")))

	out := awaitOutbound(t, f.bus)
	assert.Equal(t, helpReply, out.Content)
	assert.Zero(t, f.provider.callCount())
}

func TestRunner_TypingRefreshedWhileProcessing(t *testing.T) {
	f := newRunnerFixture(t, &fakeProvider{reply: "done", delay: 80 * time.Millisecond})
	f.runner.cadence = 20 * time.Millisecond

	require.NoError(t, f.bus.PublishInbound(context.Background(), inboundFor("slow question")))

	awaitOutbound(t, f.bus)
	assert.GreaterOrEqual(t, f.channel.typingCount(), 2,
		"typing must be re-sent on the cadence while the reply is generated")
}

func TestRunner_UsesTargetForReply(t *testing.T) {
	f := newRunnerFixture(t, &fakeProvider{reply: "hi"})

	msg := inboundFor("hello")
	msg.Target = bus.Target{Channel: "test", ChatID: "elsewhere"}
	require.NoError(t, f.bus.PublishInbound(context.Background(), msg))

	out := awaitOutbound(t, f.bus)
	assert.Equal(t, "elsewhere", out.ChatID)
}
