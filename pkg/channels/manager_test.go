package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/bridgeclaw/pkg/bus"
	"github.com/tinyland-inc/bridgeclaw/pkg/config"
)

// fakeChannel is a minimal registry-driven channel for manager tests.
type fakeChannel struct {
	name      string
	startErr  error
	panicOn   string // "start" | "stop" | "running"
	running   bool
	mu        sync.Mutex
	sent      []bus.OutboundMessage
	maxLength int
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Start(context.Context) error {
	if f.panicOn == "start" {
		panic("boom")
	}
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeChannel) Stop(context.Context) error {
	if f.panicOn == "stop" {
		panic("boom")
	}
	f.running = false
	return nil
}

func (f *fakeChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) IsRunning() bool {
	if f.panicOn == "running" {
		panic("boom")
	}
	return f.running
}

func (f *fakeChannel) MaxMessageLength() int { return f.maxLength }

func (f *fakeChannel) sentContents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.Content
	}
	return out
}

func registerFake(t *testing.T, ch *fakeChannel) {
	t.Helper()
	Register(ch.name,
		func(*config.Config) bool { return true },
		func(*config.Config, *bus.MessageBus) (Channel, error) { return ch, nil },
	)
}

func newTestManager(t *testing.T, chs ...*fakeChannel) (*Manager, *bus.MessageBus) {
	t.Helper()
	ClearRegistry()
	t.Cleanup(ClearRegistry)
	for _, ch := range chs {
		registerFake(t, ch)
	}
	b := bus.NewMessageBus()
	t.Cleanup(b.Close)
	return NewManager(config.DefaultConfig(), b), b
}

func TestManager_PartialStartFailure(t *testing.T) {
	bad := &fakeChannel{name: "bad", startErr: errors.New("no token")}
	good := &fakeChannel{name: "good"}
	m, _ := newTestManager(t, bad, good)

	err := m.StartAll(context.Background())
	assert.Error(t, err, "aggregate error surfaces")

	got, ok := m.GetChannel("good")
	require.True(t, ok)
	assert.True(t, got.IsRunning(), "healthy channel stays active")
}

func TestManager_StartPanicIsolated(t *testing.T) {
	angry := &fakeChannel{name: "angry", panicOn: "start"}
	good := &fakeChannel{name: "good"}
	m, _ := newTestManager(t, angry, good)

	assert.NotPanics(t, func() { _ = m.StartAll(context.Background()) })
	got, _ := m.GetChannel("good")
	assert.True(t, got.IsRunning())
}

func TestManager_ConstructionFailureSkipsChannel(t *testing.T) {
	ClearRegistry()
	t.Cleanup(ClearRegistry)
	Register("broken",
		func(*config.Config) bool { return true },
		func(*config.Config, *bus.MessageBus) (Channel, error) {
			return nil, errors.New("bad config")
		},
	)
	registerFake(t, &fakeChannel{name: "fine"})

	b := bus.NewMessageBus()
	defer b.Close()
	m := NewManager(config.DefaultConfig(), b)

	_, ok := m.GetChannel("broken")
	assert.False(t, ok)
	assert.Equal(t, []string{"fine"}, m.GetEnabledChannels())
}

func TestManager_DisabledChannelNotConstructed(t *testing.T) {
	ClearRegistry()
	t.Cleanup(ClearRegistry)
	Register("off",
		func(*config.Config) bool { return false },
		func(*config.Config, *bus.MessageBus) (Channel, error) {
			t.Fatal("factory must not run for disabled channel")
			return nil, nil
		},
	)

	b := bus.NewMessageBus()
	defer b.Close()
	m := NewManager(config.DefaultConfig(), b)
	assert.Empty(t, m.GetEnabledChannels())
}

func TestManager_StatusGuardsPanickingHealthCheck(t *testing.T) {
	angry := &fakeChannel{name: "angry", panicOn: "running"}
	good := &fakeChannel{name: "good", running: true}
	m, _ := newTestManager(t, angry, good)

	var statuses []Status
	assert.NotPanics(t, func() { statuses = m.Status() })
	require.Len(t, statuses, 2)
	assert.Equal(t, Status{Name: "angry", Available: false}, statuses[0])
	assert.Equal(t, Status{Name: "good", Available: true}, statuses[1])
}

func TestManager_StopAllIsolation(t *testing.T) {
	angry := &fakeChannel{name: "angry", panicOn: "stop"}
	good := &fakeChannel{name: "good", running: true}
	m, _ := newTestManager(t, angry, good)

	assert.NotPanics(t, func() { m.StopAll(context.Background()) })
	assert.False(t, good.running)
}

func TestManager_DispatchOutboundSplits(t *testing.T) {
	ch := &fakeChannel{name: "chunky", maxLength: 3}
	m, b := newTestManager(t, ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		m.DispatchOutbound(ctx)
		close(done)
	}()

	require.NoError(t, b.PublishOutbound(ctx, bus.OutboundMessage{
		Channel: "chunky",
		ChatID:  "c1",
		Content: "abcdefgh",
	}))

	assert.Eventually(t, func() bool {
		return len(ch.sentContents()) == 3
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"abc", "def", "gh"}, ch.sentContents())

	cancel()
	<-done
}

// mediaChannel extends fakeChannel with attachment delivery.
type mediaChannel struct {
	fakeChannel
	media []bus.Attachment
}

func (f *mediaChannel) SendMedia(_ context.Context, _ string, att bus.Attachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media = append(f.media, att)
	return nil
}

func TestManager_DispatchOutboundDeliversAttachments(t *testing.T) {
	ch := &mediaChannel{fakeChannel: fakeChannel{name: "rich"}}
	ClearRegistry()
	t.Cleanup(ClearRegistry)
	Register("rich", func(*config.Config) bool { return true },
		func(*config.Config, *bus.MessageBus) (Channel, error) { return ch, nil })

	b := bus.NewMessageBus()
	t.Cleanup(b.Close)
	m := NewManager(config.DefaultConfig(), b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.DispatchOutbound(ctx)

	require.NoError(t, b.PublishOutbound(ctx, bus.OutboundMessage{
		Channel:     "rich",
		ChatID:      "c1",
		Content:     "see attached",
		Attachments: []bus.Attachment{{URL: "https://files.example/a.pdf", Filename: "a.pdf"}},
	}))

	assert.Eventually(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return len(ch.media) == 1
	}, time.Second, 10*time.Millisecond)

	// Text chunks never carry the attachment payload themselves.
	ch.mu.Lock()
	defer ch.mu.Unlock()
	require.Len(t, ch.sent, 1)
	assert.Empty(t, ch.sent[0].Attachments)
	assert.Equal(t, "a.pdf", ch.media[0].Filename)
}

func TestManager_DispatchOutboundUnknownChannel(t *testing.T) {
	m, b := newTestManager(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go m.DispatchOutbound(ctx)

	// Must not block or panic.
	require.NoError(t, b.PublishOutbound(ctx, bus.OutboundMessage{Channel: "ghost", Content: "x"}))
	<-ctx.Done()
}

func TestRegistry_LastWriteWins(t *testing.T) {
	ClearRegistry()
	t.Cleanup(ClearRegistry)

	first := &fakeChannel{name: "dup"}
	second := &fakeChannel{name: "dup"}
	Register("dup", func(*config.Config) bool { return true },
		func(*config.Config, *bus.MessageBus) (Channel, error) { return first, nil })
	Register("dup", func(*config.Config) bool { return true },
		func(*config.Config, *bus.MessageBus) (Channel, error) { return second, nil })

	b := bus.NewMessageBus()
	defer b.Close()
	m := NewManager(config.DefaultConfig(), b)
	got, ok := m.GetChannel("dup")
	require.True(t, ok)
	assert.Same(t, Channel(second), got)
}

func TestCapabilityQueries(t *testing.T) {
	plain := &fakeChannel{name: "plain"}
	assert.False(t, SupportsTyping(plain))
	assert.False(t, SupportsMedia(plain))
}
