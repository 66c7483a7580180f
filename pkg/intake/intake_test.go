package intake

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/bridgeclaw/pkg/config"
	"github.com/tinyland-inc/bridgeclaw/pkg/providers/protocoltypes"
)

// fakeProvider scripts the chat backend for tests.
type fakeProvider struct {
	reply  string
	deltas []string
	err    error
	delay  time.Duration

	mu       sync.Mutex
	calls    int
	lastMsgs []protocoltypes.Message
}

func (f *fakeProvider) record(msgs []protocoltypes.Message) {
	f.mu.Lock()
	f.calls++
	f.lastMsgs = msgs
	f.mu.Unlock()
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []protocoltypes.Message, model string,
	options map[string]any) (*protocoltypes.LLMResponse, error) {
	f.record(msgs)
	if f.err != nil {
		return nil, f.err
	}
	return &protocoltypes.LLMResponse{Content: f.reply, FinishReason: "stop"}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, msgs []protocoltypes.Message, model string,
	options map[string]any, onDelta func(string) error) (*protocoltypes.LLMResponse, error) {
	f.record(msgs)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	for _, d := range f.deltas {
		if err := onDelta(d); err != nil {
			return nil, err
		}
	}
	reply := f.reply
	if reply == "" {
		reply = strings.Join(f.deltas, "")
	}
	return &protocoltypes.LLMResponse{Content: reply, FinishReason: "stop"}, nil
}

func TestResolveAgent_ExplicitNameAndFallback(t *testing.T) {
	first := &fakeProvider{reply: "from-first"}
	second := &fakeProvider{reply: "from-second"}
	in := NewWithAgents(
		NewAgent("alpha", first, "model-a", nil),
		NewAgent("beta", second, "model-b", nil),
	)

	resp, err := in.ProcessMessage(context.Background(), Request{Text: "hi", Agent: "beta"})
	require.NoError(t, err)
	assert.Equal(t, "from-second", resp.Content)

	// Unknown and empty names both fall back to the first configured agent.
	resp, err = in.ProcessMessage(context.Background(), Request{Text: "hi", Agent: "missing"})
	require.NoError(t, err)
	assert.Equal(t, "from-first", resp.Content)

	resp, err = in.ProcessMessage(context.Background(), Request{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "from-first", resp.Content)
}

func TestProcessMessage_NoAgentConfigured(t *testing.T) {
	in := NewWithAgents()

	_, err := in.ProcessMessage(context.Background(), Request{Text: "hi"})
	require.ErrorIs(t, err, ErrNoAgentConfigured)

	_, err = in.ProcessMessageStream(context.Background(), Request{Text: "hi"})
	require.ErrorIs(t, err, ErrNoAgentConfigured)
}

func TestProcessMessageStream_EventSequence(t *testing.T) {
	p := &fakeProvider{deltas: []string{"Hel", "lo"}}
	in := NewWithAgents(NewAgent("a", p, "m", nil))

	events, err := in.ProcessMessageStream(context.Background(), Request{Text: "hi"})
	require.NoError(t, err)

	var types []EventType
	var text strings.Builder
	var final *protocoltypes.LLMResponse
	for ev := range events {
		types = append(types, ev.Type)
		if ev.Type == EventText {
			text.WriteString(ev.Text)
		}
		if ev.Type == EventDone {
			final = ev.Response
		}
	}

	assert.Equal(t, []EventType{EventStatus, EventText, EventText, EventDone}, types)
	assert.Equal(t, "Hello", text.String())
	require.NotNil(t, final)
	assert.Equal(t, "Hello", final.Content)
}

func TestProcessMessageStream_ErrorEvent(t *testing.T) {
	p := &fakeProvider{err: errors.New("backend down")}
	in := NewWithAgents(NewAgent("a", p, "m", nil))

	events, err := in.ProcessMessageStream(context.Background(), Request{Text: "hi"})
	require.NoError(t, err)

	var last Event
	for ev := range events {
		last = ev
	}
	assert.Equal(t, EventError, last.Type)
	assert.ErrorContains(t, last.Err, "backend down")
}

func TestProcessMessage_HistoryPrecedesUserTurn(t *testing.T) {
	p := &fakeProvider{reply: "ok"}
	in := NewWithAgents(NewAgent("a", p, "m", nil))

	_, err := in.ProcessMessage(context.Background(), Request{
		Text: "now",
		History: []protocoltypes.Message{
			{Role: "user", Content: "before"},
			{Role: "assistant", Content: "earlier reply"},
		},
	})
	require.NoError(t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.lastMsgs, 3)
	assert.Equal(t, "before", p.lastMsgs[0].Content)
	assert.Equal(t, protocoltypes.Message{Role: "user", Content: "now"}, p.lastMsgs[2])
}

func TestNew_FromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ModelList = []config.ModelConfig{
		{ModelName: "claude", Model: "anthropic/claude-sonnet-4.6", APIKey: "k"},
		{ModelName: "gpt", Model: "gpt-4o", APIKey: "k"},
	}

	in, err := New(cfg)
	require.NoError(t, err)
	require.Len(t, in.agents, 2)
	assert.Equal(t, "claude", in.agents[0].Name)

	a, err := in.resolveAgent("gpt")
	require.NoError(t, err)
	assert.Equal(t, "gpt", a.Name)

	a, err = in.resolveAgent("")
	require.NoError(t, err)
	assert.Equal(t, "claude", a.Name, "first configured agent is the fallback")
}
