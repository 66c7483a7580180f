// Package intake is the single seam between channel code and the AI
// pipeline: it resolves an agent and forwards a normalized message,
// streaming or not.
package intake

import (
	"context"
	"errors"
	"fmt"

	"github.com/tinyland-inc/bridgeclaw/pkg/config"
	"github.com/tinyland-inc/bridgeclaw/pkg/providers"
	"github.com/tinyland-inc/bridgeclaw/pkg/providers/protocoltypes"
)

// ErrNoAgentConfigured is returned when a message arrives and no agent
// exists to process it.
var ErrNoAgentConfigured = errors.New("no agent configured")

// Agent is one configured model backend.
type Agent struct {
	Name     string
	provider providers.Provider
	model    string
	options  map[string]any
}

// NewAgent wraps a provider as a named agent. Used directly by tests and
// by New for each model_list entry.
func NewAgent(name string, p providers.Provider, model string, options map[string]any) *Agent {
	return &Agent{Name: name, provider: p, model: model, options: options}
}

// Request is one message to process.
type Request struct {
	Text    string
	UserID  string
	Session string
	Channel string
	Agent   string // explicit agent name; empty falls back to the first configured
	History []protocoltypes.Message
}

type Intake struct {
	agents []*Agent
	byName map[string]*Agent
}

// New builds the intake from config: one agent per model_list entry, in
// config order.
func New(cfg *config.Config) (*Intake, error) {
	in := &Intake{byName: make(map[string]*Agent)}

	options := map[string]any{}
	if cfg.Agents.Defaults.MaxTokens > 0 {
		options["max_tokens"] = cfg.Agents.Defaults.MaxTokens
	}
	if cfg.Agents.Defaults.Temperature != nil {
		options["temperature"] = *cfg.Agents.Defaults.Temperature
	}

	for i := range cfg.ModelList {
		mc := &cfg.ModelList[i]
		p, model, err := providers.ForModel(mc)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", mc.ModelName, err)
		}
		in.addAgent(NewAgent(mc.ModelName, p, model, options))
	}
	return in, nil
}

// NewWithAgents builds an intake from explicit agents, bypassing config.
func NewWithAgents(agents ...*Agent) *Intake {
	in := &Intake{byName: make(map[string]*Agent)}
	for _, a := range agents {
		in.addAgent(a)
	}
	return in
}

func (in *Intake) addAgent(a *Agent) {
	in.agents = append(in.agents, a)
	in.byName[a.Name] = a
}

func (in *Intake) resolveAgent(name string) (*Agent, error) {
	if name != "" {
		if a, ok := in.byName[name]; ok {
			return a, nil
		}
	}
	if len(in.agents) == 0 {
		return nil, ErrNoAgentConfigured
	}
	return in.agents[0], nil
}

func (in *Intake) buildMessages(req Request) []protocoltypes.Message {
	msgs := make([]protocoltypes.Message, 0, len(req.History)+1)
	msgs = append(msgs, req.History...)
	msgs = append(msgs, protocoltypes.Message{Role: "user", Content: req.Text})
	return msgs
}

// ProcessMessage resolves the agent and returns the completed reply.
func (in *Intake) ProcessMessage(ctx context.Context, req Request) (*protocoltypes.LLMResponse, error) {
	agent, err := in.resolveAgent(req.Agent)
	if err != nil {
		return nil, err
	}
	return agent.provider.Chat(ctx, in.buildMessages(req), agent.model, agent.options)
}

// ProcessMessageStream resolves the agent and streams the reply as typed
// events. Agent resolution fails fast; everything after that arrives on
// the returned channel, which is closed after the terminal done or error
// event.
func (in *Intake) ProcessMessageStream(ctx context.Context, req Request) (<-chan Event, error) {
	agent, err := in.resolveAgent(req.Agent)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		events <- Event{Type: EventStatus, Text: "processing with " + agent.Name}

		resp, err := agent.provider.ChatStream(ctx, in.buildMessages(req), agent.model, agent.options,
			func(delta string) error {
				select {
				case events <- Event{Type: EventText, Text: delta}:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		if err != nil {
			select {
			case events <- Event{Type: EventError, Err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case events <- Event{Type: EventDone, Response: resp}:
		case <-ctx.Done():
		}
	}()
	return events, nil
}
