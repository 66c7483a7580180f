// Package providers maps model_list entries to concrete LLM providers.
// Model references use protocol-prefix form, "[protocol/]model", with
// protocols "anthropic" and "openai" (the default).
package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/tinyland-inc/bridgeclaw/pkg/config"
	anthropicprovider "github.com/tinyland-inc/bridgeclaw/pkg/providers/anthropic"
	openaiprovider "github.com/tinyland-inc/bridgeclaw/pkg/providers/openai"
	"github.com/tinyland-inc/bridgeclaw/pkg/providers/protocoltypes"
)

// Provider is one chat backend.
type Provider interface {
	Chat(ctx context.Context, messages []protocoltypes.Message, model string,
		options map[string]any) (*protocoltypes.LLMResponse, error)
	ChatStream(ctx context.Context, messages []protocoltypes.Message, model string,
		options map[string]any, onDelta func(string) error) (*protocoltypes.LLMResponse, error)
}

// SplitModelRef splits "[protocol/]model" into its protocol and the bare
// model identifier. An unknown or missing prefix means "openai".
func SplitModelRef(ref string) (protocol, model string) {
	if i := strings.Index(ref, "/"); i > 0 {
		switch ref[:i] {
		case "anthropic", "openai":
			return ref[:i], ref[i+1:]
		}
	}
	return "openai", ref
}

// ForModel builds the provider for one model_list entry and returns it
// with the bare model identifier to request.
func ForModel(mc *config.ModelConfig) (Provider, string, error) {
	protocol, model := SplitModelRef(mc.Model)
	oauth := mc.AuthMethod == "oauth"

	switch protocol {
	case "anthropic":
		return anthropicprovider.NewProvider(mc.APIKey, mc.APIBase, nil, oauth), model, nil
	case "openai":
		var httpClient *http.Client
		if oauth {
			ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: mc.APIKey, TokenType: "Bearer"})
			httpClient = oauth2.NewClient(context.Background(), ts)
			return openaiprovider.NewProvider("", mc.APIBase, httpClient), model, nil
		}
		return openaiprovider.NewProvider(mc.APIKey, mc.APIBase, nil), model, nil
	default:
		return nil, "", fmt.Errorf("unknown model protocol %q", protocol)
	}
}
