package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/bridgeclaw/pkg/config"
)

func TestSplitModelRef(t *testing.T) {
	tests := []struct {
		ref, protocol, model string
	}{
		{"anthropic/claude-sonnet-4.6", "anthropic", "claude-sonnet-4.6"},
		{"openai/gpt-4o", "openai", "gpt-4o"},
		{"gpt-4o", "openai", "gpt-4o"},
		{"mistralai/mistral-large", "openai", "mistralai/mistral-large"},
	}
	for _, tt := range tests {
		protocol, model := SplitModelRef(tt.ref)
		assert.Equal(t, tt.protocol, protocol, tt.ref)
		assert.Equal(t, tt.model, model, tt.ref)
	}
}

func TestForModel(t *testing.T) {
	p, model, err := ForModel(&config.ModelConfig{
		ModelName: "claude", Model: "anthropic/claude-sonnet-4.6", APIKey: "k",
	})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "claude-sonnet-4.6", model)

	p, model, err = ForModel(&config.ModelConfig{
		ModelName: "gpt", Model: "gpt-4o", APIKey: "k", AuthMethod: "oauth",
	})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "gpt-4o", model)
}
