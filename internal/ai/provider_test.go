package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/screenpilot/internal/config"
)

func TestNewProvider(t *testing.T) {
	for _, env := range []string{
		"SCREENPILOT_ANTHROPIC_KEY", "ANTHROPIC_API_KEY",
		"SCREENPILOT_OPENAI_KEY", "OPENAI_API_KEY",
		"SCREENPILOT_GEMINI_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY",
	} {
		t.Setenv(env, "")
	}
	ctx := context.Background()

	_, err := NewProvider(ctx, config.ModelConfig{Provider: "bard"})
	assert.ErrorContains(t, err, "unknown provider")

	_, err = NewProvider(ctx, config.ModelConfig{Provider: "claude"})
	assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")

	_, err = NewProvider(ctx, config.ModelConfig{Provider: "openai"})
	assert.ErrorContains(t, err, "OPENAI_API_KEY")

	_, err = NewProvider(ctx, config.ModelConfig{Provider: "gemini"})
	assert.ErrorContains(t, err, "GEMINI_API_KEY")

	p, err := NewProvider(ctx, config.ModelConfig{Provider: "ollama"})
	require.NoError(t, err)
	assert.Equal(t, "ollama/qwen2.5vl", p.Name())

	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	p, err = NewProvider(ctx, config.ModelConfig{Provider: "anthropic", Name: "claude-test"})
	require.NoError(t, err)
	assert.Equal(t, "claude/claude-test", p.Name())

	p, err = NewProvider(ctx, config.ModelConfig{Provider: "gpt", APIKey: "sk-configured"})
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o", p.Name())
}
