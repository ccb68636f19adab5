package ai

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/v0xg/screenpilot/internal/config"
)

// Prompt is one model request. Image is optional.
type Prompt struct {
	System    string
	User      string
	Image     []byte
	ImageMIME string
}

func (p Prompt) imageMIME() string {
	if p.ImageMIME == "" {
		return "image/png"
	}
	return p.ImageMIME
}

// Provider is the model-call capability: prompt in, raw text out
type Provider interface {
	Name() string
	Complete(ctx context.Context, p Prompt) (string, error)
}

// NewProvider creates a new AI provider based on the configured provider name
func NewProvider(ctx context.Context, cfg config.ModelConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "claude", "anthropic":
		return NewClaudeProvider(cfg)
	case "openai", "gpt":
		return NewOpenAIProvider(cfg)
	case "gemini", "google":
		return NewGeminiProvider(ctx, cfg)
	case "ollama":
		return NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: claude, openai, gemini, ollama)", cfg.Provider)
	}
}

// apiKey returns the configured key or the first non-empty env variable
func apiKey(configured string, envs ...string) string {
	if configured != "" {
		return configured
	}
	for _, env := range envs {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return ""
}

func maxTokens(cfg config.ModelConfig) int {
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return 2048
}
