package ai

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/v0xg/screenpilot/internal/config"
)

// ClaudeProvider implements the Provider interface using Anthropic's Claude
type ClaudeProvider struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewClaudeProvider creates a new Claude provider
func NewClaudeProvider(cfg config.ModelConfig) (*ClaudeProvider, error) {
	key := apiKey(cfg.APIKey, "SCREENPILOT_ANTHROPIC_KEY", "ANTHROPIC_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("SCREENPILOT_ANTHROPIC_KEY or ANTHROPIC_API_KEY environment variable required")
	}

	client := anthropic.NewClient(option.WithAPIKey(key))

	model := cfg.Name
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}

	return &ClaudeProvider{
		client:    &client,
		model:     model,
		maxTokens: maxTokens(cfg),
	}, nil
}

func (p *ClaudeProvider) Name() string { return "claude/" + p.model }

// Complete sends the prompt, with the screenshot as an image block when present
func (p *ClaudeProvider) Complete(ctx context.Context, prompt Prompt) (string, error) {
	var content []anthropic.ContentBlockParamUnion
	if len(prompt.Image) > 0 {
		content = append(content, anthropic.NewImageBlockBase64(prompt.imageMIME(), base64.StdEncoding.EncodeToString(prompt.Image)))
	}
	content = append(content, anthropic.NewTextBlock(prompt.User))

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: prompt.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(content...),
		},
	})
	if err != nil {
		return "", fmt.Errorf("Claude API error: %w", err)
	}

	// Extract text content
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("empty response from Claude")
}
