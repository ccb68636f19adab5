package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/v0xg/screenpilot/internal/config"
)

// OpenAIProvider implements the Provider interface using OpenAI. It also
// serves OpenAI-compatible endpoints such as Ollama.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	maxTokens int
	label     string
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(cfg config.ModelConfig) (*OpenAIProvider, error) {
	key := apiKey(cfg.APIKey, "SCREENPILOT_OPENAI_KEY", "OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("SCREENPILOT_OPENAI_KEY or OPENAI_API_KEY environment variable required")
	}

	model := cfg.Name
	if model == "" {
		model = "gpt-4o"
	}

	return &OpenAIProvider{
		client:    openai.NewClient(key),
		model:     model,
		maxTokens: maxTokens(cfg),
		label:     "openai",
	}, nil
}

// NewOllamaProvider talks to a local Ollama server through its
// OpenAI-compatible API
func NewOllamaProvider(cfg config.ModelConfig) (*OpenAIProvider, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "http://localhost:11434"
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}

	clientCfg := openai.DefaultConfig("ollama")
	clientCfg.BaseURL = base

	model := cfg.Name
	if model == "" {
		model = "qwen2.5vl"
	}

	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		maxTokens: maxTokens(cfg),
		label:     "ollama",
	}, nil
}

func (p *OpenAIProvider) Name() string { return p.label + "/" + p.model }

// Complete sends the prompt as a chat completion; the screenshot travels as
// a data URL image part
func (p *OpenAIProvider) Complete(ctx context.Context, prompt Prompt) (string, error) {
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(prompt.Image) > 0 {
		dataURL := "data:" + prompt.imageMIME() + ";base64," + base64.StdEncoding.EncodeToString(prompt.Image)
		user.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt.User},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL, Detail: openai.ImageURLDetailAuto}},
		}
	} else {
		user.Content = prompt.User
	}

	resp, err := p.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: p.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: prompt.System,
				},
				user,
			},
			MaxTokens: p.maxTokens,
		},
	)
	if err != nil {
		return "", fmt.Errorf("%s API error: %w", p.label, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from %s", p.label)
	}
	return resp.Choices[0].Message.Content, nil
}
