package ai

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/v0xg/screenpilot/internal/config"
)

// GeminiProvider implements the Provider interface using Google Gemini
type GeminiProvider struct {
	client    *genai.Client
	model     string
	maxTokens int
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(ctx context.Context, cfg config.ModelConfig) (*GeminiProvider, error) {
	key := apiKey(cfg.APIKey, "SCREENPILOT_GEMINI_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("SCREENPILOT_GEMINI_KEY, GEMINI_API_KEY or GOOGLE_API_KEY environment variable required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}

	model := cfg.Name
	if model == "" {
		model = "gemini-2.0-flash"
	}

	return &GeminiProvider{client: client, model: model, maxTokens: maxTokens(cfg)}, nil
}

func (p *GeminiProvider) Name() string { return "gemini/" + p.model }

// Complete sends the prompt with the screenshot as an inline image part
func (p *GeminiProvider) Complete(ctx context.Context, prompt Prompt) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(prompt.User)}
	if len(prompt.Image) > 0 {
		parts = append(parts, genai.NewPartFromBytes(prompt.Image, prompt.imageMIME()))
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(prompt.System, genai.RoleUser),
			MaxOutputTokens:   int32(p.maxTokens),
		})
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from Gemini")
	}
	return text, nil
}
