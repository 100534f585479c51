package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient implements Provider on the Google GenAI SDK.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient builds a Gemini-backed provider.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

// Name identifies the backend.
func (c *GeminiClient) Name() string { return "gemini" }

// Complete sends one generation request.
func (c *GeminiClient) Complete(ctx context.Context, model, system, user string) (*Completion, error) {
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(user, genai.RoleUser),
	}
	resp, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("no completion returned")
	}

	comp := &Completion{
		Text:     text,
		Model:    model,
		Provider: c.Name(),
	}
	if resp.UsageMetadata != nil {
		comp.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		comp.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return comp, nil
}
