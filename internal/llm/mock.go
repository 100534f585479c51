package llm

import (
	"context"
	"encoding/json"
)

// MockProvider answers every call locally with a deterministic JSON body.
// It is the default provider so the whole pipeline, ledger included, runs
// without credentials or network access.
type MockProvider struct{}

// NewMockProvider returns the deterministic local provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Name identifies the backend.
func (m *MockProvider) Name() string { return "mock" }

// Complete echoes a 300-rune preview of the user prompt inside a JSON
// object. Token counts follow the same whitespace estimate the router uses.
func (m *MockProvider) Complete(_ context.Context, model, system, user string) (*Completion, error) {
	body, err := json.Marshal(map[string]string{
		"summary": firstRunes(user, 300),
		"note":    "mock-provider-response",
	})
	if err != nil {
		return nil, err
	}
	text := string(body)
	return &Completion{
		Text:             text,
		Model:            model,
		Provider:         m.Name(),
		PromptTokens:     CountTokens(system + "\n" + user),
		CompletionTokens: CountTokens(text),
	}, nil
}
