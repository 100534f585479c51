// Package llm routes model calls to a configured provider and accounts for
// every call in the cost ledger. The router enforces per-request and daily
// budget caps before a single byte leaves the process.
package llm

import (
	"context"
	"strings"
)

// Completion is one model response with usage accounting. Token counts are
// provider-reported where the API exposes them; zero means unknown and the
// router substitutes its own estimate.
type Completion struct {
	Text             string
	Model            string
	Provider         string
	PromptTokens     int
	CompletionTokens int
}

// Provider sends one system/user prompt pair to a model backend.
type Provider interface {
	// Name identifies the backend in ledger rows and error messages.
	Name() string

	// Complete runs one model call. Implementations retry transient
	// transport failures internally; a returned error is final.
	Complete(ctx context.Context, model, system, user string) (*Completion, error)
}

// CountTokens approximates a token count as the whitespace-split word count.
// Budget projection only needs a stable estimate, not tokenizer parity.
func CountTokens(s string) int {
	return len(strings.Fields(s))
}

// firstRunes truncates s to at most n runes for prompt previews.
func firstRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
