package types

import (
	"math"
	"strings"
)

// RoundUSD rounds a dollar amount to 8 decimal places, the precision used
// everywhere cost figures are stored or reported.
func RoundUSD(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}

// CostTrace accumulates model usage across a single pipeline run. Models are
// unique and keep insertion order; token counts and USD only grow.
type CostTrace struct {
	Models           []string `json:"models"`
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	USD              float64  `json:"usd"`
}

// Add folds one model call into the trace.
func (t *CostTrace) Add(model string, promptTokens, completionTokens int, usd float64) {
	if model != "" && !t.hasModel(model) {
		t.Models = append(t.Models, model)
	}
	t.PromptTokens += promptTokens
	t.CompletionTokens += completionTokens
	t.USD += usd
}

// Merge folds another trace into this one, preserving model uniqueness.
func (t *CostTrace) Merge(other CostTrace) {
	for _, m := range other.Models {
		if !t.hasModel(m) {
			t.Models = append(t.Models, m)
		}
	}
	t.PromptTokens += other.PromptTokens
	t.CompletionTokens += other.CompletionTokens
	t.USD += other.USD
}

func (t *CostTrace) hasModel(model string) bool {
	for _, m := range t.Models {
		if m == model {
			return true
		}
	}
	return false
}

// Rounded returns a copy with USD rounded for serialization. Models defaults
// to an empty slice so JSON renders [] rather than null.
func (t *CostTrace) Rounded() CostTrace {
	out := CostTrace{
		Models:           append([]string{}, t.Models...),
		PromptTokens:     t.PromptTokens,
		CompletionTokens: t.CompletionTokens,
		USD:              RoundUSD(t.USD),
	}
	return out
}

// CostSummary is the answer-payload view of a trace: models joined into a
// single comma-separated field.
type CostSummary struct {
	Model            string  `json:"model"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	USD              float64 `json:"usd"`
}

// Summary collapses the trace for embedding in an answer.
func (t *CostTrace) Summary() CostSummary {
	return CostSummary{
		Model:            strings.Join(t.Models, ","),
		PromptTokens:     t.PromptTokens,
		CompletionTokens: t.CompletionTokens,
		USD:              RoundUSD(t.USD),
	}
}
