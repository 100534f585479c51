package answer

import (
	"context"
	"encoding/json"

	"dataghost/internal/llm"
	"dataghost/internal/logging"
	"dataghost/internal/types"
)

const narrativeSystemPrompt = "You are a data analyst assistant. " +
	"Only summarize what is supported by SQL results. " +
	"If evidence is partial, say that explicitly. " +
	"Return JSON with headline and narrative."

// Fixed texts for the no-evidence short circuit.
const (
	insufficientHeadline  = "Insufficient evidence"
	insufficientNarrative = "No SQL query produced usable results. " +
		"Upload a richer dataset or clarify metric/timeframe."
	defaultHeadline  = "Analysis summary"
	defaultNarrative = "SQL results were executed and summarized."
)

// Synthesizer writes the narrative for an answer through the model router.
type Synthesizer struct {
	router *llm.Router
	app    string
}

// NewSynthesizer builds a narrative synthesizer.
func NewSynthesizer(router *llm.Router, app string) *Synthesizer {
	return &Synthesizer{router: router, app: app}
}

// NarrativeRequest carries the evidence for one narrative.
type NarrativeRequest struct {
	RequestID   string
	Question    string
	Executed    []types.ExecutedResult
	Diagnostics []types.Diagnostic
	Confidence  types.Confidence
	Citations   []types.Citation
}

// synthesisPayload is the user prompt: the question plus the strongest
// evidence, trimmed so the prompt stays small.
type synthesisPayload struct {
	Question    string                 `json:"question"`
	TopResults  []types.ExecutedResult `json:"top_results"`
	Diagnostics []types.Diagnostic     `json:"diagnostics"`
	Confidence  types.Confidence       `json:"confidence"`
	Context     []types.Citation       `json:"context"`
}

// Narrative produces the headline and narrative for an answer. Without any
// executed results there is nothing to ground a summary in, so a fixed text
// comes back and no model is called.
func (s *Synthesizer) Narrative(ctx context.Context, req NarrativeRequest, trace *types.CostTrace) (string, string, error) {
	if len(req.Executed) == 0 {
		logging.PipelineDebug("No executed results; skipping narrative synthesis")
		return insufficientHeadline, insufficientNarrative, nil
	}

	top := req.Executed
	if len(top) > 3 {
		top = top[:3]
	}
	citations := req.Citations
	if len(citations) > 3 {
		citations = citations[:3]
	}
	diags := req.Diagnostics
	if diags == nil {
		diags = []types.Diagnostic{}
	}

	payload, err := json.Marshal(synthesisPayload{
		Question:    req.Question,
		TopResults:  top,
		Diagnostics: diags,
		Confidence:  req.Confidence,
		Context:     citations,
	})
	if err != nil {
		return "", "", err
	}

	comp, err := s.router.Call(ctx, llm.CallRequest{
		RequestID:       req.RequestID,
		App:             s.app,
		Task:            llm.TaskSynthesize,
		SystemPrompt:    narrativeSystemPrompt,
		UserPrompt:      string(payload),
		PreferExpensive: true,
	}, trace)
	if err != nil {
		return "", "", err
	}

	parsed := llm.ParseJSONObject(comp.Text)
	headline := llm.StringField(parsed, "headline")
	if headline == "" {
		headline = defaultHeadline
	}
	narrative := llm.StringField(parsed, "narrative")
	if narrative == "" {
		narrative = llm.StringField(parsed, "summary")
	}
	if narrative == "" {
		narrative = defaultNarrative
	}
	return headline, narrative, nil
}
