package answer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"dataghost/internal/config"
	"dataghost/internal/llm"
	"dataghost/internal/store"
	"dataghost/internal/types"
)

type recordingStub struct {
	calls  int
	system string
	user   string
	text   string
	err    error
}

func (s *recordingStub) Name() string { return "stub" }

func (s *recordingStub) Complete(_ context.Context, model, system, user string) (*llm.Completion, error) {
	s.calls++
	s.system = system
	s.user = user
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Completion{Text: s.text, Model: model, PromptTokens: 10, CompletionTokens: 4}, nil
}

func newTestSynthesizer(t *testing.T, stub *recordingStub) *Synthesizer {
	t.Helper()
	cfg := config.DefaultConfig()
	st, err := store.New(filepath.Join(t.TempDir(), "answer.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewSynthesizer(llm.NewRouter(cfg.LLM, st, stub), cfg.AppName)
}

func narrativeRequest(executedCount int) NarrativeRequest {
	executed := make([]types.ExecutedResult, executedCount)
	for i := range executed {
		executed[i] = types.ExecutedResult{
			Label: "Row count",
			SQL:   "SELECT COUNT(*) AS row_count FROM t",
			Rows:  []types.Row{{"row_count": int64(i + 1)}},
		}
	}
	return NarrativeRequest{
		RequestID:  "req-1",
		Question:   "why did revenue drop",
		Executed:   executed,
		Confidence: types.Confidence{Level: types.ConfidenceHigh, Reasons: []string{"ok"}},
		Citations: []types.Citation{
			{DocID: "d1", Filename: "a.md", ChunkID: "d1:0", Score: 0.9, Snippet: "one"},
			{DocID: "d2", Filename: "b.md", ChunkID: "d2:0", Score: 0.8, Snippet: "two"},
			{DocID: "d3", Filename: "c.md", ChunkID: "d3:0", Score: 0.7, Snippet: "three"},
			{DocID: "d4", Filename: "d.md", ChunkID: "d4:0", Score: 0.6, Snippet: "four"},
		},
	}
}

func TestNarrativeWithoutEvidenceSkipsModel(t *testing.T) {
	stub := &recordingStub{}
	s := newTestSynthesizer(t, stub)

	var trace types.CostTrace
	headline, narrative, err := s.Narrative(context.Background(), NarrativeRequest{Question: "q"}, &trace)
	if err != nil {
		t.Fatalf("Narrative: %v", err)
	}
	if headline != "Insufficient evidence" {
		t.Errorf("headline = %q", headline)
	}
	if narrative != "No SQL query produced usable results. Upload a richer dataset or clarify metric/timeframe." {
		t.Errorf("narrative = %q", narrative)
	}
	if stub.calls != 0 {
		t.Errorf("model called %d times", stub.calls)
	}
	if trace.USD != 0 {
		t.Errorf("trace charged %v", trace.USD)
	}
}

func TestNarrativeSynthesizesFromModel(t *testing.T) {
	stub := &recordingStub{text: `{"headline":"Revenue fell","narrative":"EMEA drove the drop."}`}
	s := newTestSynthesizer(t, stub)

	var trace types.CostTrace
	headline, narrative, err := s.Narrative(context.Background(), narrativeRequest(1), &trace)
	if err != nil {
		t.Fatalf("Narrative: %v", err)
	}
	if headline != "Revenue fell" || narrative != "EMEA drove the drop." {
		t.Errorf("got %q / %q", headline, narrative)
	}
	if stub.calls != 1 {
		t.Fatalf("model calls = %d", stub.calls)
	}
	if !strings.Contains(stub.system, "data analyst assistant") {
		t.Errorf("system prompt = %q", stub.system)
	}
	for _, fragment := range []string{`"question":"why did revenue drop"`, `"top_results"`, `"confidence"`, `"context"`} {
		if !strings.Contains(stub.user, fragment) {
			t.Errorf("payload missing %s:\n%s", fragment, stub.user)
		}
	}
	// Synthesis routes to the expensive tier.
	if len(trace.Models) != 1 || trace.Models[0] != "mock-expensive" {
		t.Errorf("trace models = %v", trace.Models)
	}
	if trace.USD <= 0 {
		t.Errorf("trace usd = %v", trace.USD)
	}
}

func TestNarrativeTrimsPayload(t *testing.T) {
	stub := &recordingStub{text: `{}`}
	s := newTestSynthesizer(t, stub)

	if _, _, err := s.Narrative(context.Background(), narrativeRequest(5), &types.CostTrace{}); err != nil {
		t.Fatalf("Narrative: %v", err)
	}
	if got := strings.Count(stub.user, `"label":"Row count"`); got != 3 {
		t.Errorf("payload carries %d results, want 3", got)
	}
	if strings.Contains(stub.user, "d4:0") || !strings.Contains(stub.user, "d3:0") {
		t.Errorf("citations not trimmed to 3:\n%s", stub.user)
	}
}

func TestNarrativeDefaults(t *testing.T) {
	stub := &recordingStub{text: `{"note":"nothing useful"}`}
	s := newTestSynthesizer(t, stub)

	headline, narrative, err := s.Narrative(context.Background(), narrativeRequest(1), &types.CostTrace{})
	if err != nil {
		t.Fatalf("Narrative: %v", err)
	}
	if headline != "Analysis summary" {
		t.Errorf("headline = %q", headline)
	}
	if narrative != "SQL results were executed and summarized." {
		t.Errorf("narrative = %q", narrative)
	}
}

func TestNarrativeSummaryFallback(t *testing.T) {
	stub := &recordingStub{text: `{"summary":"Short version."}`}
	s := newTestSynthesizer(t, stub)

	_, narrative, err := s.Narrative(context.Background(), narrativeRequest(1), &types.CostTrace{})
	if err != nil {
		t.Fatalf("Narrative: %v", err)
	}
	if narrative != "Short version." {
		t.Errorf("narrative = %q", narrative)
	}
}

func TestNarrativePropagatesModelFailure(t *testing.T) {
	stub := &recordingStub{err: errors.New("upstream exploded")}
	s := newTestSynthesizer(t, stub)

	_, _, err := s.Narrative(context.Background(), narrativeRequest(1), &types.CostTrace{})
	var provErr *types.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
}
