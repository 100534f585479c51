package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"dataghost/internal/config"
	"dataghost/internal/embedding"
	"dataghost/internal/ingest"
	"dataghost/internal/llm"
	"dataghost/internal/pipeline"
	"dataghost/internal/store"
	"dataghost/internal/types"
)

// scriptedProvider answers each pipeline task with a fixed payload, keyed
// off the system prompt. Unknown prompts get an empty JSON object.
type scriptedProvider struct {
	calls  int
	intent string
	plan   string
	answer string
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Complete(_ context.Context, model, system, _ string) (*llm.Completion, error) {
	s.calls++
	text := "{}"
	switch {
	case strings.Contains(system, "analysis intent") && s.intent != "":
		text = s.intent
	case strings.Contains(system, "SQL planning assistant") && s.plan != "":
		text = s.plan
	case strings.Contains(system, "data analyst assistant") && s.answer != "":
		text = s.answer
	}
	return &llm.Completion{Text: text, Model: model}, nil
}

const chatSalesCSV = `date,segment,revenue
2024-05-01,emea,100
2024-05-02,amer,120
2024-05-08,emea,80
2024-05-09,amer,150
`

func newTestApp(t *testing.T, provider llm.Provider) *app {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "chat.db")

	st, err := store.New(cfg.Storage.Path)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return &app{
		cfg:   cfg,
		store: st,
		pipe:  pipeline.New(cfg, st, llm.NewRouter(cfg.LLM, st, provider)),
		ing:   ingest.New(st, embedding.NewHashedEngine(embedding.DefaultDimensions), cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap),
	}
}

func sizedChatModel(t *testing.T, a *app) chatModel {
	t.Helper()
	m := newChatModel(a)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	model := updated.(chatModel)
	if !model.ready {
		t.Fatal("model not ready after window size message")
	}
	return model
}

func TestInlineClarifications(t *testing.T) {
	cases := []struct {
		line string
		want map[string]string
		ok   bool
	}{
		{"metric=revenue", map[string]string{"metric": "revenue"}, true},
		{"metric=revenue time_column=date", map[string]string{"metric": "revenue", "time_column": "date"}, true},
		{"metric=", nil, false},
		{"=revenue", nil, false},
		{"revenue", nil, false},
		{"metric=revenue and profit", nil, false},
		{"", nil, false},
	}
	for _, tc := range cases {
		got, ok := inlineClarifications(tc.line)
		if ok != tc.ok {
			t.Errorf("inlineClarifications(%q) ok = %v, want %v", tc.line, ok, tc.ok)
			continue
		}
		if !tc.ok {
			continue
		}
		if len(got) != len(tc.want) {
			t.Errorf("inlineClarifications(%q) = %v, want %v", tc.line, got, tc.want)
			continue
		}
		for k, v := range tc.want {
			if got[k] != v {
				t.Errorf("inlineClarifications(%q)[%s] = %q, want %q", tc.line, k, got[k], v)
			}
		}
	}
}

func TestParseClarifications(t *testing.T) {
	got, err := parseClarifications(nil)
	if err != nil || got != nil {
		t.Errorf("parseClarifications(nil) = %v, %v", got, err)
	}

	got, err = parseClarifications([]string{"metric=revenue", "timeframe=last week"})
	if err != nil {
		t.Fatalf("parseClarifications: %v", err)
	}
	if got["metric"] != "revenue" || got["timeframe"] != "last week" {
		t.Errorf("parseClarifications = %v", got)
	}

	if _, err := parseClarifications([]string{"bad"}); err == nil {
		t.Error("expected error for pair without =")
	}
	if _, err := parseClarifications([]string{"=revenue"}); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestChatSubmitTransitions(t *testing.T) {
	m := sizedChatModel(t, &app{})

	m.input.SetValue("   ")
	updated, cmd := m.handleSubmit()
	m = updated.(chatModel)
	if cmd != nil || m.isLoading || len(m.history) != 0 {
		t.Fatal("blank input should be ignored")
	}

	m.input.SetValue("Why did revenue drop?")
	updated, cmd = m.handleSubmit()
	m = updated.(chatModel)
	if cmd == nil {
		t.Fatal("expected an ask command")
	}
	if !m.isLoading {
		t.Error("isLoading not set after submit")
	}
	if len(m.history) != 1 || m.history[0].role != "you" || m.history[0].text != "Why did revenue drop?" {
		t.Fatalf("history = %+v", m.history)
	}
	if m.input.Value() != "" {
		t.Error("input not reset after submit")
	}
}

func TestChatClarificationResume(t *testing.T) {
	m := sizedChatModel(t, &app{})

	clar := &types.AskResult{
		ConversationID:     "conv-1",
		NeedsClarification: true,
		ClarificationQuestions: []types.ClarificationQuestion{
			{Key: "metric", Type: "choice", Prompt: "Which metric?", Options: []string{"revenue", "profit"}},
		},
	}
	updated, _ := m.Update(answerMsg{question: "How did it change?", result: clar})
	m = updated.(chatModel)

	if m.pendingQuestion != "How did it change?" {
		t.Fatalf("pendingQuestion = %q", m.pendingQuestion)
	}
	if m.conversationID != "conv-1" {
		t.Errorf("conversationID = %q", m.conversationID)
	}
	if !strings.Contains(m.renderHistory(), "Which metric?") {
		t.Error("clarification prompt not in transcript")
	}

	// A key=value reply resumes the pending question instead of asking anew.
	m.input.SetValue("metric=revenue")
	updated, cmd := m.handleSubmit()
	m = updated.(chatModel)
	if cmd == nil || !m.isLoading {
		t.Fatal("clarification reply should trigger an ask")
	}

	answered := &types.AskResult{
		ConversationID: "conv-1",
		Answer:         &types.Answer{Headline: "Revenue moved", Narrative: "It went down."},
	}
	updated, _ = m.Update(answerMsg{question: "How did it change?", result: answered})
	m = updated.(chatModel)
	if m.pendingQuestion != "" {
		t.Error("pendingQuestion not cleared after a full answer")
	}
}

func TestChatCommands(t *testing.T) {
	m := sizedChatModel(t, &app{})

	m.input.SetValue("/help")
	updated, _ := m.handleSubmit()
	m = updated.(chatModel)
	if len(m.history) != 1 || m.history[0].role != "ghost" {
		t.Fatalf("history after /help = %+v", m.history)
	}
	if !strings.Contains(m.renderHistory(), "/clear") {
		t.Error("help text not rendered")
	}

	m.input.SetValue("/nope")
	updated, _ = m.handleSubmit()
	m = updated.(chatModel)
	if last := m.history[len(m.history)-1]; last.role != "error" || !strings.Contains(last.text, "unknown command") {
		t.Fatalf("history after /nope = %+v", last)
	}

	m.input.SetValue("/clear")
	updated, _ = m.handleSubmit()
	m = updated.(chatModel)
	if len(m.history) != 0 {
		t.Error("/clear should empty the transcript")
	}

	m.input.SetValue("/quit")
	_, cmd := m.handleSubmit()
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("/quit should quit the program")
	}
}

func TestChatAnswerFlow(t *testing.T) {
	provider := &scriptedProvider{
		answer: `{"headline":"Revenue shifted by segment","narrative":"EMEA fell while AMER grew."}`,
	}
	a := newTestApp(t, provider)
	if _, err := a.ing.IngestCSV(context.Background(), "sales.csv", []byte(chatSalesCSV)); err != nil {
		t.Fatalf("IngestCSV: %v", err)
	}

	m := sizedChatModel(t, a)

	msg := m.askCmd("Why did revenue change last week?", nil)()
	ans, ok := msg.(answerMsg)
	if !ok {
		t.Fatalf("askCmd returned %T", msg)
	}
	if ans.err != nil {
		t.Fatalf("ask: %v", ans.err)
	}

	updated, _ := m.Update(ans)
	m = updated.(chatModel)
	if m.isLoading {
		t.Error("isLoading still set after answer")
	}
	if m.conversationID == "" {
		t.Error("conversation id not captured for follow-ups")
	}
	if len(m.history) != 1 || m.history[0].role != "ghost" {
		t.Fatalf("history = %+v", m.history)
	}
	if !strings.Contains(m.renderHistory(), "Revenue shifted by segment") {
		t.Error("transcript does not show the answer headline")
	}
}
