package types

// AskRequest is the orchestrator entry point. Missing ids are filled with
// fresh UUIDs before the pipeline runs.
type AskRequest struct {
	Question       string            `json:"question"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Clarifications map[string]string `json:"clarifications,omitempty"`
	RequestID      string            `json:"-"`
}

// ClarificationQuestion asks the caller to resolve an ambiguity before the
// pipeline can plan. Options enumerate the legal answers.
type ClarificationQuestion struct {
	Key     string   `json:"key"`
	Type    string   `json:"type"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

// Intent is the structured reading of the question. Clarification answers win
// over model-extracted fields.
type Intent struct {
	RawQuestion   string   `json:"raw_question,omitempty"`
	Metric        string   `json:"metric,omitempty"`
	TimeColumn    string   `json:"time_column,omitempty"`
	Dimensions    []string `json:"dimensions,omitempty"`
	TopN          int      `json:"top_n,omitempty"`
	Timeframe     string   `json:"timeframe,omitempty"`
	ColumnMention string   `json:"column_mention,omitempty"`
}

// Driver is one ranked contributor to the observed change.
type Driver struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
	Evidence     Row     `json:"evidence"`
}

// ChartPoint is a single x/y pair. X stays loosely typed because it may be a
// date string, a segment label, or a number straight from a result row.
type ChartPoint struct {
	X any     `json:"x"`
	Y float64 `json:"y"`
}

// Chart is a renderable series derived from executed results.
type Chart struct {
	Kind  string       `json:"kind"`
	Title string       `json:"title"`
	Data  []ChartPoint `json:"data"`
}

// SQLArtifact cites one executed query in the answer.
type SQLArtifact struct {
	Label string `json:"label"`
	Query string `json:"query"`
}

// Answer is the grounded narrative payload. Present exactly when
// needs_clarification is false.
type Answer struct {
	Headline         string        `json:"headline"`
	Narrative        string        `json:"narrative"`
	Drivers          []Driver      `json:"drivers"`
	Charts           []Chart       `json:"charts"`
	SQL              []SQLArtifact `json:"sql"`
	Confidence       Confidence    `json:"confidence"`
	Diagnostics      []Diagnostic  `json:"diagnostics"`
	Cost             CostSummary   `json:"cost"`
	ContextCitations []Citation    `json:"context_citations"`
}

// AskResult is the orchestrator output for one request.
type AskResult struct {
	ConversationID         string                  `json:"conversation_id"`
	NeedsClarification     bool                    `json:"needs_clarification"`
	ClarificationQuestions []ClarificationQuestion `json:"clarification_questions"`
	Answer                 *Answer                 `json:"answer"`
	Diagnostics            []Diagnostic            `json:"diagnostics"`
	CostTrace              CostTrace               `json:"cost_trace"`
}

// Request log status values.
const (
	StatusCompleted          = "completed"
	StatusNeedsClarification = "needs_clarification"
)
