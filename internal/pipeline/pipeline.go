// Package pipeline runs the staged ask flow: dataset readiness, clarification
// gating, intent parsing, hybrid planning, bounded execution, confidence
// grading, context retrieval, and narrative synthesis. The stages run as a
// straight line; gates short-circuit to finalization instead of branching the
// control flow.
package pipeline

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"dataghost/internal/answer"
	"dataghost/internal/confidence"
	"dataghost/internal/config"
	"dataghost/internal/embedding"
	"dataghost/internal/execution"
	"dataghost/internal/llm"
	"dataghost/internal/logging"
	"dataghost/internal/metrics"
	"dataghost/internal/planner"
	"dataghost/internal/retrieval"
	"dataghost/internal/store"
	"dataghost/internal/types"
)

const intentSystemPrompt = "Extract analysis intent from the question. Return JSON with metric, timeframe, dimensions, top_n."

// Question tokens that make a clarification worth asking. Metric tokens ask
// for a numeric aggregate; change tokens ask about movement over time.
var (
	metricAskTokens = []string{"average", "mean", "sum", "total", "median", "trend", "change", "increase", "decrease", "drop"}
	changeAskTokens = []string{"change", "trend", "drop", "increase", "decrease", "week", "month"}
)

// Pipeline owns the collaborators shared across requests. Per-request state
// lives in the run struct, so one Pipeline serves concurrent requests.
type Pipeline struct {
	cfg       *config.Config
	store     *store.Store
	router    *llm.Router
	planner   *planner.Planner
	executor  *execution.Executor
	retriever *retrieval.Retriever
	synth     *answer.Synthesizer
}

// New wires a pipeline over the given store and router.
func New(cfg *config.Config, s *store.Store, router *llm.Router) *Pipeline {
	engine := embedding.NewHashedEngine(embedding.DefaultDimensions)
	return &Pipeline{
		cfg:       cfg,
		store:     s,
		router:    router,
		planner:   planner.New(router, cfg.Query, cfg.AppName),
		executor:  execution.New(s.Workspace(), cfg.Query),
		retriever: retrieval.New(s, engine, cfg.RAG.TopK),
		synth:     answer.NewSynthesizer(router, cfg.AppName),
	}
}

// run is the mutable state of one request moving through the stages.
type run struct {
	p   *Pipeline
	req types.AskRequest
	log *logging.RequestLogger

	meta            *types.DatasetMeta
	datasetNotReady bool
	needsClarify    bool
	questions       []types.ClarificationQuestion
	intent          *types.Intent
	planned         []types.PlannedQuery
	executed        []types.ExecutedResult
	execErrors      []types.Diagnostic
	diags           []types.Diagnostic
	confidence      types.Confidence
	citations       []types.Citation
	answer          *types.Answer
	trace           types.CostTrace
}

// Run executes one ask request end to end and writes its request-log row.
// Recoverable conditions surface as diagnostics inside the result; budget,
// disabled-LLM, provider, and storage failures return an error instead.
func (p *Pipeline) Run(ctx context.Context, req types.AskRequest) (*types.AskResult, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	timer := logging.StartTimer(logging.CategoryPipeline, "Run")
	defer timer.StopWithInfo(req.RequestID)

	r := &run{
		p:      p,
		req:    req,
		log:    logging.WithRequestID(logging.CategoryPipeline, req.RequestID),
		intent: &types.Intent{},
	}
	r.log.Info("Ask started: %q", req.Question)

	if err := r.checkDatasetReady(ctx); err != nil {
		return nil, err
	}
	if !r.datasetNotReady {
		r.decideNeedClarification()
	}
	if !r.datasetNotReady && !r.needsClarify {
		if err := r.parseIntent(ctx); err != nil {
			return nil, err
		}
		if err := r.planAnalyses(ctx); err != nil {
			return nil, err
		}
		r.executeQueries(ctx)
		r.validateResults()
		if err := r.retrieveContext(ctx); err != nil {
			return nil, err
		}
		if err := r.synthesize(ctx); err != nil {
			return nil, err
		}
	}

	result := r.finalize()
	if err := r.writeRequestLog(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *run) checkDatasetReady(ctx context.Context) error {
	meta, err := r.p.store.GetDatasetMeta(ctx)
	if err != nil {
		return err
	}
	if meta == nil {
		r.datasetNotReady = true
		r.diags = append(r.diags, types.NewDiagnostic(types.DiagDatasetNotReady,
			"Upload a CSV dataset first using POST /upload/dataset."))
		r.log.Info("No active dataset; answering with the canned response")
		return nil
	}
	r.meta = meta
	return nil
}

// decideNeedClarification resolves the metric and time column from the
// clarification map first, then from column names mentioned in the question.
// Only genuinely ambiguous choices produce questions: a sole time-like column
// is auto-selected, and a question that names a column never re-asks for it.
func (r *run) decideNeedClarification() {
	question := strings.ToLower(r.req.Question)
	numericCols := r.meta.NumericColumns()
	timeCols := r.meta.TimeLikeColumns()

	selectedMetric := r.req.Clarifications["metric"]
	if selectedMetric == "" {
		selectedMetric = firstMentioned(question, numericCols)
	}
	selectedTime := r.req.Clarifications["time_column"]
	if selectedTime == "" {
		selectedTime = firstMentioned(question, timeCols)
	}
	if len(timeCols) == 1 && selectedTime == "" {
		selectedTime = timeCols[0]
	}

	if mention := firstMentioned(question, r.meta.Columns); mention != "" {
		r.intent.ColumnMention = mention
	}

	if containsAny(question, metricAskTokens) && selectedMetric == "" && len(numericCols) > 1 {
		r.questions = append(r.questions, types.ClarificationQuestion{
			Key:     "metric",
			Type:    "select",
			Prompt:  "Which metric should be analyzed?",
			Options: numericCols,
		})
	}
	if containsAny(question, changeAskTokens) && selectedTime == "" && len(timeCols) > 1 {
		r.questions = append(r.questions, types.ClarificationQuestion{
			Key:     "time_column",
			Type:    "select",
			Prompt:  "Which column should be treated as time?",
			Options: timeCols,
		})
	}

	if selectedMetric != "" {
		r.intent.Metric = selectedMetric
	}
	if selectedTime != "" {
		r.intent.TimeColumn = selectedTime
	}
	r.needsClarify = len(r.questions) > 0
	if r.needsClarify {
		r.log.Info("Clarification needed: %d question(s)", len(r.questions))
	}
}

func (r *run) parseIntent(ctx context.Context) error {
	comp, err := r.p.router.Call(ctx, llm.CallRequest{
		RequestID:    r.req.RequestID,
		App:          r.p.cfg.AppName,
		Task:         llm.TaskParseIntent,
		SystemPrompt: intentSystemPrompt,
		UserPrompt:   r.req.Question,
	}, &r.trace)
	if err != nil {
		return err
	}
	mergeParsedIntent(r.intent, llm.ParseJSONObject(comp.Text))
	r.intent.RawQuestion = r.req.Question
	r.log.Debug("Intent: metric=%q time=%q mention=%q top_n=%d",
		r.intent.Metric, r.intent.TimeColumn, r.intent.ColumnMention, r.intent.TopN)
	return nil
}

func (r *run) planAnalyses(ctx context.Context) error {
	planned, diags, err := r.p.planner.BuildPlan(ctx, planner.Request{
		RequestID:      r.req.RequestID,
		Question:       r.req.Question,
		Meta:           r.meta,
		Clarifications: r.req.Clarifications,
		Intent:         r.intent,
	}, &r.trace)
	if err != nil {
		return err
	}
	r.planned = planned
	r.diags = append(r.diags, diags...)
	return nil
}

// executeQueries splits the executor's diagnostics: per-query SQL failures
// feed the confidence grader as execution errors, everything else (the plan
// budget trim) joins the shared diagnostics.
func (r *run) executeQueries(ctx context.Context) {
	executed, diags := r.p.executor.RunPlan(ctx, r.planned)
	r.executed = executed
	for _, d := range diags {
		if d.Code == types.DiagSQLExecutionError {
			r.execErrors = append(r.execErrors, d)
		} else {
			r.diags = append(r.diags, d)
		}
	}
}

func (r *run) validateResults() {
	conf, combined := confidence.Validate(len(r.planned), r.executed, r.execErrors, r.diags)
	r.confidence = conf
	r.diags = combined
}

func (r *run) retrieveContext(ctx context.Context) error {
	citations, err := r.p.retriever.Retrieve(ctx, r.req.Question)
	if err != nil {
		return err
	}
	if citations == nil {
		citations = []types.Citation{}
	}
	r.citations = citations
	return nil
}

func (r *run) synthesize(ctx context.Context) error {
	headline, narrative, err := r.p.synth.Narrative(ctx, answer.NarrativeRequest{
		RequestID:   r.req.RequestID,
		Question:    r.req.Question,
		Executed:    r.executed,
		Diagnostics: r.diags,
		Confidence:  r.confidence,
		Citations:   r.citations,
	}, &r.trace)
	if err != nil {
		return err
	}
	r.answer = &types.Answer{
		Headline:         headline,
		Narrative:        narrative,
		Drivers:          answer.BuildDrivers(r.executed),
		Charts:           answer.BuildCharts(r.executed),
		SQL:              answer.SQLArtifacts(r.executed),
		Confidence:       r.confidence,
		Diagnostics:      r.diags,
		Cost:             r.trace.Summary(),
		ContextCitations: r.citations,
	}
	return nil
}

func (r *run) finalize() *types.AskResult {
	result := &types.AskResult{
		ConversationID:         r.req.ConversationID,
		NeedsClarification:     r.needsClarify,
		ClarificationQuestions: r.questions,
		Diagnostics:            r.diags,
		CostTrace:              r.trace.Rounded(),
	}
	if result.ClarificationQuestions == nil {
		result.ClarificationQuestions = []types.ClarificationQuestion{}
	}
	if result.Diagnostics == nil {
		result.Diagnostics = []types.Diagnostic{}
	}
	switch {
	case r.needsClarify:
		// Answer stays nil until the caller resolves the questions.
	case r.datasetNotReady:
		result.Answer = r.datasetRequiredAnswer()
	default:
		result.Answer = r.answer
	}
	return result
}

func (r *run) datasetRequiredAnswer() *types.Answer {
	return &types.Answer{
		Headline:  "Dataset required",
		Narrative: "Upload a CSV dataset using POST /upload/dataset before asking analysis questions.",
		Drivers:   []types.Driver{},
		Charts:    []types.Chart{},
		SQL:       []types.SQLArtifact{},
		Confidence: types.Confidence{
			Level:   types.ConfidenceInsufficient,
			Reasons: []string{"No dataset available."},
		},
		Diagnostics:      r.diags,
		Cost:             r.trace.Summary(),
		ContextCitations: []types.Citation{},
	}
}

func (r *run) writeRequestLog(ctx context.Context, result *types.AskResult) error {
	status := types.StatusCompleted
	if result.NeedsClarification {
		status = types.StatusNeedsClarification
	}
	rounded := r.trace.Rounded()
	entry := &store.RequestLog{
		ID:               r.req.RequestID,
		ConversationID:   result.ConversationID,
		Question:         r.req.Question,
		Models:           strings.Join(rounded.Models, ","),
		PromptTokens:     rounded.PromptTokens,
		CompletionTokens: rounded.CompletionTokens,
		USD:              rounded.USD,
		Status:           status,
		DiagnosticsJSON:  encodeJSON(result.Diagnostics),
		ResponseJSON:     encodeJSON(result),
	}
	if err := r.p.store.InsertRequestLog(ctx, entry); err != nil {
		return err
	}
	metrics.ObserveAsk(status)
	r.log.Info("Finished status=%s queries=%d/%d diagnostics=%d usd=%.8f",
		status, len(r.executed), len(r.planned), len(result.Diagnostics), rounded.USD)
	return nil
}

// mergeParsedIntent fills intent fields from the model's JSON only where the
// clarification stage has not already decided them.
func mergeParsedIntent(intent *types.Intent, parsed map[string]any) {
	if intent.Metric == "" {
		intent.Metric = llm.StringField(parsed, "metric")
	}
	if intent.TimeColumn == "" {
		intent.TimeColumn = llm.StringField(parsed, "time_column")
	}
	if intent.Timeframe == "" {
		intent.Timeframe = llm.StringField(parsed, "timeframe")
	}
	if len(intent.Dimensions) == 0 {
		if dims, ok := parsed["dimensions"].([]any); ok {
			for _, d := range dims {
				if s, ok := d.(string); ok && s != "" {
					intent.Dimensions = append(intent.Dimensions, s)
				}
			}
		}
	}
	if intent.TopN == 0 {
		switch n := parsed["top_n"].(type) {
		case float64:
			intent.TopN = int(n)
		case string:
			if v, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
				intent.TopN = v
			}
		}
	}
}

func firstMentioned(loweredQuestion string, columns []string) string {
	for _, col := range columns {
		if strings.Contains(loweredQuestion, strings.ToLower(col)) {
			return col
		}
	}
	return ""
}

func containsAny(s string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}

func encodeJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
