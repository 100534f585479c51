package planner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"dataghost/internal/config"
	"dataghost/internal/llm"
	"dataghost/internal/logging"
	"dataghost/internal/sqlguard"
	"dataghost/internal/types"
)

// planSystemPrompt instructs the model to return a strict JSON plan.
const planSystemPrompt = "You are a SQL planning assistant for SQLite. " +
	"Given a user question and a table schema, return JSON: " +
	"{\"queries\":[{\"label\":string,\"sql\":string}]}. " +
	"Rules: use ONLY SELECT/CTE statements; use ONLY provided table and columns; " +
	"prefer 1-3 queries; include aggregation/grouping when needed; " +
	"quote identifiers with double quotes; for raw rows include LIMIT <= 200."

// advancedMarkers route the question to the dynamic planner even when the
// heuristics or patterns already produced something. The spaced entries only
// match whole words.
var advancedMarkers = []string{
	" by ",
	" over ",
	"trend",
	"compare",
	"versus",
	" vs ",
	"breakdown",
	"why",
	"driver",
}

// patternMarkers pull the prebuilt pattern library into the plan.
var patternMarkers = []string{
	"change",
	"trend",
	"drop",
	"increase",
	"decrease",
	"anomaly",
	"noise",
	"driver",
	"quality",
	"missing",
	"duplicate",
}

// Planner composes the heuristic, pattern, and dynamic strategies and
// validates every candidate before it can reach the executor.
type Planner struct {
	router *llm.Router
	cfg    config.QueryConfig
	app    string
}

// New builds a hybrid planner. The router may only be nil in tests that
// never trigger the dynamic path.
func New(router *llm.Router, cfg config.QueryConfig, app string) *Planner {
	return &Planner{router: router, cfg: cfg, app: app}
}

// Request carries one planning pass.
type Request struct {
	RequestID      string
	Question       string
	Meta           *types.DatasetMeta
	Clarifications map[string]string
	Intent         *types.Intent
}

// llmPlanPayload is the user prompt for the dynamic planner.
type llmPlanPayload struct {
	Question       string                      `json:"question"`
	TableName      string                      `json:"table_name"`
	Columns        []string                    `json:"columns"`
	Schema         map[string]types.ColumnType `json:"schema"`
	Clarifications map[string]string           `json:"clarifications"`
}

// BuildPlan runs heuristics first, adds the pattern library when the
// question names an analysis concern, and asks the model when the question
// is compositional or nothing has been planned yet. The result is deduped,
// capped to the per-request budget, and validated query by query. Only
// budget, disabled-LLM, and provider failures surface as errors; a plan
// that merely comes up empty is reported through diagnostics.
func (p *Planner) BuildPlan(ctx context.Context, req Request, trace *types.CostTrace) ([]types.PlannedQuery, []types.Diagnostic, error) {
	timer := logging.StartTimer(logging.CategoryPlanner, "BuildPlan")
	defer timer.StopWithInfo(req.Question)

	var diags []types.Diagnostic
	planned := HeuristicQueries(req.Question, req.Meta)

	if includePrebuiltPatterns(req.Question) {
		intent := normalizedIntent(req)
		patternQueries, patternDiags, _ := PatternAnalyses(req.Meta, intent)
		planned = append(planned, patternQueries...)
		diags = append(diags, patternDiags...)
	}

	if questionNeedsAdvancedPlanning(req.Question) || len(planned) == 0 {
		llmQueries, err := p.dynamicQueries(ctx, req, trace)
		if err != nil {
			return nil, diags, err
		}
		if len(llmQueries) == 0 {
			diags = append(diags, types.NewDiagnostic(types.DiagLLMPlanEmpty,
				"Dynamic SQL planner returned no usable queries."))
		}
		planned = append(planned, llmQueries...)
	}

	planned = dedupeQueries(planned)
	if max := p.cfg.MaxPerRequest; max > 0 && len(planned) > max {
		planned = planned[:max]
	}

	valid, validationDiags := validateQueries(planned, req.Meta)
	diags = append(diags, validationDiags...)

	if len(valid) == 0 {
		diags = append(diags, types.NewDiagnostic(types.DiagNoValidSQLPlan,
			"Unable to produce a safe SQL plan for this question and schema."))
	}

	logging.Planner("Planned %d queries (%d candidates, %d diagnostics)", len(valid), len(planned), len(diags))
	return valid, diags, nil
}

// normalizedIntent fills metric and time column from clarifications and
// dataset shape so every pattern builder sees the same resolution.
func normalizedIntent(req Request) *types.Intent {
	intent := types.Intent{RawQuestion: req.Question}
	if req.Intent != nil {
		intent = *req.Intent
	}
	if intent.RawQuestion == "" {
		intent.RawQuestion = req.Question
	}
	if intent.Metric == "" {
		intent.Metric = PickMetricColumn(req.Meta, req.Clarifications["metric"])
	}
	if intent.TimeColumn == "" {
		intent.TimeColumn = PickTimeColumn(req.Meta, req.Clarifications["time_column"])
	}
	return &intent
}

// dynamicQueries asks the model for a plan and keeps whatever parses.
func (p *Planner) dynamicQueries(ctx context.Context, req Request, trace *types.CostTrace) ([]types.PlannedQuery, error) {
	payload, err := json.Marshal(llmPlanPayload{
		Question:       req.Question,
		TableName:      req.Meta.TableName,
		Columns:        req.Meta.Columns,
		Schema:         req.Meta.Schema,
		Clarifications: req.Clarifications,
	})
	if err != nil {
		return nil, err
	}

	comp, err := p.router.Call(ctx, llm.CallRequest{
		RequestID:    req.RequestID,
		App:          p.app,
		Task:         llm.TaskPlanSQL,
		SystemPrompt: planSystemPrompt,
		UserPrompt:   string(payload),
	}, trace)
	if err != nil {
		return nil, err
	}

	parsed := llm.ParseJSONObject(comp.Text)
	return extractModelQueries(parsed), nil
}

// extractModelQueries pulls labeled SQL out of the model's JSON. Items
// without SQL are dropped; items without a label get a generic one.
func extractModelQueries(parsed map[string]any) []types.PlannedQuery {
	raw, ok := parsed["queries"].([]any)
	if !ok {
		return nil
	}

	var out []types.PlannedQuery
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		sql := strings.TrimSpace(llm.StringField(obj, "sql"))
		if sql == "" {
			continue
		}
		label := llm.StringField(obj, "label")
		if label == "" {
			label = llm.StringField(obj, "purpose")
		}
		if label == "" {
			label = "Generated analysis"
		}
		out = append(out, types.PlannedQuery{Label: label, SQL: sql, Pattern: "llm_dynamic"})
	}
	return out
}

// dedupeQueries drops repeated SQL, comparing whitespace-collapsed lowered
// text and keeping the first occurrence.
func dedupeQueries(queries []types.PlannedQuery) []types.PlannedQuery {
	seen := make(map[string]bool, len(queries))
	out := make([]types.PlannedQuery, 0, len(queries))
	for _, q := range queries {
		normalized := strings.ToLower(strings.Join(strings.Fields(q.SQL), " "))
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, q)
	}
	return out
}

// validateQueries runs every candidate through the SQL guard. Failures turn
// into diagnostics labeled with the query they came from.
func validateQueries(queries []types.PlannedQuery, meta *types.DatasetMeta) ([]types.PlannedQuery, []types.Diagnostic) {
	var (
		valid []types.PlannedQuery
		diags []types.Diagnostic
	)
	for _, q := range queries {
		if err := sqlguard.CheckSafety(q.SQL); err != nil {
			diags = append(diags, types.NewDiagnostic(types.DiagUnsafeSQLPlan,
				q.Label+": "+rejectionReason(err)))
			continue
		}
		if err := sqlguard.CheckReferences(q.SQL, meta.TableName, meta.Columns); err != nil {
			diags = append(diags, types.NewDiagnostic(types.DiagInvalidSQLReferences,
				q.Label+": "+rejectionReason(err)))
			continue
		}
		valid = append(valid, q)
	}
	return valid, diags
}

func rejectionReason(err error) string {
	var rejected *types.ValidationRejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason
	}
	return err.Error()
}

func questionNeedsAdvancedPlanning(question string) bool {
	lowered := strings.ToLower(question)
	for _, marker := range advancedMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

func includePrebuiltPatterns(question string) bool {
	lowered := strings.ToLower(question)
	for _, marker := range patternMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
