package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"dataghost/internal/config"
	"dataghost/internal/logging"
	"dataghost/internal/metrics"
	"dataghost/internal/store"
	"dataghost/internal/types"
)

// Task names with fixed routing behavior.
const (
	TaskSynthesize  = "synthesize_explanation"
	TaskDefault     = "default"
	TaskParseIntent = "parse_intent"
	TaskPlanSQL     = "plan_sql_queries"
)

// CallRequest describes one routed model call.
type CallRequest struct {
	RequestID       string
	App             string
	Task            string
	SystemPrompt    string
	UserPrompt      string
	PreferExpensive bool
}

// Router is the single gate for outgoing model calls. It picks the model
// tier, projects spend against both budget caps, trips a circuit breaker on
// repeated provider failures, and writes one ledger row per completion.
type Router struct {
	cfg      config.LLMConfig
	store    *store.Store
	provider Provider
	breaker  *gobreaker.CircuitBreaker
	now      func() time.Time
}

// NewRouter wires a router over the given provider and ledger store.
func NewRouter(cfg config.LLMConfig, s *store.Store, p Provider) *Router {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm-provider",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Router("Circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	return &Router{cfg: cfg, store: s, provider: p, breaker: breaker, now: time.Now}
}

// SelectModel maps a task to a configured model tier.
func (r *Router) SelectModel(task string, preferExpensive bool) string {
	switch {
	case task == TaskSynthesize:
		return r.cfg.ModelExpensive
	case task == TaskDefault:
		return r.cfg.ModelDefault
	case preferExpensive:
		return r.cfg.ModelExpensive
	default:
		return r.cfg.ModelCheap
	}
}

func (r *Router) priceUSD(promptTokens, completionTokens int) float64 {
	return types.RoundUSD(float64(promptTokens)/1000.0*r.cfg.PricePromptPer1K +
		float64(completionTokens)/1000.0*r.cfg.PriceCompletionPer1K)
}

// Call routes one model call. On success the completion is returned, a
// ledger row is committed, and trace (when non-nil) absorbs the usage.
// Budget and disabled-LLM violations fail before the provider is touched.
func (r *Router) Call(ctx context.Context, req CallRequest, trace *types.CostTrace) (*Completion, error) {
	if !r.cfg.Enabled {
		return nil, &types.LLMDisabledError{}
	}

	model := r.SelectModel(req.Task, req.PreferExpensive)
	estPrompt := CountTokens(req.SystemPrompt + "\n" + req.UserPrompt)
	estUSD := r.priceUSD(estPrompt, r.cfg.EstimatedCompletionTokens)

	requestSpend, err := r.store.RequestSpendUSD(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to read request spend: %w", err)
	}
	if requestSpend+estUSD > r.cfg.MaxUSDPerRequest {
		logging.Router("Request budget blocked call: request=%s spent=%.8f projected=%.8f cap=%.2f",
			req.RequestID, requestSpend, estUSD, r.cfg.MaxUSDPerRequest)
		return nil, &types.BudgetExceededError{Message: fmt.Sprintf(
			"LLM call blocked: per-request budget exceeded (%.8f USD spent plus %.8f USD projected passes the %.2f USD cap).",
			requestSpend, estUSD, r.cfg.MaxUSDPerRequest)}
	}

	daySpend, err := r.store.GlobalSpendUSDSince(ctx, store.DayStartISO(r.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to read daily spend: %w", err)
	}
	if daySpend+estUSD > r.cfg.MaxUSDPerDay {
		logging.Router("Daily budget blocked call: spent=%.8f projected=%.8f cap=%.2f",
			daySpend, estUSD, r.cfg.MaxUSDPerDay)
		return nil, &types.BudgetExceededError{Message: fmt.Sprintf(
			"LLM call blocked: daily budget exceeded (%.8f USD spent today plus %.8f USD projected passes the %.2f USD cap).",
			daySpend, estUSD, r.cfg.MaxUSDPerDay)}
	}

	cctx := ctx
	if timeout := time.Duration(r.cfg.TimeoutSeconds * float64(time.Second)); timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := r.now()
	out, err := r.breaker.Execute(func() (any, error) {
		return r.provider.Complete(cctx, model, req.SystemPrompt, req.UserPrompt)
	})
	if err != nil {
		logging.Get(logging.CategoryRouter).Error("Provider call failed: task=%s model=%s err=%v", req.Task, model, err)
		return nil, &types.ProviderError{Provider: r.provider.Name(), Message: err.Error()}
	}
	comp := out.(*Completion)
	if comp.Provider == "" {
		comp.Provider = r.provider.Name()
	}
	if comp.Model == "" {
		comp.Model = model
	}
	if comp.PromptTokens <= 0 {
		comp.PromptTokens = estPrompt
	}
	if comp.CompletionTokens <= 0 {
		comp.CompletionTokens = CountTokens(comp.Text)
	}

	usd := r.priceUSD(comp.PromptTokens, comp.CompletionTokens)
	metadata, err := json.Marshal(map[string]string{
		"task":                  req.Task,
		"system_prompt_preview": firstRunes(req.SystemPrompt, 160),
		"user_prompt_preview":   firstRunes(req.UserPrompt, 160),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode ledger metadata: %w", err)
	}
	entry := &store.LedgerEntry{
		RequestID:        req.RequestID,
		App:              req.App,
		Provider:         comp.Provider,
		Model:            comp.Model,
		PromptTokens:     comp.PromptTokens,
		CompletionTokens: comp.CompletionTokens,
		USD:              usd,
		MetadataJSON:     string(metadata),
	}
	if err := r.store.InsertCostEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record model call: %w", err)
	}

	if trace != nil {
		trace.Add(comp.Model, comp.PromptTokens, comp.CompletionTokens, usd)
	}
	metrics.ModelUsage(comp.PromptTokens, comp.CompletionTokens, usd)
	logging.Router("Model call: task=%s model=%s prompt_tokens=%d completion_tokens=%d usd=%.8f took=%v",
		req.Task, comp.Model, comp.PromptTokens, comp.CompletionTokens, usd, time.Since(start))
	return comp, nil
}
