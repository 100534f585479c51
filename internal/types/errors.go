package types

import "fmt"

// ValidationRejectedError reports SQL that failed a safety or reference
// check. The planner turns it into UNSAFE_SQL_PLAN or INVALID_SQL_REFERENCES
// diagnostics; it never unwinds a request.
type ValidationRejectedError struct {
	Reason string
}

func (e *ValidationRejectedError) Error() string { return e.Reason }

// SQLExecutionError wraps an engine-level failure, including the canonical
// "Query timed out" produced when a query exceeds its wall-clock bound.
type SQLExecutionError struct {
	Message string
}

func (e *SQLExecutionError) Error() string { return e.Message }

// BudgetExceededError aborts a request whose projected spend passes a cap.
// The transport maps it to HTTP 429.
type BudgetExceededError struct {
	Message string
}

func (e *BudgetExceededError) Error() string { return e.Message }

// LLMDisabledError aborts a request when model calls are switched off.
// The transport maps it to HTTP 503.
type LLMDisabledError struct{}

func (e *LLMDisabledError) Error() string {
	return "LLM calls are disabled by configuration (LLM_ENABLED=false)."
}

// RateLimitError reports an exhausted fixed window. RetryAfter is whole
// seconds until the window rolls over, always at least 1.
type RateLimitError struct {
	Bucket     string
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", e.RetryAfter)
}

// ProviderError reports an upstream model provider failure after retries.
// The transport maps it to HTTP 503.
type ProviderError struct {
	Provider string
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}
