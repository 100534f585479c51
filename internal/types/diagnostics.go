package types

// DiagnosticCode is a stable symbol identifying a pipeline condition. Codes
// appear verbatim in responses and request logs, so they never change.
type DiagnosticCode string

const (
	DiagDatasetNotReady      DiagnosticCode = "DATASET_NOT_READY"
	DiagNoAnalysisPlan       DiagnosticCode = "NO_ANALYSIS_PLAN"
	DiagNoQueryResults       DiagnosticCode = "NO_QUERY_RESULTS"
	DiagEmptyResults         DiagnosticCode = "EMPTY_RESULTS"
	DiagQueryBudgetExceeded  DiagnosticCode = "QUERY_BUDGET_EXCEEDED"
	DiagSQLExecutionError    DiagnosticCode = "SQL_EXECUTION_ERROR"
	DiagUnsafeSQLPlan        DiagnosticCode = "UNSAFE_SQL_PLAN"
	DiagInvalidSQLReferences DiagnosticCode = "INVALID_SQL_REFERENCES"
	DiagMissingMetric        DiagnosticCode = "MISSING_METRIC"
	DiagMissingTimeColumn    DiagnosticCode = "MISSING_TIME_COLUMN"
	DiagMissingDimension     DiagnosticCode = "MISSING_DIMENSION"
	DiagLLMPlanEmpty         DiagnosticCode = "LLM_PLAN_EMPTY"
	DiagNoValidSQLPlan       DiagnosticCode = "NO_VALID_SQL_PLAN"
	DiagEmptySchema          DiagnosticCode = "EMPTY_SCHEMA"
)

// partialFailureCodes mark results as directional evidence only; any one of
// them caps confidence at insufficient.
var partialFailureCodes = map[DiagnosticCode]bool{
	DiagMissingMetric:       true,
	DiagMissingTimeColumn:   true,
	DiagMissingDimension:    true,
	DiagSQLExecutionError:   true,
	DiagQueryBudgetExceeded: true,
	DiagEmptyResults:        true,
}

// IsPartialFailure reports whether the code belongs to the partial-failure set.
func (c DiagnosticCode) IsPartialFailure() bool { return partialFailureCodes[c] }

// Diagnostic pairs a stable code with a human-readable message.
type Diagnostic struct {
	Code    DiagnosticCode `json:"code"`
	Message string         `json:"message"`
}

// NewDiagnostic builds a diagnostic.
func NewDiagnostic(code DiagnosticCode, message string) Diagnostic {
	return Diagnostic{Code: code, Message: message}
}

// ConfidenceLevel grades how well the executed results support an answer.
type ConfidenceLevel string

const (
	ConfidenceHigh         ConfidenceLevel = "high"
	ConfidenceMedium       ConfidenceLevel = "medium"
	ConfidenceLow          ConfidenceLevel = "low"
	ConfidenceInsufficient ConfidenceLevel = "insufficient"
)

// Confidence is the result validator's verdict plus its reasons.
type Confidence struct {
	Level   ConfidenceLevel `json:"level"`
	Reasons []string        `json:"reasons"`
}
