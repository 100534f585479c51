// Package confidence grades how well the executed results support an
// answer. The rules run in order and the first match wins; callers treat
// anything below high as a cue to hedge the narrative.
package confidence

import (
	"dataghost/internal/logging"
	"dataghost/internal/types"
)

// Validate folds execution errors into the running diagnostics, grades the
// run, and returns the verdict plus the combined diagnostic list. The
// planned count is the plan size before execution trimmed anything.
func Validate(plannedCount int, executed []types.ExecutedResult, execErrors, prior []types.Diagnostic) (types.Confidence, []types.Diagnostic) {
	diags := make([]types.Diagnostic, 0, len(prior)+len(execErrors)+1)
	diags = append(diags, prior...)
	diags = append(diags, execErrors...)

	verdict := func(level types.ConfidenceLevel, reason string) (types.Confidence, []types.Diagnostic) {
		logging.PipelineDebug("Confidence %s: %s", level, reason)
		return types.Confidence{Level: level, Reasons: []string{reason}}, diags
	}

	if plannedCount == 0 {
		diags = append(diags, types.NewDiagnostic(types.DiagNoAnalysisPlan,
			"No runnable analyses were produced"))
		return verdict(types.ConfidenceInsufficient,
			"No analysis plan could be generated from current dataset/question.")
	}

	if len(executed) == 0 {
		diags = append(diags, types.NewDiagnostic(types.DiagNoQueryResults,
			"All planned analyses failed to execute"))
		return verdict(types.ConfidenceInsufficient,
			"No query executed successfully. Fix dataset schema or question specificity.")
	}

	nonEmpty := 0
	for _, res := range executed {
		if res.HasRows() {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		diags = append(diags, types.NewDiagnostic(types.DiagEmptyResults,
			"Queries ran but returned empty result sets"))
		return verdict(types.ConfidenceLow,
			"Queries returned no rows; conclusions are weak.")
	}

	for _, d := range diags {
		if d.Code.IsPartialFailure() {
			return verdict(types.ConfidenceInsufficient,
				"Partial validation failure detected; use results as directional evidence only.")
		}
	}

	if len(execErrors) > 0 {
		return verdict(types.ConfidenceInsufficient,
			"Some planned analyses failed validation/execution; treat findings as partial.")
	}

	successRate := float64(len(executed)) / float64(plannedCount)
	switch {
	case successRate >= 0.8:
		return verdict(types.ConfidenceHigh,
			"Most planned analyses executed successfully with non-empty results.")
	case successRate >= 0.5:
		return verdict(types.ConfidenceMedium,
			"Some analyses executed; some failed or were incomplete.")
	default:
		return verdict(types.ConfidenceInsufficient,
			"Too many analysis steps failed; provide clarifications or cleaner data.")
	}
}
