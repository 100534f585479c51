// Package planner turns a question into a bounded set of read-only analysis
// queries. Three strategies compose: keyword heuristics for simple asks, a
// library of prebuilt analysis patterns, and a model-backed dynamic planner
// for compositional questions. Every candidate query passes sqlguard before
// it reaches the executor; the planner never emits unvalidated SQL.
package planner

import (
	"regexp"
	"strings"

	"dataghost/internal/types"
)

// DefaultTopN bounds ranked pattern output when the intent does not say.
const DefaultTopN = 5

var wordPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)

// PickMetricColumn resolves the metric to analyze: the preferred column when
// the dataset has it as a numeric column, otherwise the first numeric column
// in ingestion order. Empty string when the dataset has no numeric column.
func PickMetricColumn(meta *types.DatasetMeta, preferred string) string {
	numeric := meta.NumericColumns()
	if preferred != "" {
		for _, col := range numeric {
			if col == preferred {
				return preferred
			}
		}
	}
	if len(numeric) > 0 {
		return numeric[0]
	}
	return ""
}

// PickTimeColumn resolves the time axis: the preferred column when the
// dataset has it, otherwise the first column with a time-like name.
func PickTimeColumn(meta *types.DatasetMeta, preferred string) string {
	if preferred != "" {
		for _, col := range meta.Columns {
			if col == preferred {
				return preferred
			}
		}
	}
	if timeLike := meta.TimeLikeColumns(); len(timeLike) > 0 {
		return timeLike[0]
	}
	return ""
}

// PickDimensionColumns returns the TEXT columns usable as segmentation
// dimensions, in ingestion order, minus any excluded names.
func PickDimensionColumns(meta *types.DatasetMeta, exclude ...string) []string {
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		if name != "" {
			skip[name] = true
		}
	}
	var dims []string
	for _, col := range meta.TextColumns() {
		if !skip[col] {
			dims = append(dims, col)
		}
	}
	return dims
}

// InferTopN returns the intent's requested ranking depth, defaulting when
// absent or non-positive.
func InferTopN(intent *types.Intent) int {
	if intent != nil && intent.TopN > 0 {
		return intent.TopN
	}
	return DefaultTopN
}

// tokenize lower-cases the text and splits it into its word set.
func tokenize(text string) map[string]bool {
	tokens := map[string]bool{}
	for _, tok := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		tokens[tok] = true
	}
	return tokens
}

// mentionedColumns returns the dataset columns whose names appear verbatim
// in the question, in ingestion order.
func mentionedColumns(question string, columns []string) []string {
	lowered := strings.ToLower(question)
	var out []string
	for _, col := range columns {
		if strings.Contains(lowered, strings.ToLower(col)) {
			out = append(out, col)
		}
	}
	return out
}
