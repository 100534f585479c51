package planner

import (
	"fmt"

	"dataghost/internal/logging"
	"dataghost/internal/types"
)

// frequencyIntents are the tokens that ask for a most-common-values scan.
var frequencyIntents = map[string]bool{
	"common":    true,
	"frequent":  true,
	"frequency": true,
	"popular":   true,
	"mode":      true,
	"top":       true,
}

// aggregateIntents map question tokens to SQL aggregate functions. Order
// matters: the first token present in the question wins.
var aggregateIntents = []struct {
	token string
	fn    string
}{
	{"average", "AVG"},
	{"mean", "AVG"},
	{"sum", "SUM"},
	{"total", "SUM"},
	{"max", "MAX"},
	{"highest", "MAX"},
	{"min", "MIN"},
	{"lowest", "MIN"},
}

// HeuristicQueries answers simple keyword questions without any model call.
// It emits at most one query and nothing at all when the target column is
// ambiguous; ambiguity is the dynamic planner's job.
func HeuristicQueries(question string, meta *types.DatasetMeta) []types.PlannedQuery {
	tokens := tokenize(question)
	mentioned := mentionedColumns(question, meta.Columns)
	textCols := meta.TextColumns()
	numericCols := meta.NumericColumns()

	if intersects(tokens, frequencyIntents) {
		target := firstMember(mentioned, textCols)
		if target == "" && len(textCols) == 1 {
			target = textCols[0]
		}
		if target != "" {
			logging.PlannerDebug("Heuristic frequency query on %q", target)
			return []types.PlannedQuery{frequencyQuery(meta.TableName, target)}
		}
	}

	if fn := requestedAggregate(tokens); fn != "" {
		target := firstMember(mentioned, numericCols)
		if target == "" && len(numericCols) == 1 {
			target = numericCols[0]
		}
		if target != "" {
			logging.PlannerDebug("Heuristic %s query on %q", fn, target)
			return []types.PlannedQuery{aggregateQuery(meta.TableName, target, fn)}
		}
	}

	if tokens["count"] || (tokens["how"] && tokens["many"]) {
		return []types.PlannedQuery{{
			Label:   "Row count",
			SQL:     fmt.Sprintf(`SELECT COUNT(*) AS row_count FROM "%s"`, meta.TableName),
			Pattern: "heuristic_count",
		}}
	}

	return nil
}

func frequencyQuery(tableName, column string) types.PlannedQuery {
	sql := fmt.Sprintf(`SELECT
  COALESCE(CAST("%[2]s" AS TEXT), '(null)') AS value,
  COUNT(*) AS frequency
FROM "%[1]s"
GROUP BY value
ORDER BY frequency DESC, value ASC
LIMIT 20`, tableName, column)
	return types.PlannedQuery{
		Label:   "Most common values for " + column,
		SQL:     sql,
		Pattern: "heuristic_frequency",
	}
}

func aggregateQuery(tableName, column, fn string) types.PlannedQuery {
	return types.PlannedQuery{
		Label:   fmt.Sprintf("%s for %s", fn, column),
		SQL:     fmt.Sprintf(`SELECT %s(CAST("%s" AS REAL)) AS value FROM "%s"`, fn, column, tableName),
		Pattern: "heuristic_numeric",
	}
}

func requestedAggregate(tokens map[string]bool) string {
	for _, intent := range aggregateIntents {
		if tokens[intent.token] {
			return intent.fn
		}
	}
	return ""
}

func intersects(tokens, vocabulary map[string]bool) bool {
	for tok := range vocabulary {
		if tokens[tok] {
			return true
		}
	}
	return false
}

// firstMember returns the first candidate that is also in the pool.
func firstMember(candidates, pool []string) string {
	member := make(map[string]bool, len(pool))
	for _, name := range pool {
		member[name] = true
	}
	for _, name := range candidates {
		if member[name] {
			return name
		}
	}
	return ""
}
