// Package execution runs validated analysis SQL against the read-only
// dataset workspace under row and wall-clock bounds.
package execution

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dataghost/internal/config"
	"dataghost/internal/logging"
	"dataghost/internal/metrics"
	"dataghost/internal/types"
)

// Executor runs planned queries one at a time. The handle it holds must be
// read-only; see store.Workspace.
type Executor struct {
	db  *sql.DB
	cfg config.QueryConfig
}

// New builds an executor over the given workspace handle.
func New(db *sql.DB, cfg config.QueryConfig) *Executor {
	return &Executor{db: db, cfg: cfg}
}

func (e *Executor) timeout() time.Duration {
	d := time.Duration(e.cfg.TimeoutSeconds * float64(time.Second))
	if d <= 0 {
		d = 5 * time.Second
	}
	return d
}

// prepareSQL strips a trailing semicolon and appends the implicit row cap
// when the statement carries no LIMIT of its own.
func prepareSQL(sqlText string, maxRows int) string {
	s := strings.TrimSpace(sqlText)
	s = strings.TrimSuffix(s, ";")
	if maxRows > 0 && !strings.Contains(strings.ToLower(s), "limit") {
		s = fmt.Sprintf("%s LIMIT %d", s, maxRows)
	}
	return s
}

// Run executes one planned query and scans its rows into column→value maps.
// Column values come back as nil, int64, float64, or string.
func (e *Executor) Run(ctx context.Context, q types.PlannedQuery) (*types.ExecutedResult, error) {
	timer := logging.StartTimer(logging.CategoryExecution, "Run")
	defer timer.StopWithInfo(q.Label)
	started := time.Now()
	defer func() { metrics.QueryDuration(time.Since(started).Seconds()) }()

	sqlText := prepareSQL(q.SQL, e.cfg.MaxRows)
	logging.ExecutionDebug("Running query %q: %s", q.Label, sqlText)

	qctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	rows, err := e.db.QueryContext(qctx, sqlText)
	if err != nil {
		return nil, execError(qctx, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, execError(qctx, err)
	}

	var out []types.Row
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, execError(qctx, err)
		}
		row := make(types.Row, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, execError(qctx, err)
	}

	logging.Execution("Query %q returned %d rows", q.Label, len(out))
	return &types.ExecutedResult{Label: q.Label, SQL: q.SQL, Rows: out, Columns: cols}, nil
}

// RunPlan trims the plan to the per-request budget, then executes the
// remainder sequentially. A failing query becomes a diagnostic; it never
// aborts the queries after it.
func (e *Executor) RunPlan(ctx context.Context, plan []types.PlannedQuery) ([]types.ExecutedResult, []types.Diagnostic) {
	var diags []types.Diagnostic

	if max := e.cfg.MaxPerRequest; max > 0 && len(plan) > max {
		diags = append(diags, types.NewDiagnostic(types.DiagQueryBudgetExceeded,
			fmt.Sprintf("Planned %d queries; executing only the first %d.", len(plan), max)))
		logging.Execution("Plan trimmed from %d to %d queries", len(plan), max)
		plan = plan[:max]
	}

	results := make([]types.ExecutedResult, 0, len(plan))
	for _, q := range plan {
		res, err := e.Run(ctx, q)
		if err != nil {
			msg := err.Error()
			var execErr *types.SQLExecutionError
			if errors.As(err, &execErr) {
				msg = execErr.Message
			}
			logging.Execution("Query %q failed: %s", q.Label, msg)
			diags = append(diags, types.NewDiagnostic(types.DiagSQLExecutionError,
				fmt.Sprintf("%s: %s", q.Label, msg)))
			continue
		}
		results = append(results, *res)
	}
	return results, diags
}

// normalizeValue maps driver values onto the JSON-friendly scan set.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return v
	}
}

func execError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return &types.SQLExecutionError{Message: "Query timed out"}
	}
	return &types.SQLExecutionError{Message: err.Error()}
}
