package execution

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"dataghost/internal/config"
	"dataghost/internal/store"
	"dataghost/internal/types"
)

func newTestWorkspace(t *testing.T) *sql.DB {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "exec.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	meta := &types.DatasetMeta{
		ID: "ds-1", Name: "sales.csv", TableName: "data_exec", RowCount: 3,
		Columns: []string{"dt", "region", "revenue", "note"},
		Schema: map[string]types.ColumnType{
			"dt": types.ColumnText, "region": types.ColumnText,
			"revenue": types.ColumnReal, "note": types.ColumnText,
		},
	}
	err = s.ReplaceDataset(context.Background(), meta, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`CREATE TABLE "data_exec" ("dt" TEXT, "region" TEXT, "revenue" REAL, "note" TEXT)`); err != nil {
			return err
		}
		rows := [][]any{
			{"2026-08-01", "north", 120.5, nil},
			{"2026-08-02", "south", 80.0, "promo"},
			{"2026-08-03", "north", 99.9, nil},
		}
		for _, r := range rows {
			if _, err := tx.Exec(`INSERT INTO "data_exec" VALUES (?, ?, ?, ?)`, r...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ReplaceDataset: %v", err)
	}
	return s.Workspace()
}

func testConfig() config.QueryConfig {
	return config.QueryConfig{TimeoutSeconds: 5, MaxRows: 5000, MaxPerRequest: 10}
}

func TestPrepareSQL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"appends_limit", `SELECT * FROM t`, 100, `SELECT * FROM t LIMIT 100`},
		{"keeps_existing_limit", `SELECT * FROM t LIMIT 5`, 100, `SELECT * FROM t LIMIT 5`},
		{"lowercase_limit", `select * from t limit 5`, 100, `select * from t limit 5`},
		{"strips_semicolon", `SELECT 1;`, 100, `SELECT 1 LIMIT 100`},
		{"no_cap", `SELECT 1`, 0, `SELECT 1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := prepareSQL(tt.in, tt.max); got != tt.want {
				t.Errorf("prepareSQL(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestRunScansValueTypes(t *testing.T) {
	ws := newTestWorkspace(t)
	e := New(ws, testConfig())

	res, err := e.Run(context.Background(), types.PlannedQuery{
		Label: "typed row",
		SQL:   `SELECT "dt", "revenue", "note", COUNT(*) AS n FROM "data_exec" GROUP BY "dt", "revenue", "note" ORDER BY "dt" LIMIT 1`,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(res.Rows))
	}
	row := res.Rows[0]
	if _, ok := row["dt"].(string); !ok {
		t.Errorf("dt should scan as string, got %T", row["dt"])
	}
	if _, ok := row["revenue"].(float64); !ok {
		t.Errorf("revenue should scan as float64, got %T", row["revenue"])
	}
	if row["note"] != nil {
		t.Errorf("note should scan as nil, got %v (%T)", row["note"], row["note"])
	}
	if _, ok := row["n"].(int64); !ok {
		t.Errorf("count should scan as int64, got %T", row["n"])
	}
}

func TestRunAppliesImplicitRowCap(t *testing.T) {
	ws := newTestWorkspace(t)
	cfg := testConfig()
	cfg.MaxRows = 2
	e := New(ws, cfg)

	res, err := e.Run(context.Background(), types.PlannedQuery{
		Label: "capped", SQL: `SELECT "region" FROM "data_exec" ORDER BY "dt"`,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Errorf("implicit cap not applied: got %d rows, want 2", len(res.Rows))
	}

	cfg.MaxRows = 1
	e = New(ws, cfg)
	res, err = e.Run(context.Background(), types.PlannedQuery{
		Label: "explicit", SQL: `SELECT "region" FROM "data_exec" ORDER BY "dt" LIMIT 3`,
	})
	if err != nil {
		t.Fatalf("Run explicit: %v", err)
	}
	if len(res.Rows) != 3 {
		t.Errorf("explicit LIMIT overridden: got %d rows, want 3", len(res.Rows))
	}
}

func TestRunWrapsEngineErrors(t *testing.T) {
	ws := newTestWorkspace(t)
	e := New(ws, testConfig())

	_, err := e.Run(context.Background(), types.PlannedQuery{
		Label: "broken", SQL: `SELECT "missing_column" FROM "data_exec"`,
	})
	if err == nil {
		t.Fatal("expected error for missing column")
	}
	var execErr *types.SQLExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error should be SQLExecutionError, got %T", err)
	}
	if execErr.Message == "" {
		t.Error("engine message lost in wrap")
	}
}

func TestRunReportsTimeout(t *testing.T) {
	ws := newTestWorkspace(t)
	cfg := testConfig()
	cfg.TimeoutSeconds = 0.0000001
	e := New(ws, cfg)

	_, err := e.Run(context.Background(), types.PlannedQuery{
		Label: "slow", SQL: `SELECT COUNT(*) FROM "data_exec"`,
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var execErr *types.SQLExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error should be SQLExecutionError, got %T", err)
	}
	if execErr.Message != "Query timed out" {
		t.Errorf("timeout message = %q", execErr.Message)
	}
}

func TestRunPlanCollectsPerQueryErrors(t *testing.T) {
	ws := newTestWorkspace(t)
	e := New(ws, testConfig())

	plan := []types.PlannedQuery{
		{Label: "ok one", SQL: `SELECT COUNT(*) AS n FROM "data_exec"`},
		{Label: "broken", SQL: `SELECT nope FROM "data_exec"`},
		{Label: "ok two", SQL: `SELECT "region" FROM "data_exec" LIMIT 1`},
	}
	results, diags := e.RunPlan(context.Background(), plan)
	if len(results) != 2 {
		t.Errorf("results = %d, want 2 (failure must not abort the plan)", len(results))
	}
	if len(diags) != 1 {
		t.Fatalf("diags = %d, want 1", len(diags))
	}
	if diags[0].Code != types.DiagSQLExecutionError {
		t.Errorf("diag code = %s", diags[0].Code)
	}
	if !strings.HasPrefix(diags[0].Message, "broken: ") {
		t.Errorf("diag should carry the query label: %q", diags[0].Message)
	}
}

func TestRunPlanEnforcesBudget(t *testing.T) {
	ws := newTestWorkspace(t)
	cfg := testConfig()
	cfg.MaxPerRequest = 2
	e := New(ws, cfg)

	plan := []types.PlannedQuery{
		{Label: "one", SQL: `SELECT 1 AS v`},
		{Label: "two", SQL: `SELECT 2 AS v`},
		{Label: "three", SQL: `SELECT 3 AS v`},
	}
	results, diags := e.RunPlan(context.Background(), plan)
	if len(results) != 2 {
		t.Errorf("results = %d, want 2", len(results))
	}
	if len(diags) != 1 || diags[0].Code != types.DiagQueryBudgetExceeded {
		t.Fatalf("expected a single budget diagnostic, got %+v", diags)
	}
	if results[0].Rows[0]["v"].(int64) != 1 || results[1].Rows[0]["v"].(int64) != 2 {
		t.Error("trim should keep plan order")
	}
}
