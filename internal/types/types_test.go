package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func sampleMeta() *DatasetMeta {
	return &DatasetMeta{
		ID:        "d1",
		TableName: "data_abc123def456",
		Columns:   []string{"order_date", "segment", "revenue", "profit", "notes"},
		Schema: map[string]ColumnType{
			"order_date": ColumnText,
			"segment":    ColumnText,
			"revenue":    ColumnReal,
			"profit":     ColumnInteger,
			"notes":      ColumnText,
		},
	}
}

func TestDatasetMetaColumnHelpers(t *testing.T) {
	meta := sampleMeta()

	numeric := meta.NumericColumns()
	if len(numeric) != 2 || numeric[0] != "revenue" || numeric[1] != "profit" {
		t.Fatalf("NumericColumns = %v, want [revenue profit]", numeric)
	}

	text := meta.TextColumns()
	if len(text) != 3 || text[0] != "order_date" {
		t.Fatalf("TextColumns = %v, want order_date first", text)
	}

	timeCols := meta.TimeLikeColumns()
	if len(timeCols) != 1 || timeCols[0] != "order_date" {
		t.Fatalf("TimeLikeColumns = %v, want [order_date]", timeCols)
	}
}

func TestIsTimeLike(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"order_date", true},
		{"event_time", true},
		{"weekday", true},
		{"fiscal_year", true},
		{"month_num", true},
		{"revenue", false},
		{"segment", false},
	}
	for _, tc := range cases {
		if got := IsTimeLike(tc.name); got != tc.want {
			t.Errorf("IsTimeLike(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCostTraceAddKeepsModelsUnique(t *testing.T) {
	var trace CostTrace
	trace.Add("mock-cheap", 10, 5, 0.001)
	trace.Add("mock-expensive", 20, 10, 0.002)
	trace.Add("mock-cheap", 5, 5, 0.0005)

	if len(trace.Models) != 2 {
		t.Fatalf("expected 2 unique models, got %v", trace.Models)
	}
	if trace.Models[0] != "mock-cheap" || trace.Models[1] != "mock-expensive" {
		t.Fatalf("insertion order lost: %v", trace.Models)
	}
	if trace.PromptTokens != 35 || trace.CompletionTokens != 20 {
		t.Fatalf("token sums wrong: %d/%d", trace.PromptTokens, trace.CompletionTokens)
	}
}

func TestCostTraceMonotonic(t *testing.T) {
	var trace CostTrace
	prev := trace.USD
	for i := 0; i < 5; i++ {
		trace.Add("m", 1, 1, 0.0001)
		if trace.USD < prev {
			t.Fatalf("usd decreased: %f -> %f", prev, trace.USD)
		}
		prev = trace.USD
	}
}

func TestCostSummaryJoinsModels(t *testing.T) {
	var trace CostTrace
	trace.Add("a", 1, 1, 0.1)
	trace.Add("b", 1, 1, 0.1)
	sum := trace.Summary()
	if sum.Model != "a,b" {
		t.Fatalf("Summary model = %q, want a,b", sum.Model)
	}
}

func TestRoundUSD(t *testing.T) {
	if got := RoundUSD(0.123456789); got != 0.12345679 {
		t.Fatalf("RoundUSD = %v", got)
	}
	if got := RoundUSD(0); got != 0 {
		t.Fatalf("RoundUSD(0) = %v", got)
	}
}

func TestRoundedTraceSerializesEmptyModels(t *testing.T) {
	var trace CostTrace
	data, err := json.Marshal(trace.Rounded())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"models":[]`) {
		t.Fatalf("expected empty models array, got %s", data)
	}
}

func TestPartialFailureSet(t *testing.T) {
	for _, code := range []DiagnosticCode{
		DiagMissingMetric, DiagMissingTimeColumn, DiagMissingDimension,
		DiagSQLExecutionError, DiagQueryBudgetExceeded, DiagEmptyResults,
	} {
		if !code.IsPartialFailure() {
			t.Errorf("%s should be partial failure", code)
		}
	}
	for _, code := range []DiagnosticCode{
		DiagDatasetNotReady, DiagNoValidSQLPlan, DiagLLMPlanEmpty,
	} {
		if code.IsPartialFailure() {
			t.Errorf("%s should not be partial failure", code)
		}
	}
}
