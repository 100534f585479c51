package planner

import (
	"fmt"
	"strings"

	"dataghost/internal/logging"
	"dataghost/internal/types"
)

// PatternPlan is the output of one pattern builder: zero or more queries
// plus the diagnostics explaining anything it could not build.
type PatternPlan struct {
	Name        string
	Queries     []types.PlannedQuery
	Diagnostics []types.Diagnostic
}

type patternBuilder func(meta *types.DatasetMeta, intent *types.Intent) PatternPlan

func (p *PatternPlan) addQuery(label, sql string) {
	p.Queries = append(p.Queries, types.PlannedQuery{Label: label, SQL: sql, Pattern: p.Name})
}

func (p *PatternPlan) addDiagnostic(code types.DiagnosticCode, message string) {
	p.Diagnostics = append(p.Diagnostics, types.NewDiagnostic(code, message))
}

// Substitution order for the window templates:
// %[1]s table, %[2]s time column, %[3]s dimension, %[4]s metric, %[5]d top n.
const decompositionTemplate = `WITH max_date AS (
  SELECT MAX(DATE("%[2]s")) AS max_dt FROM "%[1]s"
),
windowed AS (
  SELECT
    COALESCE(CAST("%[3]s" AS TEXT), '(unknown)') AS segment,
    CASE
      WHEN DATE("%[2]s") > DATE((SELECT max_dt FROM max_date), '-6 day') THEN 'current'
      WHEN DATE("%[2]s") > DATE((SELECT max_dt FROM max_date), '-13 day') THEN 'prior'
      ELSE NULL
    END AS period,
    SUM(CAST("%[4]s" AS REAL)) AS metric_sum
  FROM "%[1]s"
  WHERE DATE("%[2]s") > DATE((SELECT max_dt FROM max_date), '-13 day')
  GROUP BY segment, period
),
pivoted AS (
  SELECT
    segment,
    SUM(CASE WHEN period = 'current' THEN metric_sum ELSE 0 END) AS current_value,
    SUM(CASE WHEN period = 'prior' THEN metric_sum ELSE 0 END) AS prior_value
  FROM windowed
  GROUP BY segment
)
SELECT
  segment,
  current_value,
  prior_value,
  (current_value - prior_value) AS contribution
FROM pivoted
ORDER BY ABS(contribution) DESC
LIMIT %[5]d`

const contributionTemplate = `WITH max_date AS (
  SELECT MAX(DATE("%[2]s")) AS max_dt FROM "%[1]s"
),
windowed AS (
  SELECT
    COALESCE(CAST("%[3]s" AS TEXT), '(unknown)') AS segment,
    CASE
      WHEN DATE("%[2]s") > DATE((SELECT max_dt FROM max_date), '-6 day') THEN 'current'
      WHEN DATE("%[2]s") > DATE((SELECT max_dt FROM max_date), '-13 day') THEN 'prior'
      ELSE NULL
    END AS period,
    SUM(CAST("%[4]s" AS REAL)) AS metric_sum
  FROM "%[1]s"
  WHERE DATE("%[2]s") > DATE((SELECT max_dt FROM max_date), '-13 day')
  GROUP BY segment, period
),
seg AS (
  SELECT
    segment,
    SUM(CASE WHEN period = 'current' THEN metric_sum ELSE 0 END) AS current_value,
    SUM(CASE WHEN period = 'prior' THEN metric_sum ELSE 0 END) AS prior_value,
    SUM(CASE WHEN period = 'current' THEN metric_sum ELSE 0 END) - SUM(CASE WHEN period = 'prior' THEN metric_sum ELSE 0 END) AS delta
  FROM windowed
  GROUP BY segment
),
tot AS (
  SELECT SUM(delta) AS total_delta FROM seg
)
SELECT
  seg.segment,
  seg.delta,
  CASE
    WHEN tot.total_delta = 0 OR tot.total_delta IS NULL THEN 0
    ELSE seg.delta / tot.total_delta
  END AS contribution_share
FROM seg, tot
ORDER BY ABS(seg.delta) DESC
LIMIT %[5]d`

// %[1]s table, %[2]s time column, %[3]s metric.
const anomalyTemplate = `WITH daily AS (
  SELECT DATE("%[2]s") AS dt, SUM(CAST("%[3]s" AS REAL)) AS metric_value
  FROM "%[1]s"
  GROUP BY dt
  ORDER BY dt
),
deltas AS (
  SELECT dt, metric_value - LAG(metric_value) OVER (ORDER BY dt) AS delta
  FROM daily
),
stats AS (
  SELECT AVG(ABS(delta)) AS avg_abs_delta
  FROM deltas
  WHERE delta IS NOT NULL AND dt < (SELECT MAX(dt) FROM deltas)
),
latest AS (
  SELECT dt, delta
  FROM deltas
  WHERE dt = (SELECT MAX(dt) FROM deltas)
)
SELECT
  latest.dt,
  latest.delta AS latest_delta,
  stats.avg_abs_delta,
  CASE
    WHEN stats.avg_abs_delta IS NULL OR stats.avg_abs_delta = 0 THEN 'insufficient'
    WHEN ABS(latest.delta) >= 2 * stats.avg_abs_delta THEN 'likely_anomaly'
    ELSE 'likely_noise'
  END AS signal
FROM latest, stats`

const trendSignalTemplate = `WITH daily AS (
  SELECT DATE("%[2]s") AS dt, SUM(CAST("%[3]s" AS REAL)) AS metric_value
  FROM "%[1]s"
  GROUP BY dt
),
ranked AS (
  SELECT dt, metric_value, ROW_NUMBER() OVER (ORDER BY dt DESC) AS rn
  FROM daily
),
recent AS (
  SELECT metric_value FROM ranked WHERE rn <= 7
),
baseline AS (
  SELECT metric_value FROM ranked WHERE rn > 7 AND rn <= 28
)
SELECT
  (SELECT AVG(metric_value) FROM recent) AS recent_avg,
  (SELECT AVG(metric_value) FROM baseline) AS baseline_avg,
  (SELECT AVG(metric_value) FROM recent) - (SELECT AVG(metric_value) FROM baseline) AS avg_delta,
  CASE
    WHEN (SELECT AVG(metric_value) FROM baseline) IS NULL THEN 'insufficient'
    WHEN ABS((SELECT AVG(metric_value) FROM recent) - (SELECT AVG(metric_value) FROM baseline)) >= 0.15 * ABS((SELECT AVG(metric_value) FROM baseline)) THEN 'trend_break'
    ELSE 'stable'
  END AS trend_signal`

const trendSeriesTemplate = `SELECT
  DATE("%[2]s") AS x,
  SUM(CAST("%[3]s" AS REAL)) AS y
FROM "%[1]s"
GROUP BY x
ORDER BY x DESC
LIMIT 30`

// buildMetricChangeDecomposition splits the latest 7-day window against the
// prior 7 days by the first dimension and ranks segments by the absolute
// change they contribute.
func buildMetricChangeDecomposition(meta *types.DatasetMeta, intent *types.Intent) PatternPlan {
	plan := PatternPlan{Name: "metric_change_decomposition"}

	metric := PickMetricColumn(meta, intent.Metric)
	timeCol := PickTimeColumn(meta, intent.TimeColumn)
	dims := PickDimensionColumns(meta, timeCol)
	if metric == "" {
		plan.addDiagnostic(types.DiagMissingMetric, "No numeric metric column found")
		return plan
	}
	if timeCol == "" {
		plan.addDiagnostic(types.DiagMissingTimeColumn, "No time-like column found")
		return plan
	}
	if len(dims) == 0 {
		plan.addDiagnostic(types.DiagMissingDimension, "No segment dimension available")
		return plan
	}

	sql := fmt.Sprintf(decompositionTemplate, meta.TableName, timeCol, dims[0], metric, InferTopN(intent))
	plan.addQuery("Metric change decomposition", sql)
	return plan
}

// buildSegmentContribution ranks segments by their share of the total
// window-over-window delta.
func buildSegmentContribution(meta *types.DatasetMeta, intent *types.Intent) PatternPlan {
	plan := PatternPlan{Name: "segment_contribution"}

	metric := PickMetricColumn(meta, intent.Metric)
	timeCol := PickTimeColumn(meta, intent.TimeColumn)
	dims := PickDimensionColumns(meta, timeCol)
	if metric == "" {
		plan.addDiagnostic(types.DiagMissingMetric, "No numeric metric column found")
		return plan
	}
	if timeCol == "" {
		plan.addDiagnostic(types.DiagMissingTimeColumn, "No time-like column found")
		return plan
	}
	if len(dims) == 0 {
		plan.addDiagnostic(types.DiagMissingDimension, "No segment dimension available")
		return plan
	}

	sql := fmt.Sprintf(contributionTemplate, meta.TableName, timeCol, dims[0], metric, InferTopN(intent))
	plan.addQuery("Segment contribution analysis", sql)
	return plan
}

// buildAnomalyNoiseCheck compares the latest daily delta against the average
// absolute delta of the preceding days. A latest move at least twice the
// typical one is flagged as a likely anomaly.
func buildAnomalyNoiseCheck(meta *types.DatasetMeta, intent *types.Intent) PatternPlan {
	plan := PatternPlan{Name: "anomaly_noise_check"}

	metric := PickMetricColumn(meta, intent.Metric)
	timeCol := PickTimeColumn(meta, intent.TimeColumn)
	if metric == "" {
		plan.addDiagnostic(types.DiagMissingMetric, "No numeric metric column found")
		return plan
	}
	if timeCol == "" {
		plan.addDiagnostic(types.DiagMissingTimeColumn, "No time-like column found")
		return plan
	}

	plan.addQuery("Anomaly vs noise", fmt.Sprintf(anomalyTemplate, meta.TableName, timeCol, metric))
	return plan
}

// buildTrendBreakDetection compares the 7-day recent average against the
// 21-day baseline before it; a 15% move either way is a trend break. The
// companion series query feeds the trend chart.
func buildTrendBreakDetection(meta *types.DatasetMeta, intent *types.Intent) PatternPlan {
	plan := PatternPlan{Name: "trend_break_detection"}

	metric := PickMetricColumn(meta, intent.Metric)
	timeCol := PickTimeColumn(meta, intent.TimeColumn)
	if metric == "" {
		plan.addDiagnostic(types.DiagMissingMetric, "No numeric metric column found")
		return plan
	}
	if timeCol == "" {
		plan.addDiagnostic(types.DiagMissingTimeColumn, "No time-like column found")
		return plan
	}

	plan.addQuery("Trend break detection", fmt.Sprintf(trendSignalTemplate, meta.TableName, timeCol, metric))
	plan.addQuery("Trend series", fmt.Sprintf(trendSeriesTemplate, meta.TableName, timeCol, metric))
	return plan
}

// buildDataQualityChecks emits per-column missingness counts, a duplicate
// scan over the first two columns, and time coverage when a time column
// exists.
func buildDataQualityChecks(meta *types.DatasetMeta, intent *types.Intent) PatternPlan {
	plan := PatternPlan{Name: "data_quality_checks"}

	if len(meta.Columns) == 0 {
		plan.addDiagnostic(types.DiagEmptySchema, "No columns available for quality checks")
		return plan
	}

	terms := make([]string, 0, len(meta.Columns))
	for _, col := range meta.Columns {
		if meta.Schema[col] == types.ColumnText {
			terms = append(terms, fmt.Sprintf(
				`SUM(CASE WHEN "%[1]s" IS NULL OR TRIM("%[1]s") = '' THEN 1 ELSE 0 END) AS missing_%[1]s`, col))
		} else {
			terms = append(terms, fmt.Sprintf(
				`SUM(CASE WHEN "%[1]s" IS NULL THEN 1 ELSE 0 END) AS missing_%[1]s`, col))
		}
	}
	summary := fmt.Sprintf("SELECT\n  COUNT(*) AS total_rows,\n  %s\nFROM \"%s\"",
		strings.Join(terms, ", "), meta.TableName)
	plan.addQuery("Data quality missingness", summary)

	if len(meta.Columns) >= 2 {
		duplicate := fmt.Sprintf(`SELECT
  "%[2]s" AS key_1,
  "%[3]s" AS key_2,
  COUNT(*) AS duplicate_count
FROM "%[1]s"
GROUP BY "%[2]s", "%[3]s"
HAVING COUNT(*) > 1
ORDER BY duplicate_count DESC
LIMIT 20`, meta.TableName, meta.Columns[0], meta.Columns[1])
		plan.addQuery("Data quality duplicate keys", duplicate)
	}

	if timeCol := PickTimeColumn(meta, ""); timeCol != "" {
		coverage := fmt.Sprintf(`SELECT
  MIN(DATE("%[2]s")) AS min_date,
  MAX(DATE("%[2]s")) AS max_date,
  COUNT(DISTINCT DATE("%[2]s")) AS distinct_days
FROM "%[1]s"`, meta.TableName, timeCol)
		plan.addQuery("Data quality time coverage", coverage)
	}

	return plan
}

// qualityMarkers route a question to the quality checks alone.
var qualityMarkers = []string{"quality", "missing", "duplicate"}

// PatternAnalyses runs the pattern library against the dataset. Most
// questions get every builder; questions about data quality get only the
// quality checks. Returns the planned queries, the builders' diagnostics,
// and the pattern names consulted.
func PatternAnalyses(meta *types.DatasetMeta, intent *types.Intent) ([]types.PlannedQuery, []types.Diagnostic, []string) {
	builders := []patternBuilder{
		buildMetricChangeDecomposition,
		buildSegmentContribution,
		buildAnomalyNoiseCheck,
		buildTrendBreakDetection,
		buildDataQualityChecks,
	}

	lowered := strings.ToLower(intent.RawQuestion)
	for _, marker := range qualityMarkers {
		if strings.Contains(lowered, marker) {
			builders = []patternBuilder{buildDataQualityChecks}
			break
		}
	}

	var (
		queries  []types.PlannedQuery
		diags    []types.Diagnostic
		selected []string
	)
	for _, build := range builders {
		plan := build(meta, intent)
		selected = append(selected, plan.Name)
		diags = append(diags, plan.Diagnostics...)
		queries = append(queries, plan.Queries...)
	}
	logging.PlannerDebug("Pattern library produced %d queries from %v", len(queries), selected)
	return queries, diags, selected
}
