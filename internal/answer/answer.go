// Package answer shapes executed SQL evidence into the response payload:
// ranked drivers, renderable chart series, SQL citations, and the
// model-written narrative that ties them together.
package answer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"dataghost/internal/types"
)

// fieldOrder is the scan order for a result's row maps: the recorded
// select-list order when present, else the row's keys sorted so repeated
// runs agree.
func fieldOrder(res types.ExecutedResult, row types.Row) []string {
	if len(res.Columns) > 0 {
		return res.Columns
	}
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// numericValue coerces a scanned cell to float64. Numeric strings count;
// nil and everything else do not.
func numericValue(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func firstNumericKey(res types.ExecutedResult, row types.Row) string {
	for _, key := range fieldOrder(res, row) {
		if _, ok := numericValue(row[key]); ok {
			return key
		}
	}
	return ""
}

func firstCategoricalKey(res types.ExecutedResult, row types.Row, exclude string) string {
	for _, key := range fieldOrder(res, row) {
		if key == exclude {
			continue
		}
		if _, ok := row[key].(string); ok {
			return key
		}
	}
	return ""
}

func firstKeyOf(res types.ExecutedResult, row types.Row, member map[string]bool) string {
	for _, key := range fieldOrder(res, row) {
		if _, present := row[key]; present && member[key] {
			return key
		}
	}
	return ""
}

// BuildDrivers ranks the contributors behind the observed change. The
// decomposition and contribution results are authoritative; failing those,
// the first result with rows degrades to a name/value scan. Never nil.
func BuildDrivers(executed []types.ExecutedResult) []types.Driver {
	for _, res := range executed {
		label := strings.ToLower(res.Label)
		if !strings.Contains(label, "decomposition") && !strings.Contains(label, "contribution") {
			continue
		}
		if drivers := segmentDrivers(res); len(drivers) > 0 {
			return drivers
		}
	}
	for _, res := range executed {
		if drivers := scannedDrivers(res); len(drivers) > 0 {
			return drivers
		}
	}
	return []types.Driver{}
}

func segmentDrivers(res types.ExecutedResult) []types.Driver {
	rows := res.Rows
	if len(rows) > 5 {
		rows = rows[:5]
	}
	var out []types.Driver
	for _, row := range rows {
		contribution, _ := numericValue(firstPresent(row, "contribution", "delta"))
		out = append(out, types.Driver{
			Name:         segmentName(row),
			Contribution: contribution,
			Evidence:     row,
		})
	}
	return out
}

func scannedDrivers(res types.ExecutedResult) []types.Driver {
	rows := res.Rows
	if len(rows) > 5 {
		rows = rows[:5]
	}
	if len(rows) == 0 {
		return nil
	}

	numericKey := firstNumericKey(res, rows[0])
	if numericKey == "" {
		return nil
	}
	nameKey := firstCategoricalKey(res, rows[0], numericKey)

	var out []types.Driver
	for _, row := range rows {
		name := ""
		if nameKey != "" {
			if v, ok := row[nameKey]; ok && v != nil {
				name = fmt.Sprint(v)
			}
		}
		if name == "" {
			name = fmt.Sprintf("row_%d", len(out)+1)
		}
		value, _ := numericValue(row[numericKey])
		out = append(out, types.Driver{Name: name, Contribution: value, Evidence: row})
	}
	return out
}

func segmentName(row types.Row) string {
	if v, ok := row["segment"]; ok && v != nil {
		return fmt.Sprint(v)
	}
	if v, ok := row["name"]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return "segment"
}

func firstPresent(row types.Row, keys ...string) any {
	for _, key := range keys {
		if v, ok := row[key]; ok {
			return v
		}
	}
	return nil
}

var chartYFields = map[string]bool{
	"contribution": true,
	"delta":        true,
	"y":            true,
	"metric_value": true,
	"frequency":    true,
}

var chartXFields = map[string]bool{
	"segment": true,
	"x":       true,
	"dt":      true,
	"date":    true,
	"value":   true,
}

// BuildCharts derives chart series from the executed results. Trend series
// results win and are flipped to ascending time; otherwise the first result
// with a usable x/y pairing becomes a single line chart. Never nil.
func BuildCharts(executed []types.ExecutedResult) []types.Chart {
	charts := []types.Chart{}

	for _, res := range executed {
		if res.Label != "Trend series" || len(res.Rows) == 0 {
			continue
		}
		points := make([]types.ChartPoint, 0, len(res.Rows))
		for _, row := range res.Rows {
			y, _ := numericValue(row["y"])
			points = append(points, types.ChartPoint{X: row["x"], Y: y})
		}
		// The series query returns newest first.
		for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
			points[i], points[j] = points[j], points[i]
		}
		charts = append(charts, types.Chart{
			Kind:  "line",
			Title: "Metric trend (latest 30 periods)",
			Data:  points,
		})
	}
	if len(charts) > 0 {
		return charts
	}

	for _, res := range executed {
		if len(res.Rows) == 0 {
			continue
		}
		first := res.Rows[0]
		yKey := firstKeyOf(res, first, chartYFields)
		if yKey == "" {
			yKey = firstNumericKey(res, first)
		}
		xKey := firstKeyOf(res, first, chartXFields)
		if xKey == "" && yKey != "" {
			xKey = firstCategoricalKey(res, first, yKey)
		}
		if xKey == "" || yKey == "" {
			continue
		}

		rows := res.Rows
		if len(rows) > 30 {
			rows = rows[:30]
		}
		points := make([]types.ChartPoint, 0, len(rows))
		for _, row := range rows {
			y, _ := numericValue(row[yKey])
			points = append(points, types.ChartPoint{X: row[xKey], Y: y})
		}
		charts = append(charts, types.Chart{
			Kind:  "line",
			Title: res.Label + " signal",
			Data:  points,
		})
		break
	}
	return charts
}

// SQLArtifacts cites every executed query in the answer. Never nil.
func SQLArtifacts(executed []types.ExecutedResult) []types.SQLArtifact {
	out := make([]types.SQLArtifact, 0, len(executed))
	for _, res := range executed {
		out = append(out, types.SQLArtifact{Label: res.Label, Query: res.SQL})
	}
	return out
}
