// Package types holds the shared data model for the ask pipeline: dataset
// metadata, SQL rows, planned and executed queries, diagnostics, confidence,
// cost accounting, and the request/response shapes exchanged with callers.
// Leaf packages depend on this package instead of on each other.
package types

import (
	"strings"
	"time"
)

// ColumnType is the inferred storage affinity of a dataset column.
type ColumnType string

const (
	ColumnInteger ColumnType = "INTEGER"
	ColumnReal    ColumnType = "REAL"
	ColumnText    ColumnType = "TEXT"
)

// timeTokens are the name fragments that mark a column as time-like.
var timeTokens = []string{"date", "time", "day", "week", "month", "year"}

// DatasetMeta describes the single active dataset. Columns preserves the
// ingestion order of the CSV header; Schema maps each column to its inferred
// affinity. The physical table named TableName holds exactly these columns.
type DatasetMeta struct {
	ID        string                `json:"dataset_id"`
	Name      string                `json:"name"`
	TableName string                `json:"table_name"`
	RowCount  int                   `json:"row_count"`
	Columns   []string              `json:"columns"`
	Schema    map[string]ColumnType `json:"schema"`
	CreatedAt time.Time             `json:"created_at"`
}

// NumericColumns returns the INTEGER and REAL columns in ingestion order.
func (m *DatasetMeta) NumericColumns() []string {
	var out []string
	for _, col := range m.Columns {
		switch m.Schema[col] {
		case ColumnInteger, ColumnReal:
			out = append(out, col)
		}
	}
	return out
}

// TextColumns returns the TEXT columns in ingestion order.
func (m *DatasetMeta) TextColumns() []string {
	var out []string
	for _, col := range m.Columns {
		if m.Schema[col] == ColumnText {
			out = append(out, col)
		}
	}
	return out
}

// TimeLikeColumns returns columns whose name contains a time token
// (date, time, day, week, month, year), in ingestion order.
func (m *DatasetMeta) TimeLikeColumns() []string {
	var out []string
	for _, col := range m.Columns {
		if IsTimeLike(col) {
			out = append(out, col)
		}
	}
	return out
}

// IsTimeLike reports whether a column name looks like a time column.
func IsTimeLike(name string) bool {
	lower := strings.ToLower(name)
	for _, tok := range timeTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// HasColumn reports whether the dataset contains the named column.
func (m *DatasetMeta) HasColumn(name string) bool {
	_, ok := m.Schema[name]
	return ok
}

// Row is a single SQL result row. Values are nil, int64, float64, or string
// as scanned from the driver.
type Row = map[string]any

// PlannedQuery is one validated analysis query. Immutable after planning.
type PlannedQuery struct {
	Label   string `json:"description"`
	SQL     string `json:"sql"`
	Pattern string `json:"name"`
}

// ExecutedResult is the outcome of running one planned query. Columns keeps
// the select-list order so field scans over the row maps stay deterministic;
// it is not part of the wire shape.
type ExecutedResult struct {
	Label   string   `json:"label"`
	SQL     string   `json:"sql"`
	Rows    []Row    `json:"rows"`
	Columns []string `json:"-"`
}

// HasRows reports whether the result produced at least one row.
func (r *ExecutedResult) HasRows() bool { return len(r.Rows) > 0 }

// DocMeta describes one ingested context document.
type DocMeta struct {
	ID         string    `json:"doc_id"`
	Filename   string    `json:"filename"`
	Bytes      int       `json:"bytes"`
	ChunkCount int       `json:"chunks"`
	CreatedAt  time.Time `json:"created_at"`
}

// ContextChunk is one embedded slice of a context document, joined with its
// document's filename for citation rendering. Embedding has dimension 128 and
// is L2-normalized unless it is the zero vector.
type ContextChunk struct {
	ChunkID    string    `json:"chunk_id"`
	DocID      string    `json:"doc_id"`
	Filename   string    `json:"filename"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
}

// Citation is a retrieved context chunk scored against the question.
type Citation struct {
	DocID    string  `json:"doc_id"`
	Filename string  `json:"filename"`
	ChunkID  string  `json:"chunk_id"`
	Score    float64 `json:"score"`
	Snippet  string  `json:"snippet"`
}
