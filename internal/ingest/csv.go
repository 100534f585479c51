// Package ingest loads uploaded material into the store: CSV files become
// the active dataset's physical table, context documents become embedded
// chunks for retrieval.
package ingest

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"dataghost/internal/identifier"
	"dataghost/internal/logging"
	"dataghost/internal/store"
	"dataghost/internal/types"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Ingestor writes uploads into the store.
type Ingestor struct {
	store     *store.Store
	engine    Embedder
	chunkSize int
	overlap   int
}

// Embedder is the slice of the embedding engine document ingestion needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// New builds an ingestor. chunkSize and overlap follow the RAG config;
// overlap is clamped below chunkSize so chunking always advances.
func New(s *store.Store, engine Embedder, chunkSize, overlap int) *Ingestor {
	if chunkSize <= 0 {
		chunkSize = 800
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}
	return &Ingestor{store: s, engine: engine, chunkSize: chunkSize, overlap: overlap}
}

// IngestCSV parses the upload, infers a column schema, and atomically
// replaces the active dataset. Header names are slugified and deduplicated;
// blank cells become NULLs.
func (in *Ingestor) IngestCSV(ctx context.Context, filename string, data []byte) (*types.DatasetMeta, error) {
	timer := logging.StartTimer(logging.CategoryIngest, "IngestCSV")
	defer timer.StopWithInfo(filename)

	data = bytes.TrimPrefix(data, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("CSV file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV header: %w", err)
	}
	columns := identifier.DedupeColumns(header)
	if len(columns) == 0 {
		return nil, fmt.Errorf("CSV file has no columns")
	}

	var records [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse CSV row %d: %w", len(records)+2, err)
		}
		records = append(records, padRecord(rec, len(columns)))
	}

	schema := inferSchema(columns, records)

	datasetID := uuid.NewString()
	tableName := "data_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	meta := &types.DatasetMeta{
		ID:        datasetID,
		Name:      filename,
		TableName: tableName,
		RowCount:  len(records),
		Columns:   columns,
		Schema:    schema,
	}

	err = in.store.ReplaceDataset(ctx, meta, func(tx *sql.Tx) error {
		return fillDatasetTable(tx, tableName, columns, schema, records)
	})
	if err != nil {
		return nil, err
	}

	logging.Ingest("Dataset ingested: file=%s table=%s rows=%d cols=%d",
		filename, tableName, len(records), len(columns))
	return meta, nil
}

func padRecord(rec []string, width int) []string {
	if len(rec) == width {
		return rec
	}
	out := make([]string, width)
	copy(out, rec)
	return out
}

// inferSchema picks the narrowest SQLite affinity that fits every non-blank
// value in a column. All-blank columns stay TEXT.
func inferSchema(columns []string, records [][]string) map[string]types.ColumnType {
	schema := make(map[string]types.ColumnType, len(columns))
	for i, col := range columns {
		allInt := true
		allReal := true
		seen := false
		for _, rec := range records {
			cell := strings.TrimSpace(rec[i])
			if cell == "" {
				continue
			}
			seen = true
			if allInt {
				if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
					allInt = false
				}
			}
			if allReal {
				if _, err := strconv.ParseFloat(cell, 64); err != nil {
					allReal = false
				}
			}
			if !allInt && !allReal {
				break
			}
		}
		switch {
		case seen && allInt:
			schema[col] = types.ColumnInteger
		case seen && allReal:
			schema[col] = types.ColumnReal
		default:
			schema[col] = types.ColumnText
		}
	}
	return schema
}

func fillDatasetTable(tx *sql.Tx, tableName string, columns []string, schema map[string]types.ColumnType, records [][]string) error {
	defs := make([]string, len(columns))
	quoted := make([]string, len(columns))
	holes := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = store.QuoteIdent(col)
		defs[i] = quoted[i] + " " + string(schema[col])
		holes[i] = "?"
	}

	createSQL := fmt.Sprintf("CREATE TABLE %s (%s)",
		store.QuoteIdent(tableName), strings.Join(defs, ", "))
	if _, err := tx.Exec(createSQL); err != nil {
		return fmt.Errorf("failed to create dataset table: %w", err)
	}

	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		store.QuoteIdent(tableName), strings.Join(quoted, ", "), strings.Join(holes, ", "))
	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare dataset insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(columns))
	for rowIdx, rec := range records {
		for i, col := range columns {
			args[i] = coerceCell(rec[i], schema[col])
		}
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("failed to insert dataset row %d: %w", rowIdx+1, err)
		}
	}
	return nil
}

// coerceCell converts one CSV cell to its storage value. Blank cells are
// NULL regardless of column type.
func coerceCell(cell string, colType types.ColumnType) any {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" {
		return nil
	}
	switch colType {
	case types.ColumnInteger:
		if v, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return v
		}
	case types.ColumnReal:
		if v, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return v
		}
	}
	return cell
}
