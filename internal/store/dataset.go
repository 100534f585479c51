package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"dataghost/internal/logging"
	"dataghost/internal/types"
)

// GetDatasetMeta returns the active dataset's metadata, or nil when no
// dataset has been uploaded yet.
func (s *Store) GetDatasetMeta(ctx context.Context) (*types.DatasetMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, table_name, row_count, columns_json, schema_json, created_at
		FROM dataset_meta LIMIT 1`)

	var meta types.DatasetMeta
	var columnsJSON, schemaJSON, createdAt string
	err := row.Scan(&meta.ID, &meta.Name, &meta.TableName, &meta.RowCount,
		&columnsJSON, &schemaJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset meta: %w", err)
	}
	if err := json.Unmarshal([]byte(columnsJSON), &meta.Columns); err != nil {
		return nil, fmt.Errorf("corrupt columns_json for dataset %s: %w", meta.ID, err)
	}
	if err := json.Unmarshal([]byte(schemaJSON), &meta.Schema); err != nil {
		return nil, fmt.Errorf("corrupt schema_json for dataset %s: %w", meta.ID, err)
	}
	meta.CreatedAt = ParseTime(createdAt)
	return &meta, nil
}

// ReplaceDataset swaps the active dataset in one transaction: the previous
// physical table is dropped, the meta row is replaced, and fill creates and
// populates the new physical table. Either everything lands or the previous
// dataset stays fully intact.
func (s *Store) ReplaceDataset(ctx context.Context, meta *types.DatasetMeta, fill func(tx *sql.Tx) error) error {
	timer := logging.StartTimer(logging.CategoryStore, "ReplaceDataset")
	defer timer.StopWithInfo(fmt.Sprintf("dataset=%s rows=%d", meta.ID, meta.RowCount))

	s.mu.Lock()
	defer s.mu.Unlock()

	columnsJSON, err := json.Marshal(meta.Columns)
	if err != nil {
		return fmt.Errorf("failed to encode columns: %w", err)
	}
	schemaJSON, err := json.Marshal(meta.Schema)
	if err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin dataset replace: %w", err)
	}
	defer rollback(tx)

	var oldTable string
	err = tx.QueryRowContext(ctx, `SELECT table_name FROM dataset_meta LIMIT 1`).Scan(&oldTable)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read previous dataset: %w", err)
	}
	if oldTable != "" && oldTable != meta.TableName {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(oldTable)); err != nil {
			return fmt.Errorf("failed to drop previous dataset table: %w", err)
		}
		logging.StoreDebug("Dropped previous dataset table %s", oldTable)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM dataset_meta`); err != nil {
		return fmt.Errorf("failed to clear dataset meta: %w", err)
	}

	if err := fill(tx); err != nil {
		return fmt.Errorf("failed to load dataset rows: %w", err)
	}

	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO dataset_meta (id, name, table_name, row_count, columns_json, schema_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		meta.ID, meta.Name, meta.TableName, meta.RowCount,
		string(columnsJSON), string(schemaJSON), FormatTime(meta.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to write dataset meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dataset replace: %w", err)
	}
	logging.Store("Dataset replaced: id=%s table=%s rows=%d cols=%d",
		meta.ID, meta.TableName, meta.RowCount, len(meta.Columns))
	return nil
}
