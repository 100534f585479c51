package store

import (
	"context"
	"fmt"

	"dataghost/internal/logging"
)

// LedgerEntry is one accounted model call. Every call that returns a
// completion gets exactly one row, including mock-provider calls.
type LedgerEntry struct {
	ID               int64
	RequestID        string
	App              string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	USD              float64
	MetadataJSON     string
	CreatedAt        string
}

// InsertCostEntry appends one row to the cost ledger.
func (s *Store) InsertCostEntry(ctx context.Context, e *LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt == "" {
		e.CreatedAt = NowISO()
	}
	if e.MetadataJSON == "" {
		e.MetadataJSON = "{}"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_ledger (request_id, app, provider, model, prompt_tokens,
			completion_tokens, usd, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.App, e.Provider, e.Model, e.PromptTokens,
		e.CompletionTokens, e.USD, e.MetadataJSON, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to write cost ledger: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	logging.StoreDebug("Ledger entry: request=%s model=%s usd=%.8f", e.RequestID, e.Model, e.USD)
	return nil
}

// RequestSpendUSD sums the ledger for one request.
func (s *Store) RequestSpendUSD(ctx context.Context, requestID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var usd float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(usd), 0) FROM cost_ledger WHERE request_id = ?`, requestID).Scan(&usd)
	if err != nil {
		return 0, fmt.Errorf("failed to sum request spend: %w", err)
	}
	return usd, nil
}

// GlobalSpendUSDSince sums all ledger rows at or after the given TimeLayout
// timestamp. Timestamps are fixed width so the string comparison is a
// chronological one.
func (s *Store) GlobalSpendUSDSince(ctx context.Context, sinceISO string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var usd float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(usd), 0) FROM cost_ledger WHERE created_at >= ?`, sinceISO).Scan(&usd)
	if err != nil {
		return 0, fmt.Errorf("failed to sum global spend: %w", err)
	}
	return usd, nil
}

// LedgerCount returns the total number of ledger rows.
func (s *Store) LedgerCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cost_ledger`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count ledger rows: %w", err)
	}
	return n, nil
}

// LedgerEntriesForRequest returns the ledger rows for one request in
// insertion order.
func (s *Store) LedgerEntriesForRequest(ctx context.Context, requestID string) ([]LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, app, provider, model, prompt_tokens,
			completion_tokens, usd, metadata_json, created_at
		FROM cost_ledger WHERE request_id = ? ORDER BY id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger rows: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.App, &e.Provider, &e.Model,
			&e.PromptTokens, &e.CompletionTokens, &e.USD, &e.MetadataJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
