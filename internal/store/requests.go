package store

import (
	"context"
	"database/sql"
	"fmt"

	"dataghost/internal/logging"
)

// RequestLog is one row of the ask audit trail. Models is the comma-joined
// list of models the request touched; DiagnosticsJSON and ResponseJSON hold
// the serialized pipeline output for later inspection.
type RequestLog struct {
	ID               string
	ConversationID   string
	Question         string
	Models           string
	PromptTokens     int
	CompletionTokens int
	USD              float64
	Status           string
	DiagnosticsJSON  string
	ResponseJSON     string
	CreatedAt        string
}

// InsertRequestLog records a finished ask request.
func (s *Store) InsertRequestLog(ctx context.Context, r *RequestLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.CreatedAt == "" {
		r.CreatedAt = NowISO()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (id, conversation_id, question, models, prompt_tokens,
			completion_tokens, usd, status, diagnostics_json, response_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ConversationID, r.Question, r.Models, r.PromptTokens,
		r.CompletionTokens, r.USD, r.Status, r.DiagnosticsJSON, r.ResponseJSON, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to write request log: %w", err)
	}
	logging.StoreDebug("Request logged: id=%s status=%s usd=%.8f", r.ID, r.Status, r.USD)
	return nil
}

// GetRequestLog fetches one request by id, or nil when absent.
func (s *Store) GetRequestLog(ctx context.Context, id string) (*RequestLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, question, models, prompt_tokens,
			completion_tokens, usd, status, diagnostics_json, response_json, created_at
		FROM requests WHERE id = ?`, id)

	var r RequestLog
	err := row.Scan(&r.ID, &r.ConversationID, &r.Question, &r.Models, &r.PromptTokens,
		&r.CompletionTokens, &r.USD, &r.Status, &r.DiagnosticsJSON, &r.ResponseJSON, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read request log: %w", err)
	}
	return &r, nil
}

// CountRequests returns the number of logged requests.
func (s *Store) CountRequests(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count requests: %w", err)
	}
	return n, nil
}
