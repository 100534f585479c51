package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dataghost/internal/logging"
	"dataghost/internal/types"
)

// SaveDocument stores a context document and its chunks, replacing any
// previous upload with the same filename. Chunk deletion rides on the
// docs_meta cascade.
func (s *Store) SaveDocument(ctx context.Context, doc *types.DocMeta, chunks []types.ContextChunk) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveDocument")
	defer timer.StopWithInfo(fmt.Sprintf("file=%s chunks=%d", doc.Filename, len(chunks)))

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin document save: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx, `DELETE FROM docs_meta WHERE filename = ?`, doc.Filename); err != nil {
		return fmt.Errorf("failed to replace previous document: %w", err)
	}

	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	createdAt := FormatTime(doc.CreatedAt)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO docs_meta (id, filename, bytes, chunk_count, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.Bytes, len(chunks), createdAt)
	if err != nil {
		return fmt.Errorf("failed to write document meta: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vector_chunks (id, doc_id, chunk_index, content, embedding_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, ch := range chunks {
		embJSON, err := json.Marshal(ch.Embedding)
		if err != nil {
			return fmt.Errorf("failed to encode embedding for chunk %s: %w", ch.ChunkID, err)
		}
		if _, err := stmt.ExecContext(ctx, ch.ChunkID, doc.ID, ch.ChunkIndex, ch.Content, string(embJSON), createdAt); err != nil {
			return fmt.Errorf("failed to write chunk %s: %w", ch.ChunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document save: %w", err)
	}
	doc.ChunkCount = len(chunks)
	logging.Store("Document saved: file=%s chunks=%d", doc.Filename, len(chunks))
	return nil
}

// DeleteDocumentByFilename removes a document and its chunks. Returns false
// when no document with that filename exists.
func (s *Store) DeleteDocumentByFilename(ctx context.Context, filename string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM docs_meta WHERE filename = ?`, filename)
	if err != nil {
		return false, fmt.Errorf("failed to delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	if n > 0 {
		logging.Store("Document deleted: file=%s", filename)
	}
	return n > 0, nil
}

// ListDocuments returns all stored context documents in insertion order.
func (s *Store) ListDocuments(ctx context.Context) ([]types.DocMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, bytes, chunk_count, created_at
		FROM docs_meta ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []types.DocMeta
	for rows.Next() {
		var d types.DocMeta
		var createdAt string
		if err := rows.Scan(&d.ID, &d.Filename, &d.Bytes, &d.ChunkCount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		d.CreatedAt = ParseTime(createdAt)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// ListVectorChunks returns every stored chunk with its parent filename, in
// insertion order. The retriever scores the full set in memory; corpus sizes
// here are small enough that a scan beats maintaining an index.
func (s *Store) ListVectorChunks(ctx context.Context) ([]types.ContextChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.doc_id, d.filename, c.chunk_index, c.content, c.embedding_json
		FROM vector_chunks c
		JOIN docs_meta d ON d.id = c.doc_id
		ORDER BY c.rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []types.ContextChunk
	for rows.Next() {
		var ch types.ContextChunk
		var embJSON string
		if err := rows.Scan(&ch.ChunkID, &ch.DocID, &ch.Filename, &ch.ChunkIndex, &ch.Content, &embJSON); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		if err := json.Unmarshal([]byte(embJSON), &ch.Embedding); err != nil {
			return nil, fmt.Errorf("corrupt embedding for chunk %s: %w", ch.ChunkID, err)
		}
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}
