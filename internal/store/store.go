// Package store persists all durable state for the ask pipeline in a single
// SQLite file: the active dataset and its physical table, uploaded context
// documents with their embedded chunks, the request log, and the cost ledger.
//
// Two drivers share the file. The read-write handle uses mattn/go-sqlite3
// (one writer connection, WAL journal). Analysis queries run through a
// separate read-only handle opened with the modernc driver so a hostile or
// runaway query can never mutate state. See Workspace.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"dataghost/internal/logging"
)

// TimeLayout is the fixed-width UTC timestamp format used for every
// created_at column. Fixed width keeps lexicographic order equal to
// chronological order, which GlobalSpendUSDSince relies on.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in TimeLayout, always in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// NowISO returns the current instant in TimeLayout.
func NowISO() string {
	return FormatTime(time.Now())
}

// ParseTime parses a TimeLayout timestamp, tolerating plain RFC3339 for
// rows written by older builds. Returns the zero time on failure.
func ParseTime(s string) time.Time {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Time{}
}

// DayStartISO returns the UTC start-of-day for t in TimeLayout. The cost
// router uses it as the lower bound for daily budget checks.
func DayStartISO(t time.Time) string {
	u := t.UTC()
	return FormatTime(time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC))
}

// Store wraps the SQLite database backing the service.
type Store struct {
	db     *sql.DB
	ws     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// New opens (creating if needed) the database at path and ensures the schema
// exists. The schema statements are idempotent so repeated opens are safe.
func New(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.New")
	defer timer.Stop()

	logging.Store("Opening store at path: %s", path)

	if dir := filepath.Dir(path); dir != "" && dir != "." && !isMemoryPath(path) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// PRAGMA synchronous=NORMAL provides 5-10x write speedup with WAL mode
	// (vs FULL which is default). Safe because WAL already provides crash recovery.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to set sqlite foreign_keys=ON: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Database schema initialized")

	if err := s.openWorkspace(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// openWorkspace opens the read-only analysis handle on the same file.
// In-memory databases are private to their connection, so for :memory:
// paths the workspace aliases the read-write handle instead.
func (s *Store) openWorkspace() error {
	if isMemoryPath(s.dbPath) {
		s.ws = s.db
		logging.StoreDebug("In-memory database; workspace shares the primary handle")
		return nil
	}
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", s.dbPath)
	ws, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open read-only workspace: %w", err)
	}
	s.ws = ws
	logging.StoreDebug("Opened read-only workspace handle")
	return nil
}

// Workspace returns the read-only handle used to execute planned analysis
// SQL against the dataset table. Each query draws its own connection from
// the pool; callers must not attempt writes through it.
func (s *Store) Workspace() *sql.DB {
	return s.ws
}

// Path returns the database file path the store was opened with.
func (s *Store) Path() string {
	return s.dbPath
}

// Close releases both database handles.
func (s *Store) Close() error {
	if s.ws != nil && s.ws != s.db {
		if err := s.ws.Close(); err != nil {
			logging.StoreDebug("Failed to close workspace handle: %v", err)
		}
	}
	return s.db.Close()
}

func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

func (s *Store) initialize() error {
	datasetMetaTable := `
	CREATE TABLE IF NOT EXISTS dataset_meta (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		table_name TEXT NOT NULL,
		row_count INTEGER NOT NULL DEFAULT 0,
		columns_json TEXT NOT NULL DEFAULT '[]',
		schema_json TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);
	`

	docsMetaTable := `
	CREATE TABLE IF NOT EXISTS docs_meta (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL UNIQUE,
		bytes INTEGER NOT NULL DEFAULT 0,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	`

	// Chunks cascade with their parent document so re-uploading a file
	// replaces its vectors atomically.
	vectorChunksTable := `
	CREATE TABLE IF NOT EXISTS vector_chunks (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL REFERENCES docs_meta(id) ON DELETE CASCADE,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding_json TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_vector_chunks_doc ON vector_chunks(doc_id);
	`

	requestsTable := `
	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL DEFAULT '',
		question TEXT NOT NULL,
		models TEXT NOT NULL DEFAULT '',
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		usd REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		diagnostics_json TEXT NOT NULL DEFAULT '[]',
		response_json TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requests_conversation ON requests(conversation_id);
	`

	costLedgerTable := `
	CREATE TABLE IF NOT EXISTS cost_ledger (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		app TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		usd REAL NOT NULL DEFAULT 0,
		metadata_json TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cost_ledger_request ON cost_ledger(request_id);
	CREATE INDEX IF NOT EXISTS idx_cost_ledger_created ON cost_ledger(created_at);
	`

	for _, stmt := range []string{
		datasetMetaTable,
		docsMetaTable,
		vectorChunksTable,
		requestsTable,
		costLedgerTable,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// QuoteIdent wraps a SQLite identifier in double quotes, escaping any
// embedded quote. Dataset table and column names are slugs, but DDL built
// from user uploads still goes through here.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		logging.StoreDebug("Rollback failed: %v", err)
	}
}
