package ingest

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"dataghost/internal/embedding"
	"dataghost/internal/store"
	"dataghost/internal/types"
)

func newTestIngestor(t *testing.T) (*Ingestor, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "ingest.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, embedding.NewHashedEngine(0), 800, 100), s
}

func TestIngestCSVInfersSchema(t *testing.T) {
	in, s := newTestIngestor(t)
	csvData := []byte("Order Date,Region,Revenue ($),Units,Notes\n" +
		"2026-08-01,north,120.5,3,\n" +
		"2026-08-02,south,80,2,promo\n" +
		"2026-08-03,north,99.9,,\n")

	meta, err := in.IngestCSV(context.Background(), "sales.csv", csvData)
	if err != nil {
		t.Fatalf("IngestCSV: %v", err)
	}

	wantCols := []string{"order_date", "region", "revenue", "units", "notes"}
	if !reflect.DeepEqual(meta.Columns, wantCols) {
		t.Errorf("columns = %v, want %v", meta.Columns, wantCols)
	}
	if meta.RowCount != 3 {
		t.Errorf("row count = %d, want 3", meta.RowCount)
	}
	if !strings.HasPrefix(meta.TableName, "data_") || len(meta.TableName) != len("data_")+12 {
		t.Errorf("unexpected table name %q", meta.TableName)
	}
	if meta.Schema["revenue"] != types.ColumnReal {
		t.Errorf("revenue type = %s, want REAL", meta.Schema["revenue"])
	}
	if meta.Schema["units"] != types.ColumnInteger {
		t.Errorf("units type = %s, want INTEGER", meta.Schema["units"])
	}
	if meta.Schema["region"] != types.ColumnText {
		t.Errorf("region type = %s, want TEXT", meta.Schema["region"])
	}
	if meta.Schema["notes"] != types.ColumnText {
		t.Errorf("all-blank column should default to TEXT, got %s", meta.Schema["notes"])
	}

	ws := s.Workspace()
	var nullNotes, nullUnits int
	if err := ws.QueryRow(`SELECT COUNT(*) FROM ` + store.QuoteIdent(meta.TableName) + ` WHERE "notes" IS NULL`).Scan(&nullNotes); err != nil {
		t.Fatalf("query notes: %v", err)
	}
	if nullNotes != 2 {
		t.Errorf("blank notes cells should be NULL: got %d, want 2", nullNotes)
	}
	if err := ws.QueryRow(`SELECT COUNT(*) FROM ` + store.QuoteIdent(meta.TableName) + ` WHERE "units" IS NULL`).Scan(&nullUnits); err != nil {
		t.Fatalf("query units: %v", err)
	}
	if nullUnits != 1 {
		t.Errorf("blank numeric cells should be NULL: got %d, want 1", nullUnits)
	}

	var sum float64
	if err := ws.QueryRow(`SELECT SUM("revenue") FROM ` + store.QuoteIdent(meta.TableName)).Scan(&sum); err != nil {
		t.Fatalf("sum revenue: %v", err)
	}
	if sum < 300.3 || sum > 300.5 {
		t.Errorf("revenue sum = %v, want 300.4", sum)
	}
}

func TestIngestCSVStripsBOM(t *testing.T) {
	in, _ := newTestIngestor(t)
	csvData := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Name,Score\nalice,10\n")...)

	meta, err := in.IngestCSV(context.Background(), "scores.csv", csvData)
	if err != nil {
		t.Fatalf("IngestCSV: %v", err)
	}
	if meta.Columns[0] != "name" {
		t.Errorf("BOM leaked into first header: %q", meta.Columns[0])
	}
}

func TestIngestCSVDeduplicatesHeaders(t *testing.T) {
	in, _ := newTestIngestor(t)
	csvData := []byte("Revenue,revenue,Revenue ($),,Notes\n1,2,3,4,x\n")

	meta, err := in.IngestCSV(context.Background(), "dupes.csv", csvData)
	if err != nil {
		t.Fatalf("IngestCSV: %v", err)
	}
	want := []string{"revenue", "revenue_2", "revenue_3", "col_4", "notes"}
	if !reflect.DeepEqual(meta.Columns, want) {
		t.Errorf("columns = %v, want %v", meta.Columns, want)
	}
}

func TestIngestCSVPadsShortRows(t *testing.T) {
	in, s := newTestIngestor(t)
	csvData := []byte("a,b,c\n1,2\n")

	meta, err := in.IngestCSV(context.Background(), "short.csv", csvData)
	if err != nil {
		t.Fatalf("IngestCSV: %v", err)
	}
	var n int
	err = s.Workspace().QueryRow(`SELECT COUNT(*) FROM ` + store.QuoteIdent(meta.TableName) + ` WHERE "c" IS NULL`).Scan(&n)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if n != 1 {
		t.Errorf("missing trailing cell should be NULL, got %d", n)
	}
}

func TestIngestCSVEmptyFile(t *testing.T) {
	in, _ := newTestIngestor(t)
	if _, err := in.IngestCSV(context.Background(), "empty.csv", nil); err == nil {
		t.Error("empty upload should fail")
	}
}

func TestIngestCSVReplacesActiveDataset(t *testing.T) {
	in, s := newTestIngestor(t)
	ctx := context.Background()

	first, err := in.IngestCSV(ctx, "one.csv", []byte("a\n1\n"))
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := in.IngestCSV(ctx, "two.csv", []byte("b\nx\ny\n"))
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	meta, err := s.GetDatasetMeta(ctx)
	if err != nil {
		t.Fatalf("GetDatasetMeta: %v", err)
	}
	if meta.ID != second.ID || meta.Name != "two.csv" || meta.RowCount != 2 {
		t.Errorf("active dataset = %+v, want the second upload", meta)
	}
	if meta.TableName == first.TableName {
		t.Error("replacement should land in a fresh physical table")
	}
}

func TestChunkTextWindows(t *testing.T) {
	text := "abcdefghijklmnopqrstuvwxyz"
	chunks := chunkText(text, 10, 3)
	want := []string{"abcdefghij", "hijklmnopq", "opqrstuvwx", "vwxyz"}
	if !reflect.DeepEqual(chunks, want) {
		t.Errorf("chunks = %v, want %v", chunks, want)
	}

	if got := chunkText("  \n ", 10, 3); got != nil {
		t.Errorf("whitespace-only text should produce no chunks, got %v", got)
	}
	if got := chunkText("short", 800, 100); len(got) != 1 || got[0] != "short" {
		t.Errorf("short text should yield a single chunk, got %v", got)
	}
}

func TestIngestDocumentChunksAndEmbeds(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "docs.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	in := New(s, embedding.NewHashedEngine(0), 50, 10)

	text := strings.Repeat("revenue context notes ", 10)
	doc, err := in.IngestDocument(context.Background(), "/tmp/uploads/notes.md", []byte(text))
	if err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}
	if doc.Filename != "notes.md" {
		t.Errorf("filename should be basename, got %q", doc.Filename)
	}
	if doc.Bytes != len(text) {
		t.Errorf("bytes = %d, want %d", doc.Bytes, len(text))
	}
	if doc.ChunkCount < 2 {
		t.Errorf("long text should chunk, got %d chunks", doc.ChunkCount)
	}

	chunks, err := s.ListVectorChunks(context.Background())
	if err != nil {
		t.Fatalf("ListVectorChunks: %v", err)
	}
	if len(chunks) != doc.ChunkCount {
		t.Errorf("stored chunks = %d, want %d", len(chunks), doc.ChunkCount)
	}
	for _, ch := range chunks {
		if len(ch.Embedding) != embedding.DefaultDimensions {
			t.Errorf("chunk %s embedding dims = %d", ch.ChunkID, len(ch.Embedding))
		}
		if ch.Filename != "notes.md" {
			t.Errorf("chunk filename = %q", ch.Filename)
		}
	}
}

func TestIngestDocumentHTML(t *testing.T) {
	in, s := newTestIngestor(t)
	htmlDoc := `<html><head><script>var x = 1;</script><style>p{}</style></head>` +
		`<body><h1>Report</h1><p>Revenue   fell in <b>august</b>.</p></body></html>`

	doc, err := in.IngestDocument(context.Background(), "report.html", []byte(htmlDoc))
	if err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}

	chunks, _ := s.ListVectorChunks(context.Background())
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	text := chunks[0].Content
	if !strings.Contains(text, "Revenue fell in august") {
		t.Errorf("extracted text lost content or whitespace collapse: %q", text)
	}
	if strings.Contains(text, "var x") || strings.Contains(text, "p{}") {
		t.Errorf("script/style leaked into text: %q", text)
	}
	if doc.ChunkCount != len(chunks) {
		t.Errorf("chunk count mismatch: %d vs %d", doc.ChunkCount, len(chunks))
	}
}

func TestIngestDocumentRejectsUnknownExtension(t *testing.T) {
	in, _ := newTestIngestor(t)
	if _, err := in.IngestDocument(context.Background(), "data.pdf", []byte("x")); err == nil {
		t.Error("unsupported extension should fail")
	}
	if SupportedDocument("data.pdf") {
		t.Error("SupportedDocument should reject .pdf")
	}
	if !SupportedDocument("Notes.MD") {
		t.Error("SupportedDocument should accept .md case-insensitively")
	}
}

func TestIngestDocumentRejectsEmptyDocument(t *testing.T) {
	in, s := newTestIngestor(t)
	ctx := context.Background()

	_, err := in.IngestDocument(ctx, "empty.txt", []byte("   \n\t   "))
	if err == nil {
		t.Fatal("whitespace-only document should fail")
	}
	if !strings.Contains(err.Error(), "empty after extraction") {
		t.Errorf("error = %q", err)
	}

	docs, _ := s.ListDocuments(ctx)
	if len(docs) != 0 {
		t.Errorf("documents = %d, nothing should be stored", len(docs))
	}
}

func TestIngestDocumentReplacesByFilename(t *testing.T) {
	in, s := newTestIngestor(t)
	ctx := context.Background()

	if _, err := in.IngestDocument(ctx, "notes.md", []byte("old version")); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if _, err := in.IngestDocument(ctx, "notes.md", []byte("new version")); err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	docs, err := s.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("documents = %d, want 1", len(docs))
	}
	chunks, _ := s.ListVectorChunks(ctx)
	if len(chunks) != 1 || chunks[0].Content != "new version" {
		t.Errorf("replacement did not land: %+v", chunks)
	}
}
