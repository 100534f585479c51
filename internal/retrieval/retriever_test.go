package retrieval

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"dataghost/internal/embedding"
	"dataghost/internal/store"
	"dataghost/internal/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "rag.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func saveDoc(t *testing.T, s *store.Store, engine embedding.Engine, id, filename string, contents []string) {
	t.Helper()
	chunks := make([]types.ContextChunk, 0, len(contents))
	for i, text := range contents {
		vec, err := engine.Embed(context.Background(), text)
		if err != nil {
			t.Fatalf("Embed: %v", err)
		}
		chunks = append(chunks, types.ContextChunk{
			ChunkID:    id + ":" + string(rune('0'+i)),
			ChunkIndex: i,
			Content:    text,
			Embedding:  vec,
		})
	}
	doc := &types.DocMeta{ID: id, Filename: filename}
	if err := s.SaveDocument(context.Background(), doc, chunks); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
}

func TestRetrieveEmptyCorpus(t *testing.T) {
	s := newTestStore(t)
	r := New(s, embedding.NewHashedEngine(0), 5)

	cites, err := r.Retrieve(context.Background(), "why did revenue drop")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if cites == nil || len(cites) != 0 {
		t.Errorf("empty corpus should yield empty slice, got %v", cites)
	}
}

func TestRetrieveRanksByRelevance(t *testing.T) {
	s := newTestStore(t)
	engine := embedding.NewHashedEngine(0)
	saveDoc(t, s, engine, "doc-a", "pipeline.md", []string{
		"deployment pipeline rollback runbook for the platform team",
	})
	saveDoc(t, s, engine, "doc-b", "revenue.md", []string{
		"revenue dropped in august because the promo campaign ended",
	})

	r := New(s, engine, 5)
	cites, err := r.Retrieve(context.Background(), "why did revenue drop in august")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(cites) != 2 {
		t.Fatalf("citations = %d, want 2", len(cites))
	}
	if cites[0].Filename != "revenue.md" {
		t.Errorf("most relevant chunk should rank first, got %s", cites[0].Filename)
	}
	if cites[0].Score < cites[1].Score {
		t.Errorf("scores out of order: %v < %v", cites[0].Score, cites[1].Score)
	}
	if cites[0].DocID == "" || cites[0].ChunkID == "" {
		t.Errorf("citation identity missing: %+v", cites[0])
	}
}

func TestRetrieveHonorsTopK(t *testing.T) {
	s := newTestStore(t)
	engine := embedding.NewHashedEngine(0)
	saveDoc(t, s, engine, "doc-a", "a.md", []string{
		"alpha revenue one", "alpha revenue two", "alpha revenue three", "alpha revenue four",
	})

	r := New(s, engine, 2)
	cites, err := r.Retrieve(context.Background(), "alpha revenue")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(cites) != 2 {
		t.Errorf("topK not honored: got %d citations", len(cites))
	}
}

func TestRetrieveSnippetCap(t *testing.T) {
	s := newTestStore(t)
	engine := embedding.NewHashedEngine(0)
	long := strings.Repeat("revenue analysis context ", 40)
	saveDoc(t, s, engine, "doc-a", "long.md", []string{long})

	r := New(s, engine, 1)
	cites, err := r.Retrieve(context.Background(), "revenue analysis")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(cites) != 1 {
		t.Fatalf("citations = %d, want 1", len(cites))
	}
	if got := len([]rune(cites[0].Snippet)); got != SnippetRunes {
		t.Errorf("snippet runes = %d, want %d", got, SnippetRunes)
	}
}

func TestRetrieveStableTieOrder(t *testing.T) {
	s := newTestStore(t)
	engine := embedding.NewHashedEngine(0)
	saveDoc(t, s, engine, "doc-a", "a.md", []string{"identical text", "identical text"})

	r := New(s, engine, 2)
	cites, err := r.Retrieve(context.Background(), "identical text")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(cites) != 2 {
		t.Fatalf("citations = %d, want 2", len(cites))
	}
	if !(strings.HasSuffix(cites[0].ChunkID, "0") && strings.HasSuffix(cites[1].ChunkID, "1")) {
		t.Errorf("tied scores should keep insertion order: %s then %s", cites[0].ChunkID, cites[1].ChunkID)
	}
}
