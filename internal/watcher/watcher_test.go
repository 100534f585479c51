package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"dataghost/internal/types"
)

// TestMain verifies the event loop and fsnotify goroutines are gone after
// every test closes its watcher.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingIngestor struct {
	mu    sync.Mutex
	seen  map[string][]byte
	calls int
}

func newRecordingIngestor() *recordingIngestor {
	return &recordingIngestor{seen: make(map[string][]byte)}
}

func (r *recordingIngestor) IngestDocument(_ context.Context, filename string, data []byte) (*types.DocMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.seen[filename] = append([]byte(nil), data...)
	return &types.DocMeta{ID: filename, Filename: filename, Bytes: len(data), ChunkCount: 1}, nil
}

func (r *recordingIngestor) content(filename string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.seen[filename]
	return data, ok
}

func (r *recordingIngestor) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSettledRespectsDebounce(t *testing.T) {
	w := &Watcher{pending: make(map[string]time.Time), debounce: 500 * time.Millisecond}
	mark := time.Now()
	w.pending["/ctx/notes.md"] = mark
	w.pending["/ctx/notes.md"] = mark.Add(50 * time.Millisecond)

	if got := w.settled(mark.Add(200 * time.Millisecond)); len(got) != 0 {
		t.Errorf("settled too early: %v", got)
	}
	if len(w.pending) != 1 {
		t.Errorf("pending = %d, want 1", len(w.pending))
	}

	got := w.settled(mark.Add(600 * time.Millisecond))
	if len(got) != 1 || got[0] != "/ctx/notes.md" {
		t.Errorf("settled = %v", got)
	}
	if len(w.pending) != 0 {
		t.Error("settled path must leave the pending set")
	}
	if got := w.settled(mark.Add(time.Second)); len(got) != 0 {
		t.Errorf("second collection = %v, want empty", got)
	}
}

func TestStartIngestsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	write("notes.md", "# Launch notes")
	write("guide.txt", "pricing guide")
	write("data.csv", "a,b\n1,2")

	ing := newRecordingIngestor()
	w, err := New(dir, ing)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Close()

	waitFor(t, "initial scan", func() bool {
		_, md := ing.content("notes.md")
		_, txt := ing.content("guide.txt")
		return md && txt
	})
	if _, ok := ing.content("data.csv"); ok {
		t.Error("csv files are not context documents")
	}
}

func TestWriteEventIngestsAfterDebounce(t *testing.T) {
	dir := t.TempDir()
	ing := newRecordingIngestor()
	w, err := New(dir, ing)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.debounce = 100 * time.Millisecond
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "report.md"), []byte("Q2 summary"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	waitFor(t, "event ingestion", func() bool {
		data, ok := ing.content("report.md")
		return ok && string(data) == "Q2 summary"
	})
}

func TestUnsupportedEventsIgnored(t *testing.T) {
	dir := t.TempDir()
	ing := newRecordingIngestor()
	w, err := New(dir, ing)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.debounce = 50 * time.Millisecond
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "blob.bin"), []byte{0x1, 0x2}, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	time.Sleep(400 * time.Millisecond)
	if n := ing.callCount(); n != 0 {
		t.Errorf("ingestions = %d, want 0", n)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, newRecordingIngestor())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestCloseWithoutStart(t *testing.T) {
	w, err := New(t.TempDir(), newRecordingIngestor())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
