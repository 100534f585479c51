// Package watcher feeds a context-document directory into ingestion. Files
// already present are ingested on start; files created or rewritten later are
// picked up from filesystem events after a per-path debounce, so editors that
// save in bursts trigger one ingestion per burst.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"dataghost/internal/ingest"
	"dataghost/internal/logging"
	"dataghost/internal/types"
)

const (
	debounceWindow = 500 * time.Millisecond
	settleInterval = 100 * time.Millisecond
	scanWorkers    = 4
)

// DocumentIngestor is the slice of the ingestor the watcher drives.
type DocumentIngestor interface {
	IngestDocument(ctx context.Context, filename string, data []byte) (*types.DocMeta, error)
}

// Watcher mirrors one directory into the context-document store.
type Watcher struct {
	dir string
	ing DocumentIngestor
	fsw *fsnotify.Watcher

	mu       sync.Mutex
	pending  map[string]time.Time
	debounce time.Duration
	started  bool
	closed   bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a watcher over dir. Start must be called before events flow.
func New(dir string, ing DocumentIngestor) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		dir:      dir,
		ing:      ing,
		fsw:      fsw,
		pending:  make(map[string]time.Time),
		debounce: debounceWindow,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. The initial directory scan and the event loop run in
// a background goroutine; Start returns once the watch is registered.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	if err := w.fsw.Add(w.dir); err != nil {
		return err
	}
	logging.Watcher("Watching context directory: %s", w.dir)

	go w.run(ctx)
	return nil
}

// Close stops the event loop and releases the filesystem watch.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	started := w.started
	w.mu.Unlock()

	if started {
		close(w.stopCh)
		<-w.doneCh
	}
	return w.fsw.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	w.scanExisting(ctx)

	ticker := time.NewTicker(settleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatcher).Error("Watch error: %v", err)
		case <-ticker.C:
			for _, path := range w.settled(time.Now()) {
				w.ingestPath(ctx, path)
			}
		}
	}
}

// scanExisting ingests the files already in the directory, a few at a time.
func (w *Watcher) scanExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logging.Get(logging.CategoryWatcher).Error("Initial scan failed: %v", err)
		return
	}

	var g errgroup.Group
	g.SetLimit(scanWorkers)
	queued := 0
	for _, entry := range entries {
		if entry.IsDir() || !ingest.SupportedDocument(entry.Name()) {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		queued++
		g.Go(func() error {
			w.ingestPath(ctx, path)
			return nil
		})
	}
	g.Wait()
	if queued > 0 {
		logging.Watcher("Initial scan ingested %d existing file(s)", queued)
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if !ingest.SupportedDocument(event.Name) {
		return
	}
	w.mu.Lock()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

// settled returns the paths whose last event is older than the debounce
// window and removes them from the pending set.
func (w *Watcher) settled(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []string
	for path, mark := range w.pending {
		if now.Sub(mark) >= w.debounce {
			out = append(out, path)
			delete(w.pending, path)
		}
	}
	return out
}

// ingestPath reads one file and hands it to the ingestor. Failures are
// logged, never fatal: the watcher outlives any single bad file.
func (w *Watcher) ingestPath(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Get(logging.CategoryWatcher).Error("Failed to read %s: %v", path, err)
		}
		return
	}
	doc, err := w.ing.IngestDocument(ctx, filepath.Base(path), data)
	if err != nil {
		logging.Get(logging.CategoryWatcher).Warn("Failed to ingest %s: %v", path, err)
		return
	}
	logging.Watcher("Ingested %s (%d chunks)", doc.Filename, doc.ChunkCount)
}
