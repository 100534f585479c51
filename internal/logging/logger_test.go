package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func resetLogging() {
	CloseAll()
	loggersMu.Lock()
	logsDir = ""
	loggersMu.Unlock()
	optsMu.Lock()
	opts = Options{}
	optsMu.Unlock()
}

func TestDisabledLoggingWritesNothing(t *testing.T) {
	defer resetLogging()
	dir := t.TempDir()
	if err := Initialize(dir, Options{Debug: false}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	Pipeline("should be silent %d", 1)
	Get(CategoryStore).Error("also silent")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no log files, found %d", len(entries))
	}
}

func TestCategoryFilesCreated(t *testing.T) {
	defer resetLogging()
	dir := t.TempDir()
	if err := Initialize(dir, Options{Debug: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	Pipeline("stage %s done", "plan_analyses")
	SQLGuardDebug("checked %d statements", 3)
	CloseAll()

	date := time.Now().Format("2006-01-02")
	for _, cat := range []Category{CategoryPipeline, CategorySQLGuard} {
		path := filepath.Join(dir, date+"_"+string(cat)+".log")
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("expected log file for %s: %v", cat, err)
		}
		if len(data) == 0 {
			t.Errorf("log file for %s is empty", cat)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	defer resetLogging()
	dir := t.TempDir()
	if err := Initialize(dir, Options{Debug: true, Level: "warn"}); err != nil {
		t.Fatal(err)
	}

	l := Get(CategoryRouter)
	l.Debug("dropped")
	l.Info("dropped")
	l.Warn("kept-warn")
	l.Error("kept-error")
	CloseAll()

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, date+"_router.log"))
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if strings.Contains(out, "dropped") {
		t.Errorf("low-level lines should be filtered: %s", out)
	}
	if !strings.Contains(out, "kept-warn") || !strings.Contains(out, "kept-error") {
		t.Errorf("warn/error lines missing: %s", out)
	}
}

func TestCategoryDisable(t *testing.T) {
	defer resetLogging()
	dir := t.TempDir()
	err := Initialize(dir, Options{
		Debug:      true,
		Level:      "debug",
		Categories: map[string]bool{"voice": false},
	})
	if err != nil {
		t.Fatal(err)
	}

	Voice("never written")
	Store("written")
	CloseAll()

	date := time.Now().Format("2006-01-02")
	if _, err := os.Stat(filepath.Join(dir, date+"_voice.log")); err == nil {
		t.Error("voice category should be disabled")
	}
	if _, err := os.Stat(filepath.Join(dir, date+"_store.log")); err != nil {
		t.Error("store category should be enabled")
	}
}

func TestRequestLoggerIncludesCorrelation(t *testing.T) {
	defer resetLogging()
	dir := t.TempDir()
	if err := Initialize(dir, Options{Debug: true, Level: "debug"}); err != nil {
		t.Fatal(err)
	}

	WithRequestID(CategoryPipeline, "req-123").WithField("stage", "plan").Info("planned %d", 2)
	CloseAll()

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, date+"_pipeline.log"))
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, "req=req-123") || !strings.Contains(out, "stage=plan") {
		t.Errorf("request-scoped fields missing: %s", out)
	}
}

func TestTimerStopWithThreshold(t *testing.T) {
	defer resetLogging()
	dir := t.TempDir()
	if err := Initialize(dir, Options{Debug: true, Level: "debug"}); err != nil {
		t.Fatal(err)
	}

	timer := StartTimer(CategoryExecution, "run_query")
	time.Sleep(5 * time.Millisecond)
	if elapsed := timer.StopWithThreshold(time.Nanosecond); elapsed <= 0 {
		t.Fatalf("elapsed = %v", elapsed)
	}
	CloseAll()

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, date+"_execution.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "run_query took") {
		t.Errorf("threshold warning missing: %s", data)
	}
}
