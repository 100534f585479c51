// Command dataghost serves the ask pipeline over HTTP and exposes local
// commands for ingesting CSV datasets, asking questions from the shell, and
// chatting with a dataset interactively.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dataghost/internal/config"
	"dataghost/internal/embedding"
	"dataghost/internal/ingest"
	"dataghost/internal/llm"
	"dataghost/internal/logging"
	"dataghost/internal/pipeline"
	"dataghost/internal/server"
	"dataghost/internal/store"
	"dataghost/internal/types"
	"dataghost/internal/voice"
	"dataghost/internal/watcher"
)

const version = "0.3.0"

var (
	configPath    string
	contextUpload bool
	clarifyPairs  []string
)

var rootCmd = &cobra.Command{
	Use:   "dataghost",
	Short: "Ask plain-language questions about CSV data",
	Long: `dataghost loads CSV datasets into SQLite and answers free-form analytical
questions about them. It plans bounded read-only SQL, executes it, and
synthesizes a grounded narrative with ranked drivers, chart data, and the
exact queries behind every number.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the SQLite database and run migrations",
	RunE:  runInitDB,
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Ingest a CSV dataset, or a context document with --context",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

var askCmd = &cobra.Command{
	Use:   "ask \"<question>\"",
	Short: "Answer one question and print the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive question-and-answer session",
	RunE:  runChat,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the dataghost version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dataghost %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "dataghost.yaml", "path to the YAML config file; a missing file falls back to defaults")
	uploadCmd.Flags().BoolVar(&contextUpload, "context", false, "ingest the file as a context document instead of a dataset")
	askCmd.Flags().StringArrayVar(&clarifyPairs, "clarify", nil, "clarification answer as key=value, repeatable")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initDBCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles the wired components shared by the subcommands.
type app struct {
	cfg   *config.Config
	store *store.Store
	pipe  *pipeline.Pipeline
	ing   *ingest.Ingestor
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logging.Initialize(cfg.Logging.Dir, logging.Options{
		Debug:      cfg.Logging.Debug,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.JSON,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return nil, err
	}

	st, err := store.New(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	provider, err := llm.NewProvider(ctx, cfg.LLM)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{
		cfg:   cfg,
		store: st,
		pipe:  pipeline.New(cfg, st, llm.NewRouter(cfg.LLM, st, provider)),
		ing:   ingest.New(st, embedding.NewHashedEngine(embedding.DefaultDimensions), cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap),
	}, nil
}

func (a *app) Close() {
	a.store.Close()
	logging.CloseAll()
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.RAG.WatchDir != "" {
		docWatcher, werr := watcher.New(a.cfg.RAG.WatchDir, a.ing)
		if werr != nil {
			return fmt.Errorf("starting context watcher: %w", werr)
		}
		if werr := docWatcher.Start(ctx); werr != nil {
			return fmt.Errorf("starting context watcher: %w", werr)
		}
		defer docWatcher.Close()
		fmt.Printf("Watching %s for context documents\n", a.cfg.RAG.WatchDir)
	}

	srv := server.New(a.cfg, a.store, a.pipe, a.ing, voice.NewClient(a.cfg.Voice, "", 0))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Printf("dataghost %s listening on http://%s:%d\n", version, a.cfg.Server.Host, a.cfg.Server.Port)

	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived %s, shutting down\n", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func runInitDB(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	st, err := store.New(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	path := cfg.Storage.Path
	if abs, aerr := filepath.Abs(path); aerr == nil {
		path = abs
	}
	fmt.Printf("Database ready at %s\n", path)
	return nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if info.Size() > a.cfg.MaxUploadBytes() {
		return fmt.Errorf("%s is %d bytes, over the %d MB limit", path, info.Size(), a.cfg.Storage.MaxUploadMB)
	}

	name := filepath.Base(path)
	if contextUpload {
		if !ingest.SupportedDocument(name) {
			return fmt.Errorf("unsupported document type %q: use .md, .markdown, .txt, .html, or .htm", filepath.Ext(name))
		}
	} else if !strings.EqualFold(filepath.Ext(name), ".csv") {
		return fmt.Errorf("only .csv files are accepted as datasets; use --context for documents")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if contextUpload {
		doc, ierr := a.ing.IngestDocument(cmd.Context(), name, data)
		if ierr != nil {
			return ierr
		}
		fmt.Printf("Ingested %s: %d chunks (doc %s)\n", doc.Filename, doc.ChunkCount, doc.ID)
		return nil
	}

	meta, err := a.ing.IngestCSV(cmd.Context(), name, data)
	if err != nil {
		return err
	}
	fmt.Printf("Ingested %s: %d rows into %s (dataset %s)\n", meta.Name, meta.RowCount, meta.TableName, meta.ID)
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(args[0])
	if question == "" {
		return fmt.Errorf("question is required")
	}

	clarifications, err := parseClarifications(clarifyPairs)
	if err != nil {
		return err
	}

	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.pipe.Run(cmd.Context(), types.AskRequest{
		Question:       question,
		Clarifications: clarifications,
	})
	if err != nil {
		return err
	}

	fmt.Print(renderAskResult(result, 0))
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	return startChat(a)
}

func parseClarifications(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --clarify %q: want key=value", pair)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}
