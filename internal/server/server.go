// Package server exposes the ask pipeline over HTTP: question answering,
// dataset and context uploads, voice proxying, health, and metrics. The
// chi handler is separable from the listener so tests drive it directly
// with httptest.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"dataghost/internal/askcache"
	"dataghost/internal/config"
	"dataghost/internal/ingest"
	"dataghost/internal/logging"
	"dataghost/internal/metrics"
	"dataghost/internal/pipeline"
	"dataghost/internal/ratelimit"
	"dataghost/internal/store"
	"dataghost/internal/voice"
)

const requestIDHeader = "X-Request-Id"

type ctxKey int

const requestIDKey ctxKey = 0

// Server owns the HTTP surface and its transport-local state. The response
// cache and the rate limiter live here rather than in the pipeline, so the
// orchestrator stays unaware of HTTP concerns.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	pipe     *pipeline.Pipeline
	ingestor *ingest.Ingestor
	voice    *voice.Client
	cache    *askcache.Cache
	limiter  ratelimit.Gate
	access   *zap.Logger
	srv      *http.Server
}

// New wires the transport around an assembled pipeline. Access logs go
// through a zap production logger on stderr; everything else keeps using
// the category file logger.
func New(cfg *config.Config, st *store.Store, pipe *pipeline.Pipeline, ing *ingest.Ingestor, voiceClient *voice.Client) *Server {
	access, err := zap.NewProduction()
	if err != nil {
		access = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		store:    st,
		pipe:     pipe,
		ingestor: ing,
		voice:    voiceClient,
		cache:    askcache.New(cfg.Cache.AskTTLSeconds),
		limiter:  ratelimit.New(),
		access:   access,
	}
}

// Handler builds the chi router with the full middleware chain and routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(withRequestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.CORSAllowOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader, "Retry-After"},
		MaxAge:         300,
	}))

	r.Post("/ask", s.handleAsk)
	r.Post("/upload/dataset", s.handleUploadDataset)
	r.Post("/upload/context", s.handleUploadContext)
	r.Post("/voice/transcribe", s.handleVoiceTranscribe)
	r.Post("/voice/speak", s.handleVoiceSpeak)
	r.Get("/health", s.handleHealth)
	if s.cfg.Metrics.Enabled {
		r.Handle("/metrics", metrics.Handler())
	}
	return r
}

// Start serves HTTP on the configured host and port until Shutdown is
// called or the listener fails. It returns http.ErrServerClosed after a
// clean shutdown, matching net/http.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	logging.API("Listening on http://%s", addr)
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	logging.API("Draining HTTP connections")
	err := s.srv.Shutdown(ctx)
	_ = s.access.Sync()
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// withRequestID honors an inbound X-Request-Id and mints a UUID otherwise.
// The id is echoed on the response and rides the context into the pipeline,
// where it becomes the request log row id.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestIDFrom returns the id placed on the context by withRequestID.
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.access.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestIDFrom(r.Context())),
		)
	})
}

// clientIP picks the rate-limit key for a request: the first X-Forwarded-For
// hop when a proxy added one, otherwise the connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := fwd
		if i := strings.IndexByte(first, ','); i >= 0 {
			first = first[:i]
		}
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
