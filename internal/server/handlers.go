package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"dataghost/internal/askcache"
	"dataghost/internal/ingest"
	"dataghost/internal/logging"
	"dataghost/internal/types"
	"dataghost/internal/voice"
)

type askBody struct {
	Question       string            `json:"question"`
	ConversationID string            `json:"conversation_id"`
	Clarifications map[string]string `json:"clarifications"`
}

type speakBody struct {
	Text string `json:"text"`
}

// handleAsk runs one question through the pipeline. Lookup order is rate
// limiter, response cache, orchestrator; clarification and error responses
// are never cached.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "ask", s.cfg.RateLimit.AskPerMinute, s.cfg.RateLimit.AskPerHour) {
		return
	}

	var body askBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondDetail(w, http.StatusBadRequest, "Request body must be valid JSON.")
		return
	}
	if strings.TrimSpace(body.Question) == "" {
		s.respondDetail(w, http.StatusBadRequest, "Question is required.")
		return
	}

	datasetID := ""
	if meta, _ := s.store.GetDatasetMeta(r.Context()); meta != nil {
		datasetID = meta.ID
	}
	key := askcache.Key(body.Question, datasetID, body.Clarifications)
	if cached := s.cache.Get(key); cached != nil {
		s.respondJSON(w, http.StatusOK, cached)
		return
	}

	result, err := s.pipe.Run(r.Context(), types.AskRequest{
		Question:       body.Question,
		ConversationID: body.ConversationID,
		Clarifications: body.Clarifications,
		RequestID:      requestIDFrom(r.Context()),
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	if !result.NeedsClarification {
		s.cache.Set(key, result)
	}
	s.respondJSON(w, http.StatusOK, result)
}

// handleUploadDataset replaces the active dataset with the uploaded CSV.
func (s *Server) handleUploadDataset(w http.ResponseWriter, r *http.Request) {
	filename, data, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	if !strings.EqualFold(filepath.Ext(filename), ".csv") {
		s.respondDetail(w, http.StatusBadRequest, "Only .csv files are accepted.")
		return
	}

	meta, err := s.ingestor.IngestCSV(r.Context(), filename, data)
	if err != nil {
		s.respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"dataset_id": meta.ID,
		"table_name": meta.TableName,
		"row_count":  meta.RowCount,
		"columns":    meta.Columns,
	})
}

// handleUploadContext ingests one context document for retrieval.
func (s *Server) handleUploadContext(w http.ResponseWriter, r *http.Request) {
	filename, data, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	if !ingest.SupportedDocument(filename) {
		s.respondDetail(w, http.StatusBadRequest,
			"Unsupported document type. Use .md, .markdown, .txt, .html, or .htm.")
		return
	}

	doc, err := s.ingestor.IngestDocument(r.Context(), filename, data)
	if err != nil {
		s.respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"doc_id":   doc.ID,
		"filename": doc.Filename,
		"chunks":   doc.ChunkCount,
	})
}

func (s *Server) handleVoiceTranscribe(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "voice", s.cfg.RateLimit.VoicePerMinute, s.cfg.RateLimit.VoicePerHour) {
		return
	}
	filename, data, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	text, err := s.voice.Transcribe(r.Context(), data, filename)
	if err != nil {
		s.respondVoiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handleVoiceSpeak(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "voice", s.cfg.RateLimit.VoicePerMinute, s.cfg.RateLimit.VoicePerHour) {
		return
	}
	var body speakBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondDetail(w, http.StatusBadRequest, "Request body must be valid JSON.")
		return
	}

	audio, err := s.voice.Speak(r.Context(), body.Text)
	if err != nil {
		s.respondVoiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		logging.API("Failed to stream synthesized audio: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// admit runs the per-minute and per-hour buckets for one route family,
// keyed by client IP. A false return means the 429 is already written.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, route string, perMinute, perHour int) bool {
	ip := clientIP(r)
	if err := s.limiter.Allow(route+"_per_minute", ip, perMinute, 60); err != nil {
		s.respondError(w, err)
		return false
	}
	if err := s.limiter.Allow(route+"_per_hour", ip, perHour, 3600); err != nil {
		s.respondError(w, err)
		return false
	}
	return true
}

// readUpload pulls the multipart "file" field under the configured size cap.
// A false return means the error response has already been written.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	limit := s.cfg.MaxUploadBytes()
	if r.ContentLength > limit {
		s.respondTooLarge(w)
		return "", nil, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	file, header, err := r.FormFile("file")
	if err != nil {
		if isBodyTooLarge(err) {
			s.respondTooLarge(w)
		} else {
			s.respondDetail(w, http.StatusBadRequest, `Multipart field "file" is required.`)
		}
		return "", nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		if isBodyTooLarge(err) {
			s.respondTooLarge(w)
		} else {
			s.respondDetail(w, http.StatusBadRequest, "Failed to read upload: "+err.Error())
		}
		return "", nil, false
	}
	return header.Filename, data, true
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

func (s *Server) respondTooLarge(w http.ResponseWriter) {
	s.respondDetail(w, http.StatusRequestEntityTooLarge,
		fmt.Sprintf("Upload exceeds the %d MB limit.", s.cfg.Storage.MaxUploadMB))
}

// respondError maps pipeline and limiter failures onto the HTTP contract.
// Every error body is {"detail": message}.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var (
		rate     *types.RateLimitError
		budget   *types.BudgetExceededError
		disabled *types.LLMDisabledError
		provider *types.ProviderError
	)
	switch {
	case errors.As(err, &rate):
		w.Header().Set("Retry-After", strconv.Itoa(rate.RetryAfter))
		s.respondDetail(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &budget):
		s.respondDetail(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &disabled):
		s.respondDetail(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &provider):
		s.respondDetail(w, http.StatusServiceUnavailable, err.Error())
	default:
		logging.API("Unhandled request error: %v", err)
		s.respondDetail(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondVoiceError(w http.ResponseWriter, err error) {
	var (
		validation *voice.ValidationError
		disabled   *voice.DisabledError
		upstream   *voice.UpstreamError
	)
	switch {
	case errors.As(err, &validation):
		s.respondDetail(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &disabled):
		s.respondDetail(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &upstream):
		s.respondDetail(w, http.StatusBadGateway, err.Error())
	default:
		s.respondDetail(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondDetail(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"detail": message})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.API("Failed to encode response: %v", err)
	}
}
