// Package voice proxies speech endpoints to ElevenLabs: speech-to-text for
// transcribing spoken questions and text-to-speech for reading answers back.
// It sits outside the ask pipeline and shares nothing with it beyond config.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"dataghost/internal/config"
	"dataghost/internal/logging"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	outputFormat   = "mp3_44100_128"

	// MaxTTSChars bounds one synthesis request.
	MaxTTSChars = 3000
)

// allowedAudioExts are the upload formats the transcription endpoint accepts.
var allowedAudioExts = map[string]bool{
	".webm": true,
	".mp4":  true,
	".mp3":  true,
	".wav":  true,
	".ogg":  true,
	".m4a":  true,
}

// ValidationError rejects a malformed voice request. Maps to HTTP 400.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// DisabledError reports that voice is switched off or unconfigured.
// Maps to HTTP 503.
type DisabledError struct {
	Message string
}

func (e *DisabledError) Error() string { return e.Message }

// UpstreamError reports a non-2xx ElevenLabs response. Maps to HTTP 502.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("ElevenLabs returned status %d: %s", e.Status, e.Message)
}

// Client is a minimal ElevenLabs API client covering the two speech
// endpoints the service proxies.
type Client struct {
	cfg        config.VoiceConfig
	baseURL    string
	httpClient *http.Client
}

// NewClient builds an ElevenLabs client. An empty baseURL uses the public
// API endpoint.
func NewClient(cfg config.VoiceConfig, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether the proxy can serve requests at all.
func (c *Client) Enabled() bool { return c.cfg.Enabled && c.cfg.APIKey != "" }

func (c *Client) ready() error {
	if !c.cfg.Enabled {
		return &DisabledError{Message: "Voice endpoints are disabled by configuration (VOICE_ENABLED=false)."}
	}
	if c.cfg.APIKey == "" {
		return &DisabledError{Message: "Voice endpoints are unavailable because ELEVENLABS_API_KEY is not configured."}
	}
	return nil
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe sends one audio upload to speech-to-text and returns the
// recognized text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	if len(audio) == 0 {
		return "", &ValidationError{Message: "Audio file is empty."}
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedAudioExts[ext] {
		return "", &ValidationError{Message: "Unsupported audio file type. Use webm, mp4, mp3, wav, ogg, or m4a."}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("model_id", c.cfg.STTModel); err != nil {
		return "", fmt.Errorf("failed to build transcription request: %w", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build transcription request: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to build transcription request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to build transcription request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/speech-to-text", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create transcription request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	data, err := c.send(req)
	if err != nil {
		return "", err
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", &UpstreamError{Status: http.StatusOK, Message: "unparseable transcription response"}
	}
	logging.Voice("Transcribed %d audio bytes into %d chars", len(audio), len(parsed.Text))
	return parsed.Text, nil
}

type synthesisRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Speak synthesizes text into MP3 audio.
func (c *Client) Speak(ctx context.Context, text string) ([]byte, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &ValidationError{Message: "Text is required."}
	}
	if len([]rune(text)) > MaxTTSChars {
		return nil, &ValidationError{Message: fmt.Sprintf("Text exceeds the %d character limit.", MaxTTSChars)}
	}
	if c.cfg.VoiceID == "" {
		return nil, &DisabledError{Message: "Voice synthesis is unavailable because ELEVENLABS_VOICE_ID is not configured."}
	}

	payload, err := json.Marshal(synthesisRequest{Text: text, ModelID: c.cfg.TTSModel})
	if err != nil {
		return nil, fmt.Errorf("failed to build synthesis request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", c.baseURL, c.cfg.VoiceID, outputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	audio, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, &UpstreamError{Status: http.StatusOK, Message: "empty audio response"}
	}
	logging.Voice("Synthesized %d chars into %d audio bytes", len([]rune(text)), len(audio))
	return audio, nil
}

// send runs one request and returns the body, turning any non-2xx status
// into an UpstreamError carrying a trimmed body excerpt.
func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Status: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Status: resp.StatusCode, Message: "failed to read response body"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt := strings.TrimSpace(string(data))
		if len(excerpt) > 240 {
			excerpt = excerpt[:240]
		}
		logging.Get(logging.CategoryVoice).Error("Upstream call failed: %s %s -> %d", req.Method, req.URL.Path, resp.StatusCode)
		return nil, &UpstreamError{Status: resp.StatusCode, Message: excerpt}
	}
	return data, nil
}
