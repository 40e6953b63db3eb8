// Package voice transcribes inbound voice messages through an HTTP STT
// proxy service.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/nextlevelbuilder/weclaw/internal/config"
)

const (
	// defaultTimeoutSeconds is the default timeout for STT proxy requests.
	defaultTimeoutSeconds = 30

	// transcribeEndpoint is the path appended to the proxy URL.
	transcribeEndpoint = "/transcribe_audio"
)

// Placeholder is substituted for a voice message when transcription is
// disabled or fails.
const Placeholder = "[voice message]"

// sttResponse is the expected JSON response from the STT proxy.
type sttResponse struct {
	Transcript string `json:"transcript"`
}

// Transcriber calls an STT proxy for one account's voice config.
type Transcriber struct {
	cfg config.VoiceConfig
}

// NewTranscriber creates a transcriber from the resolved voice config.
func NewTranscriber(cfg config.VoiceConfig) *Transcriber {
	return &Transcriber{cfg: cfg}
}

// Enabled reports whether transcription is configured and switched on.
func (t *Transcriber) Enabled() bool {
	return t.cfg.Transcribe && t.cfg.ProxyURL != ""
}

// Transcribe uploads the audio file and returns the transcript. It returns
// ("", nil) silently when transcription is disabled or filePath is empty
// (download failed earlier in the pipeline). HTTP and parse errors are
// returned so the caller can log them and fall back to the placeholder.
func (t *Transcriber) Transcribe(ctx context.Context, filePath string) (string, error) {
	if !t.Enabled() {
		return "", nil
	}
	if filePath == "" {
		return "", nil
	}

	timeoutSec := t.cfg.TimeoutSeconds
	if timeoutSec <= 0 {
		timeoutSec = defaultTimeoutSeconds
	}

	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("stt: open audio file %q: %w", filePath, err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	fw, err := w.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return "", fmt.Errorf("stt: create form file field: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", fmt.Errorf("stt: write audio bytes to form: %w", err)
	}
	if t.cfg.Provider != "" {
		if err := w.WriteField("provider", t.cfg.Provider); err != nil {
			return "", fmt.Errorf("stt: write provider field: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("stt: close multipart writer: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	url := t.cfg.ProxyURL + transcribeEndpoint
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("stt: build request to %q: %w", url, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	slog.Debug("calling STT proxy", "url", url, "file", filepath.Base(filePath))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt: request to %q failed: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB cap
	if err != nil {
		return "", fmt.Errorf("stt: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stt: upstream returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result sttResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("stt: parse response JSON: %w", err)
	}
	return result.Transcript, nil
}
