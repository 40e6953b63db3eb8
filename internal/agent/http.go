package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/weclaw/internal/bus"
	"github.com/nextlevelbuilder/weclaw/internal/config"
)

const defaultDispatchTimeoutSeconds = 120

// HTTPDispatcher forwards envelopes to the agent-dispatch endpoint. The
// endpoint streams replies back as newline-delimited JSON payloads, each of
// which is handed to deliver as it arrives.
type HTTPDispatcher struct {
	cfg    config.AgentConfig
	client *http.Client
}

// NewHTTPDispatcher creates a dispatcher for the configured endpoint.
func NewHTTPDispatcher(cfg config.AgentConfig) *HTTPDispatcher {
	return &HTTPDispatcher{cfg: cfg, client: &http.Client{}}
}

// Dispatch posts the envelope and streams payloads to deliver until the
// response body ends.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, env Envelope, deliver bus.DeliverFunc) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("agent: marshal envelope: %w", err)
	}

	timeoutSec := d.cfg.TimeoutSeconds
	if timeoutSec <= 0 {
		timeoutSec = defaultDispatchTimeoutSeconds
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("agent: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("agent: dispatch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent: dispatch returned %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var payload bus.OutboundPayload
		if err := json.Unmarshal(line, &payload); err != nil {
			slog.Warn("agent: malformed reply payload skipped",
				"session", env.SessionKey, "error", err)
			continue
		}
		deliver(payload)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("agent: read reply stream: %w", err)
	}
	return nil
}

// NoopDispatcher accepts envelopes and produces no replies. Used when no
// agent endpoint is configured so the adapter still ingests and records
// messages.
type NoopDispatcher struct{}

func (NoopDispatcher) Dispatch(ctx context.Context, env Envelope, deliver bus.DeliverFunc) error {
	slog.Debug("agent: no endpoint configured, envelope dropped",
		"session", env.SessionKey)
	return nil
}
