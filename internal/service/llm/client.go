package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/antlaw0/AI-DM-v2/internal/config"
)

// Completer issues one completion request per call. Implementations must not
// retry: a generative call is not idempotent, and replaying it can fork the
// narrative.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// TransportError reports a failed completion exchange: unreachable backend,
// non-success status, or timeout.
type TransportError struct {
	Cause string
	Err   error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("completion transport: %s: %v", e.Cause, e.Err)
	}
	return fmt.Sprintf("completion transport: %s", e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client talks to a llama-server style completion endpoint.
type Client struct {
	serverURL   string
	httpClient  *http.Client
	timeout     time.Duration
	temperature float64
	maxPredict  int
	log         *zap.Logger
}

var _ Completer = (*Client)(nil)

// NewClient builds a completion client from configuration.
func NewClient(cfg config.LLMConfig, log *zap.Logger) *Client {
	return &Client{
		serverURL:   cfg.ServerURL,
		httpClient:  &http.Client{},
		timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		temperature: cfg.Temperature,
		maxPredict:  cfg.MaxPredict,
		log:         log,
	}
}

type completionRequest struct {
	Prompt      string   `json:"prompt"`
	Temperature float64  `json:"temperature"`
	NPredict    int      `json:"n_predict"`
	Stop        []string `json:"stop"`
	Stream      bool     `json:"stream"`
}

// The backend answers with either key depending on build.
type completionResponse struct {
	Response string `json:"response"`
	Content  string `json:"content"`
}

// Complete sends exactly one completion request bounded by the configured
// timeout. Every failure mode comes back as a *TransportError.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(completionRequest{
		Prompt:      prompt,
		Temperature: c.temperature,
		NPredict:    c.maxPredict,
		Stop:        StopMarkers,
		Stream:      false,
	})
	if err != nil {
		return "", &TransportError{Cause: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL, bytes.NewReader(payload))
	if err != nil {
		return "", &TransportError{Cause: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", &TransportError{Cause: fmt.Sprintf("timed out after %s", c.timeout), Err: err}
		}
		return "", &TransportError{Cause: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Cause: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &TransportError{Cause: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	var decoded completionResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", &TransportError{Cause: "decode response", Err: err}
	}

	text := decoded.Response
	if text == "" {
		text = decoded.Content
	}

	c.log.Debug("completion finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("promptLen", len(prompt)),
		zap.Int("responseLen", len(text)),
	)
	return strings.TrimSpace(text), nil
}
