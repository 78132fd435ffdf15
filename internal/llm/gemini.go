package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"claimsapi/internal/config"
)

var completionCalls = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "model_completion_calls_total",
		Help: "Total completion calls to the generative model, by outcome.",
	},
	[]string{"outcome"},
)

// GeminiClient implements Completer against the Gemini generateContent REST
// endpoint. It is safe for concurrent use by multiple requests.
type GeminiClient struct {
	cfg        config.GeminiConfig
	httpClient *http.Client
	log        *slog.Logger
}

// NewGeminiClient builds a client from configuration. The HTTP transport is
// wrapped with otelhttp so outbound model calls join the request trace.
func NewGeminiClient(cfg config.GeminiConfig, log *slog.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-pro"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &GeminiClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: log,
	}, nil
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one prompt and returns the first candidate's text. HTTP 429
// and RESOURCE_EXHAUSTED responses map to ErrRateLimited so the retry layer
// can tell them apart from fatal failures.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		completionCalls.WithLabelValues("transport_error").Inc()
		return "", fmt.Errorf("gemini http error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		completionCalls.WithLabelValues("transport_error").Inc()
		return "", fmt.Errorf("read gemini response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		completionCalls.WithLabelValues("rate_limited").Inc()
		c.log.Warn("gemini rate limited",
			"status", resp.StatusCode,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", fmt.Errorf("gemini status %d: %w", resp.StatusCode, ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		completionCalls.WithLabelValues("error").Inc()
		return "", fmt.Errorf("gemini status %d: %s", resp.StatusCode, truncateBody(raw))
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		completionCalls.WithLabelValues("error").Inc()
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	if out.Error != nil {
		if out.Error.Status == "RESOURCE_EXHAUSTED" {
			completionCalls.WithLabelValues("rate_limited").Inc()
			return "", fmt.Errorf("gemini %s: %w", out.Error.Status, ErrRateLimited)
		}
		completionCalls.WithLabelValues("error").Inc()
		return "", fmt.Errorf("gemini error %s: %s", out.Error.Status, out.Error.Message)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		completionCalls.WithLabelValues("empty").Inc()
		return "", fmt.Errorf("no candidates in gemini response")
	}

	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}

	completionCalls.WithLabelValues("ok").Inc()
	c.log.Debug("gemini completion ok",
		"model", c.cfg.Model,
		"prompt_len", len(prompt),
		"response_len", sb.Len(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return sb.String(), nil
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
