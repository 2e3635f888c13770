package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/abelbrown/recall/internal/logging"
)

// Compile-time interface satisfaction check
var _ Provider = (*HTTPProvider)(nil)

// maxResponseBytes caps how much of a provider response is read.
const maxResponseBytes = 4 << 20

// ProviderConfig defines how to communicate with an LLM API
type ProviderConfig struct {
	Name         string
	Endpoint     string
	APIKey       string // Actual API key (resolved from config/env)
	Model        string
	AuthHeader   string            // "x-api-key" or "Authorization"
	AuthPrefix   string            // "" or "Bearer "
	ExtraHeaders map[string]string // Additional headers (e.g., anthropic-version)
	NoAuth       bool              // Local providers (Ollama) need no key

	// Request building
	BuildBody func(cfg *ProviderConfig, req Request) map[string]any

	// Response parsing
	ParseResponse func(body []byte) (content, model string, err error)
}

// HTTPProvider is a generic HTTP-based LLM provider
type HTTPProvider struct {
	config  *ProviderConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPProvider creates a provider from config. The per-call deadline
// comes from the caller's context; the client timeout is only a backstop.
func NewHTTPProvider(cfg *ProviderConfig) *HTTPProvider {
	return &HTTPProvider{
		config:  cfg,
		client:  &http.Client{Timeout: 120 * time.Second},
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
}

// SetRateLimit bounds outbound requests to perSecond with the given burst.
// perSecond <= 0 removes the limit.
func (p *HTTPProvider) SetRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		p.limiter = rate.NewLimiter(rate.Inf, 1)
		return
	}
	if burst < 1 {
		burst = 1
	}
	p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (p *HTTPProvider) Name() string {
	return p.config.Name
}

func (p *HTTPProvider) Available() bool {
	if p.config.NoAuth {
		return p.config.Model != ""
	}
	return p.config.APIKey != ""
}

func (p *HTTPProvider) Generate(ctx context.Context, req Request) (Response, error) {
	if !p.Available() {
		return Response{}, fmt.Errorf("%s provider not configured", p.config.Name)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("rate limiter: %w", err)
	}

	logging.Debug("HTTP provider request", "provider", p.config.Name, "model", p.config.Model)

	body := p.config.BuildBody(p.config, req)
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}

	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		logging.Warn("API error", "provider", p.config.Name, "status", resp.StatusCode)
		return Response{}, &APIError{Provider: p.config.Name, Status: resp.StatusCode, Body: string(respBody)}
	}

	content, model, err := p.config.ParseResponse(respBody)
	if err != nil {
		return Response{}, fmt.Errorf("parse response: %w", err)
	}

	logging.Debug("API response", "provider", p.config.Name, "model", model, "content_len", len(content))

	return Response{
		Content:     content,
		Model:       model,
		RawResponse: string(respBody),
	}, nil
}

func (p *HTTPProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")

	if p.config.AuthHeader != "" && p.config.APIKey != "" {
		req.Header.Set(p.config.AuthHeader, p.config.AuthPrefix+p.config.APIKey)
	}

	for k, v := range p.config.ExtraHeaders {
		req.Header.Set(k, v)
	}
}
