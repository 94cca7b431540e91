// Package gemini implements a REST client for the Gemini generateContent
// API: plain text generation, schema-constrained JSON generation, and
// search-grounded generation with grounding metadata.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Config holds configuration for the client.
type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:     apiKey,
		BaseURL:    defaultBaseURL,
		Timeout:    120 * time.Second,
		MaxRetries: 3,
	}
}

// Client calls the Gemini REST API. Safe for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	maxRetries int
	httpClient *http.Client
	logger     *zap.Logger

	mu          sync.Mutex
	lastRequest time.Time
}

// NewClient creates a client with the given config.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// GenerateText sends a plain prompt and returns the generated text.
func (c *Client) GenerateText(ctx context.Context, model, prompt string, temperature float64) (string, error) {
	req := Request{
		Contents:         []Content{{Role: "user", Parts: []Part{{Text: prompt}}}},
		GenerationConfig: GenerationConfig{Temperature: &temperature},
	}
	resp, err := c.doGenerate(ctx, model, req)
	if err != nil {
		return "", err
	}
	return candidateText(resp), nil
}

// GenerateStructured sends a prompt constrained to a JSON schema and
// returns the raw JSON text. Decoding into a Go value is the caller's
// concern so that schema violations can be handled per component.
func (c *Client) GenerateStructured(ctx context.Context, model, prompt string, schema map[string]interface{}, temperature float64) (string, error) {
	req := Request{
		Contents: []Content{{Role: "user", Parts: []Part{{Text: prompt}}}},
		GenerationConfig: GenerationConfig{
			Temperature:      &temperature,
			ResponseMimeType: "application/json",
			ResponseSchema:   schema,
		},
	}
	resp, err := c.doGenerate(ctx, model, req)
	if err != nil {
		return "", err
	}
	return candidateText(resp), nil
}

// GenerateWithSearch sends a prompt with the google_search tool enabled and
// returns the generated text plus flattened grounding metadata.
func (c *Client) GenerateWithSearch(ctx context.Context, model, prompt string, temperature float64) (*SearchResponse, error) {
	req := Request{
		Contents:         []Content{{Role: "user", Parts: []Part{{Text: prompt}}}},
		GenerationConfig: GenerationConfig{Temperature: &temperature},
		Tools:            []Tool{{GoogleSearch: &GoogleSearch{}}},
	}
	resp, err := c.doGenerate(ctx, model, req)
	if err != nil {
		return nil, err
	}

	// Support offsets index into the raw candidate text, so it must not
	// be trimmed or otherwise reshaped here.
	out := &SearchResponse{Text: joinParts(resp)}
	if len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return out, nil
	}

	gm := resp.Candidates[0].GroundingMetadata
	for _, chunk := range gm.GroundingChunks {
		if chunk.Web == nil {
			// Non-web chunks keep their index so support indices stay aligned.
			out.Chunks = append(out.Chunks, WebChunk{})
			continue
		}
		out.Chunks = append(out.Chunks, *chunk.Web)
	}
	for _, support := range gm.GroundingSupports {
		out.Supports = append(out.Supports, SupportSpan{
			StartIndex:   support.Segment.StartIndex,
			EndIndex:     support.Segment.EndIndex,
			ChunkIndices: support.GroundingChunkIndices,
		})
	}

	c.logger.Debug("search-grounded call completed",
		zap.String("model", model),
		zap.Int("chunks", len(out.Chunks)),
		zap.Int("supports", len(out.Supports)),
		zap.Strings("search_queries", gm.WebSearchQueries))
	return out, nil
}

// doGenerate posts one generateContent request with retry on transient
// failures (429, 5xx, transport errors). Non-transient API errors return
// immediately.
func (c *Client) doGenerate(ctx context.Context, model string, reqBody Request) (*Response, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("gemini: API key not configured")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	c.throttle()

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	startTime := time.Now()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			c.logger.Debug("retrying generateContent",
				zap.String("model", model),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("gemini: failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("gemini: request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		var out Response
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("gemini: failed to parse response: %w", err)
		}
		if out.Error != nil {
			return nil, fmt.Errorf("gemini: API error %d: %s", out.Error.Code, out.Error.Message)
		}
		if len(out.Candidates) == 0 {
			return nil, fmt.Errorf("gemini: no candidates returned")
		}

		c.logger.Debug("generateContent completed",
			zap.String("model", model),
			zap.Duration("elapsed", time.Since(startTime)),
			zap.Int("attempts", attempt+1))
		return &out, nil
	}

	return nil, fmt.Errorf("gemini: max retries exceeded: %w", lastErr)
}

// throttle enforces minimum spacing between outbound requests.
func (c *Client) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elapsed := time.Since(c.lastRequest); elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
}

func candidateText(resp *Response) string {
	return strings.TrimSpace(joinParts(resp))
}

func joinParts(resp *Response) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}
