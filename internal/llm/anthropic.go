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

	apperrors "codeberg.org/lessonforge/server/internal/errors"
	"golang.org/x/time/rate"
)

const (
	anthropicMessagesURL = "https://api.anthropic.com/v1/messages"
	anthropicVersion     = "2023-06-01"
	defaultMaxTokens     = 8192
	defaultTemperature   = 0.3
)

// shared HTTP client for Anthropic API calls
var anthropicHTTPClient = &http.Client{
	Timeout: 120 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// rate limiter for Anthropic API calls (50 requests/second with burst capacity of 10)
var anthropicRateLimiter = rate.NewLimiter(50, 10)

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature float32   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID         string    `json:"id"`
	Content    []content `json:"content"`
	Model      string    `json:"model"`
	StopReason string    `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type AnthropicConfig struct {
	APIKey      string
	Model       string // used when a request names no claude model
	MaxTokens   int
	Temperature float32 // 0.0 to 1.0
	Retry       RetryPolicy

	// test hooks
	BaseURL    string
	HTTPClient *http.Client
}

// structured generation over the Anthropic messages API; the schema travels
// in the system prompt since the API has no JSON response mode
type AnthropicGenerator struct {
	config     AnthropicConfig
	httpClient *http.Client
}

func NewAnthropicGenerator(config AnthropicConfig) *AnthropicGenerator {
	if config.MaxTokens == 0 {
		config.MaxTokens = defaultMaxTokens
	}

	if config.Temperature == 0 {
		config.Temperature = defaultTemperature
	}

	if config.BaseURL == "" {
		config.BaseURL = anthropicMessagesURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = anthropicHTTPClient
	}

	return &AnthropicGenerator{
		config:     config,
		httpClient: httpClient,
	}
}

func (a *AnthropicGenerator) Model() string {
	return a.config.Model
}

func (a *AnthropicGenerator) GenerateStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
	return generateStructuredWith(ctx, a.models(req.Models), a.config.Retry, req.OnRetry,
		func(ctx context.Context, model string) (*StructuredResponse, error) {
			out, err := a.complete(ctx, model, req)
			if err != nil {
				return nil, ClassifyError(ProviderAnthropic, model, err)
			}
			return out, nil
		})
}

func generateStructuredWith(ctx context.Context, models []string, policy RetryPolicy, observer RetryObserver, fn func(ctx context.Context, model string) (*StructuredResponse, error)) (*StructuredResponse, error) {
	resp, _, err := WithModelFallback(ctx, models, policy, observer, fn)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// keeps only claude models; the configured model stands in when none remain
func (a *AnthropicGenerator) models(requested []string) []string {
	var out []string
	for _, m := range requested {
		if strings.HasPrefix(m, "claude") {
			out = append(out, m)
		}
	}

	if len(out) == 0 && a.config.Model != "" {
		out = []string{a.config.Model}
	}

	return out
}

func (a *AnthropicGenerator) complete(ctx context.Context, model string, req StructuredRequest) (*StructuredResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = a.config.MaxTokens
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = a.config.Temperature
	}

	system, err := buildStructuredSystemPrompt(req.SystemPrompt, req.Schema)
	if err != nil {
		return nil, err
	}

	reqBody := messagesRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      system,
		Temperature: temperature,
		Messages:    []message{{Role: "user", Content: req.Prompt}},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	// rate limiting
	if err := anthropicRateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, geminiMaxErrorLength)) //nolint:errcheck
		return nil, &statusError{Status: resp.StatusCode, Body: string(body)}
	}

	var apiResp messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if apiResp.StopReason == "refusal" {
		return nil, fmt.Errorf("%w: model refused", apperrors.ErrContentBlocked)
	}

	var text strings.Builder
	for _, c := range apiResp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}

	payload := stripCodeFences(text.String())
	if payload == "" {
		return nil, fmt.Errorf("no content in response")
	}

	if !json.Valid([]byte(payload)) {
		return nil, fmt.Errorf("response is not valid JSON")
	}

	return &StructuredResponse{JSON: []byte(payload), Model: model}, nil
}

func buildStructuredSystemPrompt(system string, schema *Schema) (string, error) {
	var b strings.Builder

	if system != "" {
		b.WriteString(system)
		b.WriteString("\n\n")
	}

	b.WriteString("Respond with a single JSON value and nothing else. No markdown, no explanations.")

	if schema != nil {
		raw, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal schema: %w", err)
		}

		b.WriteString("\nThe JSON must match this schema:\n")
		b.Write(raw)
	}

	return b.String(), nil
}
