package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "codeberg.org/lessonforge/server/internal/errors"
	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

const (
	geminiBaseURL        = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultTemp    = 0.4
	geminiDefaultTokens  = 8192
	geminiDefaultAspect  = "16:9"
	geminiMaxImageBytes  = 20 << 20
	geminiMaxErrorLength = 512
)

// shared HTTP client for Gemini REST calls (image generation)
var geminiHTTPClient = &http.Client{
	Timeout: 90 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// rate limiter for Gemini API calls (10 requests/second with burst capacity of 5)
var geminiRateLimiter = rate.NewLimiter(10, 5)

type GeminiConfig struct {
	APIKey      string
	BaseURL     string // REST endpoint for image generation
	MaxTokens   int
	Temperature float32
	Retry       RetryPolicy
	HTTPClient  *http.Client
}

// one structured call against one model
type contentFunc func(ctx context.Context, model string, req StructuredRequest) (*genai.GenerateContentResponse, error)

// generates structured JSON through the genai SDK and images through REST
type GeminiGenerator struct {
	config     GeminiConfig
	client     *genai.Client
	httpClient *http.Client
	limiter    *rate.Limiter
	generate   contentFunc
}

func NewGeminiGenerator(ctx context.Context, config GeminiConfig) (*GeminiGenerator, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is empty")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(strings.TrimSpace(config.APIKey)))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	g := newGeminiGenerator(config)
	g.client = client
	g.generate = g.generateContent

	return g, nil
}

func newGeminiGenerator(config GeminiConfig) *GeminiGenerator {
	if config.BaseURL == "" {
		config.BaseURL = geminiBaseURL
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = geminiDefaultTokens
	}
	if config.Temperature == 0 {
		config.Temperature = geminiDefaultTemp
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = geminiHTTPClient
	}

	return &GeminiGenerator{
		config:     config,
		httpClient: httpClient,
		limiter:    geminiRateLimiter,
	}
}

func (g *GeminiGenerator) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *GeminiGenerator) GenerateStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
	resp, _, err := WithModelFallback(ctx, req.Models, g.config.Retry, req.OnRetry,
		func(ctx context.Context, model string) (*StructuredResponse, error) {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter error: %w", err)
			}

			raw, err := g.generate(ctx, model, req)
			if err != nil {
				var blocked *genai.BlockedError
				if errors.As(err, &blocked) {
					return nil, fmt.Errorf("%w: %v", apperrors.ErrContentBlocked, blocked)
				}
				return nil, ClassifyError(ProviderGemini, model, err)
			}

			out, err := structuredFromResponse(raw)
			if err != nil {
				return nil, ClassifyError(ProviderGemini, model, err)
			}

			out.Model = model
			return out, nil
		})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (g *GeminiGenerator) generateContent(ctx context.Context, model string, req StructuredRequest) (*genai.GenerateContentResponse, error) {
	m := g.client.GenerativeModel(model)

	temperature := req.Temperature
	if temperature == 0 {
		temperature = g.config.Temperature
	}

	maxTokens := int32(g.config.MaxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int32(req.MaxTokens)
	}

	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      &temperature,
		MaxOutputTokens:  &maxTokens,
		ResponseMIMEType: "application/json",
		ResponseSchema:   toGenaiSchema(req.Schema),
	}

	if req.SystemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.SystemPrompt)},
		}
	}

	return m.GenerateContent(ctx, genai.Text(req.Prompt))
}

// maps a genai reply to our response; safety blocks become ErrContentBlocked
func structuredFromResponse(resp *genai.GenerateContentResponse) (*StructuredResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrContentBlocked, resp.PromptFeedback.BlockReason)
		}
		return nil, fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, fmt.Errorf("%w: finish reason %v", apperrors.ErrContentBlocked, candidate.FinishReason)
	}

	var text strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}

	payload := stripCodeFences(text.String())
	if payload == "" {
		return nil, fmt.Errorf("empty response")
	}

	if !json.Valid([]byte(payload)) {
		return nil, fmt.Errorf("response is not valid JSON")
	}

	return &StructuredResponse{
		JSON:             []byte(payload),
		GroundingSources: citationURIs(candidate),
	}, nil
}

// collects cited source URIs through the JSON form of the citation metadata
func citationURIs(c *genai.Candidate) []string {
	if c == nil || c.CitationMetadata == nil {
		return nil
	}

	raw, err := json.Marshal(c.CitationMetadata)
	if err != nil {
		return nil
	}

	var meta struct {
		CitationSources []struct {
			URI string
		}
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	for _, s := range meta.CitationSources {
		if s.URI == "" {
			continue
		}
		if _, dup := seen[s.URI]; dup {
			continue
		}
		seen[s.URI] = struct{}{}
		out = append(out, s.URI)
	}

	return out
}

func toGenaiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}

	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
		Items:       toGenaiSchema(s.Items),
	}

	switch s.Type {
	case TypeObject:
		out.Type = genai.TypeObject
	case TypeArray:
		out.Type = genai.TypeArray
	case TypeInteger:
		out.Type = genai.TypeInteger
	case TypeNumber:
		out.Type = genai.TypeNumber
	case TypeBoolean:
		out.Type = genai.TypeBoolean
	default:
		out.Type = genai.TypeString
	}

	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenaiSchema(prop)
		}
	}

	return out
}

type geminiImageRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string           `json:"responseModalities"`
	ImageConfig        *geminiImageConfig `json:"imageConfig,omitempty"`
}

type geminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type geminiImageResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// marks a model that answered in prose; lets the chain move on
var errNoImage = errors.New("model returned no image")

func (g *GeminiGenerator) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResponse, error) {
	var lastText string

	resp, _, err := WithModelFallback(ctx, req.Models, g.config.Retry, req.OnRetry,
		func(ctx context.Context, model string) (*ImageResponse, error) {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter error: %w", err)
			}

			out, err := g.generateImage(ctx, model, req)
			if err != nil {
				if errors.Is(err, errNoImage) && out != nil {
					lastText = out.Text
				}
				return out, ClassifyError(ProviderGemini, model, err)
			}

			return out, nil
		})
	if err != nil {
		var blocked *blockedImageError
		if errors.As(err, &blocked) {
			return &ImageResponse{BlockReason: blocked.reason, Model: blocked.model}, err
		}
		if lastText != "" {
			return &ImageResponse{Text: lastText}, err
		}
		return nil, err
	}

	return resp, nil
}

// carries the provider's block reason alongside ErrContentBlocked
type blockedImageError struct {
	model  string
	reason string
}

func (e *blockedImageError) Error() string {
	return fmt.Sprintf("%v: %s", apperrors.ErrContentBlocked, e.reason)
}

func (e *blockedImageError) Unwrap() error {
	return apperrors.ErrContentBlocked
}

func (g *GeminiGenerator) generateImage(ctx context.Context, model string, req ImageRequest) (*ImageResponse, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if style := strings.TrimSpace(req.Style); style != "" {
		prompt += "\n\nStyle: " + style
	}

	aspect := req.AspectRatio
	if aspect == "" {
		aspect = geminiDefaultAspect
	}

	body := geminiImageRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
			ImageConfig:        &geminiImageConfig{AspectRatio: aspect},
		},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(g.config.BaseURL, "/"), url.PathEscape(model))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.config.APIKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, geminiMaxErrorLength)) //nolint:errcheck
		return nil, &statusError{Status: resp.StatusCode, Body: string(raw)}
	}

	var apiResp geminiImageResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, geminiMaxImageBytes)).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if reason := apiResp.PromptFeedback.BlockReason; reason != "" {
		return nil, &blockedImageError{model: model, reason: reason}
	}

	var text strings.Builder
	for _, c := range apiResp.Candidates {
		switch c.FinishReason {
		case "SAFETY", "IMAGE_SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST", "IMAGE_PROHIBITED_CONTENT":
			return nil, &blockedImageError{model: model, reason: c.FinishReason}
		}

		for _, part := range c.Content.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, fmt.Errorf("failed to decode image data: %w", err)
				}

				return &ImageResponse{
					Data:     data,
					MIMEType: part.InlineData.MIMEType,
					Model:    model,
				}, nil
			}

			text.WriteString(part.Text)
		}
	}

	return &ImageResponse{Text: strings.TrimSpace(text.String()), Model: model}, errNoImage
}

// removes a surrounding ```json fence some models add despite the MIME type
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}

	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
