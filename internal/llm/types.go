package llm

import (
	"context"
	"time"
)

// represents different LLM providers
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderAnthropic Provider = "anthropic"
)

// produces JSON matching a schema
type StructuredGenerator interface {
	GenerateStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error)
}

// produces slide images from a prompt
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResponse, error)
}

// the generation collaborator the orchestrator talks to
type Generator interface {
	StructuredGenerator
	ImageGenerator
}

type StructuredRequest struct {
	Prompt       string
	SystemPrompt string
	Schema       *Schema
	Models       []string // primary first, then fallbacks
	Temperature  float32
	MaxTokens    int
	OnRetry      RetryObserver // optional
}

type StructuredResponse struct {
	JSON             []byte
	GroundingSources []string
	Model            string // the model that answered
}

type ImageRequest struct {
	Prompt      string
	Style       string // style directives appended to the prompt
	AspectRatio string // e.g. "16:9"
	Models      []string
	OnRetry     RetryObserver
}

// exactly one of Data, BlockReason and Text is meaningful
type ImageResponse struct {
	Data        []byte
	MIMEType    string
	BlockReason string // provider refused the prompt
	Text        string // model answered with prose instead of an image
	Model       string
}

// called before each suspended retry
type RetryObserver func(event RetryEvent)

type RetryEvent struct {
	Model   string
	Attempt int // the attempt that just failed, from 1
	Delay   time.Duration
	Err     error
}

// JSON schema subset understood by every provider
type SchemaType string

const (
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
	TypeString  SchemaType = "string"
	TypeInteger SchemaType = "integer"
	TypeNumber  SchemaType = "number"
	TypeBoolean SchemaType = "boolean"
)

type Schema struct {
	Type        SchemaType         `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
}

// holds configuration for generator initialization
type Config struct {
	// structured text provider; images always go to gemini
	TextProvider    Provider
	GeminiAPIKey    string
	AnthropicAPIKey string
	AnthropicModel  string // used when TextProvider is anthropic and a request names no claude model

	// optional parameters
	MaxTokens   int
	Temperature float32
	Retry       RetryPolicy
}
