package llm

import (
	"context"
	"errors"
	"fmt"

	apperrors "codeberg.org/lessonforge/server/internal/errors"
)

// combines a StructuredGenerator and an ImageGenerator into a single Generator
type CompositeGenerator struct {
	StructuredGenerator
	ImageGenerator

	closers []func() error
}

// releases provider clients
func (c *CompositeGenerator) Close() error {
	var errs []error
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// creates a new Generator with explicit configuration
func NewGenerator(ctx context.Context, config *Config) (*CompositeGenerator, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	composite := &CompositeGenerator{}

	// images always come from gemini; without a key they are reported unavailable
	var gemini *GeminiGenerator
	if config.GeminiAPIKey != "" {
		g, err := NewGeminiGenerator(ctx, GeminiConfig{
			APIKey:      config.GeminiAPIKey,
			MaxTokens:   config.MaxTokens,
			Temperature: config.Temperature,
			Retry:       config.Retry,
		})
		if err != nil {
			return nil, err
		}

		gemini = g
		composite.ImageGenerator = g
		composite.closers = append(composite.closers, g.Close)
	} else {
		composite.ImageGenerator = unavailableImages{}
	}

	switch config.TextProvider {
	case ProviderGemini, "":
		if gemini == nil {
			return nil, fmt.Errorf("gemini text provider requires GEMINI_API_KEY")
		}
		composite.StructuredGenerator = gemini
	case ProviderAnthropic:
		composite.StructuredGenerator = NewAnthropicGenerator(AnthropicConfig{
			APIKey:      config.AnthropicAPIKey,
			Model:       config.AnthropicModel,
			MaxTokens:   config.MaxTokens,
			Temperature: config.Temperature,
			Retry:       config.Retry,
		})
	default:
		return nil, fmt.Errorf("unsupported text provider: %s", config.TextProvider)
	}

	return composite, nil
}

type unavailableImages struct{}

func (unavailableImages) GenerateImage(context.Context, ImageRequest) (*ImageResponse, error) {
	return nil, &apperrors.ProviderError{
		Provider: string(ProviderGemini),
		Terminal: true,
		Err:      fmt.Errorf("image generation requires GEMINI_API_KEY"),
	}
}
