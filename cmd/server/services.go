package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"codeberg.org/lessonforge/server/internal/config"
	"codeberg.org/lessonforge/server/internal/generation"
	"codeberg.org/lessonforge/server/internal/images"
	"codeberg.org/lessonforge/server/internal/llm"
)

// creates and configures all service clients
func InitializeServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	generator, err := llm.NewGenerator(ctx, &llm.Config{
		TextProvider:    llm.Provider(cfg.GeneratorProvider),
		GeminiAPIKey:    cfg.GeminiAPIKey,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	pipeline := NewImagePipeline(cfg)

	orchestrator := generation.New(generator, pipeline, generation.Config{
		TextModels:  cfg.TextModels,
		ImageModels: cfg.ImageModels,
		Deadline:    cfg.GenerationDeadline,
	})

	return &Services{
		Generator:    generator,
		Images:       pipeline,
		Orchestrator: orchestrator,
	}, nil
}

// builds the search, rank and resolve chain for slide images
func NewImagePipeline(cfg *config.Config) *images.Pipeline {
	client := &http.Client{Timeout: 2 * cfg.ImageSearchTimeout}

	fetcher := images.NewFetcher(images.FetcherConfig{
		HTTPClient:     client,
		Timeout:        cfg.ImageSearchTimeout,
		OpenverseToken: cfg.OpenverseToken,
	})

	resolver := images.NewResolver(images.ResolverConfig{
		ProxyHosts: ProxyHosts(cfg),
		HTTPClient: client,
	})

	return images.NewPipeline(fetcher, images.NewRanker(images.DefaultWeights()), resolver)
}

// default media hosts plus the configured extras
func ProxyHosts(cfg *config.Config) []string {
	hosts := images.DefaultProxyHosts()
	seen := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		seen[h] = struct{}{}
	}

	for _, h := range cfg.ImageProxyHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		hosts = append(hosts, h)
	}

	return hosts
}
