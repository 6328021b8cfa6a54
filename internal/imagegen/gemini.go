package imagegen

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

// Gemini produces images with a Gemini image model.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// GeminiConfig configures a Gemini producer.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// NewGemini creates a Gemini producer. Without an API key the producer
// reports a miss for every entity.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*Gemini, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	g := &Gemini{model: cfg.Model, timeout: cfg.Timeout, logger: logger}
	if cfg.APIKey == "" {
		return g, nil
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g.client = client
	return g, nil
}

// Produce asks the model for an image and stores the first inline image part.
func (g *Gemini) Produce(ctx context.Context, entity, prompt, dir, prefix string) (string, bool) {
	if g.client == nil {
		g.logger.Debug("No Gemini API key, skipping", "entity", entity)
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		g.logger.Warn("Gemini generation failed", "entity", entity, "error", err)
		return "", false
	}

	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			name, err := writeImage(dir, prefix, part.InlineData.Data)
			if err != nil {
				g.logger.Error("Failed to store generated image", "entity", entity, "error", err)
				return "", false
			}
			g.logger.Info("Image generated", "entity", entity, "file", name, "bytes", len(part.InlineData.Data))
			return name, true
		}
	}

	g.logger.Warn("No image data in Gemini response", "entity", entity)
	return "", false
}
