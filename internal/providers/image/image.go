package image

import (
	"context"

	"atelier/internal/providers/genai"
)

// GenerateRequest describes a normalized request passed to any image provider.
type GenerateRequest struct {
	Prompt      string
	Negative    []string
	AspectRatio string
	Seed        int64
	Guidance    float64
	RequestID   string
}

// Asset represents a produced image.
type Asset struct {
	Data   []byte
	Format string
	Width  int
	Height int
	URL    string
}

// Generator is the contract implemented by all image producers.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Asset, error)
}

// GeminiGenerator produces images through the shared Gemini client.
type GeminiGenerator struct {
	client *genai.Client
}

// NewGeminiGenerator wraps client as an image Generator.
func NewGeminiGenerator(client *genai.Client) *GeminiGenerator {
	return &GeminiGenerator{client: client}
}

func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) (*Asset, error) {
	asset, err := g.client.GenerateImage(ctx, genai.ImageRequest{
		Prompt:      req.Prompt,
		Negative:    req.Negative,
		AspectRatio: req.AspectRatio,
		Seed:        req.Seed,
		Guidance:    req.Guidance,
		RequestID:   req.RequestID,
	})
	if err != nil {
		return nil, err
	}
	return &Asset{
		Data:   asset.Data,
		Format: asset.Format,
		Width:  asset.Width,
		Height: asset.Height,
		URL:    asset.URL,
	}, nil
}

var _ Generator = (*GeminiGenerator)(nil)
