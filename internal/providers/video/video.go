package video

import (
	"context"

	"atelier/internal/providers/genai"
)

// SubmitRequest describes a normalized request passed to any video provider.
type SubmitRequest struct {
	Prompt          string
	Negative        []string
	AspectRatio     string
	DurationSeconds int
	FPS             int
	RequestID       string
}

// Job is the opaque handle for an in-flight video generation.
type Job struct {
	handle genai.VideoJob
}

// Asset represents a produced video.
type Asset struct {
	Data   []byte
	Format string
	Length int
	URL    string
}

// PollResult reports one status check. Asset is non-nil only when Done.
type PollResult struct {
	Done  bool
	Asset *Asset
}

// Generator is the contract implemented by all video producers: submit once,
// then poll until done.
type Generator interface {
	Submit(ctx context.Context, req SubmitRequest) (Job, error)
	Poll(ctx context.Context, job Job) (*PollResult, error)
}

// GeminiGenerator produces videos through the shared Gemini client's
// long-running operation API.
type GeminiGenerator struct {
	client *genai.Client
}

// NewGeminiGenerator wraps client as a video Generator.
func NewGeminiGenerator(client *genai.Client) *GeminiGenerator {
	return &GeminiGenerator{client: client}
}

func (g *GeminiGenerator) Submit(ctx context.Context, req SubmitRequest) (Job, error) {
	handle, err := g.client.StartVideo(ctx, genai.VideoRequest{
		Prompt:          req.Prompt,
		Negative:        req.Negative,
		AspectRatio:     req.AspectRatio,
		DurationSeconds: req.DurationSeconds,
		FPS:             req.FPS,
		RequestID:       req.RequestID,
	})
	if err != nil {
		return Job{}, err
	}
	return Job{handle: handle}, nil
}

func (g *GeminiGenerator) Poll(ctx context.Context, job Job) (*PollResult, error) {
	poll, err := g.client.PollVideo(ctx, job.handle)
	if err != nil {
		return nil, err
	}
	if !poll.Done {
		return &PollResult{Done: false}, nil
	}
	return &PollResult{
		Done: true,
		Asset: &Asset{
			Data:   poll.Data,
			Format: poll.Format,
			Length: poll.Length,
			URL:    poll.URL,
		},
	}, nil
}

var _ Generator = (*GeminiGenerator)(nil)
