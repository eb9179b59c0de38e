package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/draftforge/draftforge/internal/ai"
	"github.com/draftforge/draftforge/pkg/metrics"
)

const DefaultSectionTimeout = 20 * time.Second

// ErrSectionTimeout marks a section that exceeded its generation deadline.
// The underlying provider call may still be in flight; the deadline context
// makes sure nothing dangles on our side.
var ErrSectionTimeout = errors.New("section_timeout")

// SectionGenerator runs one externally sourced generation step under a hard
// timeout. It never retries; retry policy belongs to the job level.
type SectionGenerator struct {
	client    ai.CompletionClient
	model     string
	maxTokens int
	timeout   time.Duration
}

func NewSectionGenerator(client ai.CompletionClient, model string, maxTokens int, timeout time.Duration) *SectionGenerator {
	if timeout <= 0 {
		timeout = DefaultSectionTimeout
	}
	return &SectionGenerator{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		timeout:   timeout,
	}
}

// Generate runs one completion call. The returned latency covers the call
// whether it succeeded, failed or timed out.
func (g *SectionGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (*ai.CompletionResponse, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.Complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Model:       g.model,
		MaxTokens:   g.maxTokens,
		Temperature: 0.7,
	})
	latency := time.Since(start)
	metrics.ObserveSectionLatencyMetric(latency)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.IncreaseSectionsGeneratedMetric("timeout")
			return nil, latency, fmt.Errorf("%w after %s", ErrSectionTimeout, g.timeout)
		}
		metrics.IncreaseSectionsGeneratedMetric("error")
		return nil, latency, err
	}

	metrics.IncreaseSectionsGeneratedMetric("success")
	return resp, latency, nil
}
