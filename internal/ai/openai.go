package ai

import (
	"context"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

const ProviderOpenAI = "openai"

type OpenAIClient struct {
	client *openai.Client
}

// Make sure we conform to CompletionClient interface
var _ CompletionClient = (*OpenAIClient)(nil)

// NewOpenAIClient builds a client for the OpenAI API or any compatible
// endpoint when baseURL is set.
func NewOpenAIClient(apiKey string, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		// keep the caller's deadline error distinguishable from provider errors
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(ErrProvider, err.Error())
	}

	if len(resp.Choices) == 0 {
		return nil, errors.Wrap(ErrProvider, "empty completion response")
	}

	return &CompletionResponse{
		Content:   resp.Choices[0].Message.Content,
		TokensIn:  int64(resp.Usage.PromptTokens),
		TokensOut: int64(resp.Usage.CompletionTokens),
	}, nil
}
