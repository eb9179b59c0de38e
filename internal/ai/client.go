// Package ai wraps the external completion provider behind a narrow
// interface so the worker and its tests never depend on a concrete SDK.
package ai

import (
	"context"
	"errors"
)

// ErrProvider marks failures returned by the completion provider itself,
// as opposed to timeouts imposed by the caller.
var ErrProvider = errors.New("completion provider error")

type Message struct {
	Role    string
	Content string
}

type CompletionRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float32
}

type CompletionResponse struct {
	Content   string
	TokensIn  int64
	TokensOut int64
}

func (r CompletionResponse) TokensTotal() int64 {
	return r.TokensIn + r.TokensOut
}

type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
