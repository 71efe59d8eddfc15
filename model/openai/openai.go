// Package openai adapts the OpenAI Chat Completions API to the
// core.ModelBackend contract used by the pipeline's junior and senior
// stages.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/arkestra-ai/arkestra/core"
)

// Options configure the OpenAI backend. Temperature and MaxTokens act as
// defaults; a PromptRequest carrying its own values wins.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int64
}

// Backend wraps the OpenAI Chat Completions API behind core.ModelBackend.
type Backend struct {
	client *openai.Client
	opts   Options
}

// New creates a backend using the default client (API key from the
// environment).
func New(optFns ...func(o *Options)) *Backend {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a backend from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Backend {
	opts := Options{
		Model:       openai.ChatModelGPT4oMini,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Backend{client: client, opts: opts}
}

// Invoke implements core.ModelBackend.
func (b *Backend) Invoke(ctx context.Context, req core.PromptRequest) (string, error) {
	temp := b.opts.Temperature
	if req.Temperature > 0 {
		temp = req.Temperature
	}
	maxTokens := b.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               b.opts.Model,
		Temperature:         openai.Float(temp),
		MaxCompletionTokens: openai.Int(maxTokens),
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", &core.ModelInvocationError{Role: req.Role, Err: fmt.Errorf("openai api error: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return "", &core.ModelInvocationError{Role: req.Role, Err: fmt.Errorf("no choices returned")}
	}
	return resp.Choices[0].Message.Content, nil
}
