// Package anthropic adapts the Anthropic Messages API to the
// core.ModelBackend contract used by the pipeline's junior and senior
// stages.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/arkestra-ai/arkestra/core"
)

// Options configure the Anthropic backend. Temperature and MaxTokens act as
// defaults; a PromptRequest carrying its own values wins.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Backend wraps the Anthropic Messages API behind core.ModelBackend.
type Backend struct {
	client *anthropic.Client
	opts   Options
}

// New creates a backend, reading the API key from the environment unless
// provided via options.
func New(optFns ...func(o *Options)) *Backend {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Backend{client: &client, opts: opts}
}

// NewFromClient creates a backend from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Backend {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
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

	params := anthropic.MessageNewParams{
		Model:       b.opts.Model,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temp),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return "", &core.ModelInvocationError{Role: req.Role, Err: fmt.Errorf("anthropic api error: %w", err)}
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return sb.String(), nil
}
