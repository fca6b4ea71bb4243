package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	apperrors "github.com/stegline/core/internal/errors"
)

const defaultAnthropicModel = "claude-3-5-haiku-20241022"

// AnthropicClient completes prompts with the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClient creates a client. opts are passed to the SDK, e.g. to
// point it at another base URL.
func NewAnthropicClient(apiKey string, opts ...option.RequestOption) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: anthropic api key is required", apperrors.ErrValidation)
	}

	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  defaultAnthropicModel,
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return string(ProviderAnthropic)
}

// Complete sends p as a single user turn.
func (c *AnthropicClient) Complete(ctx context.Context, p Prompt) (*Completion, error) {
	start := time.Now()

	resp, err := c.client.Messages.New(ctx, c.params(p))
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			text.WriteString(block.Text)
		}
	}

	return &Completion{
		Text:      text.String(),
		Model:     resp.Model,
		TokensOut: int(resp.Usage.OutputTokens),
		Truncated: string(resp.StopReason) == "max_tokens",
		Latency:   time.Since(start),
	}, nil
}

func (c *AnthropicClient) params(p Prompt) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.F(c.model),
		MaxTokens: anthropic.F(int64(p.maxTokens())),
		Messages: anthropic.F([]anthropic.MessageParam{{
			Role:    anthropic.F(anthropic.MessageParamRoleUser),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{textBlock(p.User)}),
		}}),
	}
	if p.System != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{textBlock(p.System)})
	}
	if p.Temperature > 0 {
		params.Temperature = anthropic.F(p.Temperature)
	}
	return params
}

func textBlock(text string) anthropic.TextBlockParam {
	return anthropic.TextBlockParam{
		Type: anthropic.F(anthropic.TextBlockParamTypeText),
		Text: anthropic.F(text),
	}
}
