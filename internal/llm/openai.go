package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	apperrors "github.com/stegline/core/internal/errors"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient completes prompts with the OpenAI chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client for the public OpenAI endpoint.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: openai api key is required", apperrors.ErrValidation)
	}
	return NewOpenAIClientWithConfig(openai.DefaultConfig(apiKey)), nil
}

// NewOpenAIClientWithConfig creates a client from a full SDK config.
func NewOpenAIClientWithConfig(cfg openai.ClientConfig) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  defaultOpenAIModel,
	}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return string(ProviderOpenAI)
}

// Complete sends p as a system and a user message.
func (c *OpenAIClient) Complete(ctx context.Context, p Prompt) (*Completion, error) {
	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, c.request(p))
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return &Completion{Model: resp.Model, Latency: time.Since(start)}, nil
	}

	choice := resp.Choices[0]
	return &Completion{
		Text:      choice.Message.Content,
		Model:     resp.Model,
		TokensOut: resp.Usage.CompletionTokens,
		Truncated: choice.FinishReason == openai.FinishReasonLength,
		Latency:   time.Since(start),
	}, nil
}

func (c *OpenAIClient) request(p Prompt) openai.ChatCompletionRequest {
	var messages []openai.ChatCompletionMessage
	if p.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: p.User})

	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   p.maxTokens(),
		Temperature: float32(p.Temperature),
	}
}
