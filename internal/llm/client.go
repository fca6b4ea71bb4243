// Package llm generates cover text with a hosted language model.
package llm

import (
	"context"
	"time"
)

const defaultMaxTokens = 1024

// Prompt is a single-turn instruction. System sets the model's voice; User
// carries the request.
type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

func (p Prompt) maxTokens() int {
	if p.MaxTokens <= 0 {
		return defaultMaxTokens
	}
	return p.MaxTokens
}

// Completion is a model reply.
type Completion struct {
	Text      string
	Model     string
	TokensOut int

	// Truncated is set when the reply was cut off at MaxTokens.
	Truncated bool
	Latency   time.Duration
}

// Client is a hosted model provider.
type Client interface {
	Complete(ctx context.Context, p Prompt) (*Completion, error)
	Name() string
}

// Provider names a hosted model vendor.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// FromKeys returns a client for the first configured provider, Anthropic
// before OpenAI. It returns a nil client when no key is set.
func FromKeys(anthropicKey, openAIKey string) (Client, error) {
	switch {
	case anthropicKey != "":
		return NewAnthropicClient(anthropicKey)
	case openAIKey != "":
		return NewOpenAIClient(openAIKey)
	}
	return nil, nil
}
