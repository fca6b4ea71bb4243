package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/stegline/core/internal/errors"
	"github.com/stegline/core/pkg/logger"
)

const (
	minCoverWords  = 60
	wordsPerSecret = 2
	maxTopicLength = 200
	defaultTopic   = "an everyday update to a friend"
)

const coverSystemPrompt = "You write natural, casual plain-text prose. " +
	"Use ordinary punctuation. Never use lists, headings or quotation marks around the text."

// CoverSuggester writes ordinary prose to carry a hidden message. Only the
// topic and the secret length are sent to the provider.
type CoverSuggester struct {
	client Client
	logger *logger.Logger
}

// NewCoverSuggester creates a suggester backed by client.
func NewCoverSuggester(client Client, log *logger.Logger) *CoverSuggester {
	return &CoverSuggester{
		client: client,
		logger: log.Named("cover"),
	}
}

// SuggestCover returns cover text about topic long enough for a secret of
// secretLength characters.
func (s *CoverSuggester) SuggestCover(ctx context.Context, topic string, secretLength int) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = defaultTopic
	}
	if len(topic) > maxTopicLength {
		return "", fmt.Errorf("%w: topic is too long", apperrors.ErrValidation)
	}

	words := minCoverWords + secretLength*wordsPerSecret
	user := fmt.Sprintf("Write a paragraph of at least %d words about %s. Reply with the paragraph only.", words, topic)
	resp, err := s.client.Complete(ctx, Prompt{
		System:      coverSystemPrompt,
		User:        user,
		MaxTokens:   words * 3,
		Temperature: 0.9,
	})
	if err != nil {
		s.logger.Warn("Cover suggestion failed", zap.String("provider", s.client.Name()), zap.Error(err))
		return "", fmt.Errorf("%w: cover suggestion: %v", apperrors.ErrTransport, err)
	}

	text := strings.TrimSpace(resp.Text)
	if resp.Truncated {
		text = lastSentence(text)
	}
	if text == "" {
		return "", apperrors.Reason(apperrors.ErrTransport, "Cover suggestion was empty")
	}

	s.logger.Debug("Cover suggested",
		zap.String("provider", s.client.Name()),
		zap.String("model", resp.Model),
		zap.Int("tokens_out", resp.TokensOut),
		zap.Bool("truncated", resp.Truncated),
		zap.Duration("latency", resp.Latency),
	)
	return text, nil
}

// lastSentence cuts text after its last complete sentence. Text with no
// sentence end is returned unchanged.
func lastSentence(text string) string {
	if i := strings.LastIndexAny(text, ".!?"); i >= 0 {
		return text[:i+1]
	}
	return text
}
