// Package decode recovers hidden text from a single message.
package decode

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/stegline/core/internal/errors"
	"github.com/stegline/core/internal/model"
	"github.com/stegline/core/pkg/logger"
)

// Decoder recovers the secret from an encoded text artifact.
type Decoder interface {
	Decode(ctx context.Context, stegoText, secretKey string) (string, error)
}

// AttachmentReader fetches stored artifacts by path.
type AttachmentReader interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("decode session closed")

	// ErrSuperseded is returned when a newer attempt or Close overtook the call.
	ErrSuperseded = errors.New("decode attempt superseded")
)

// State is a read-only view of the session.
type State struct {
	MessageID  string  `json:"message_id"`
	Method     string  `json:"method,omitempty"`
	Processing bool    `json:"processing"`
	Plaintext  *string `json:"decrypted_text"`
	Error      string  `json:"error,omitempty"`
	ErrorKind  string  `json:"error_kind,omitempty"`
}

// Session is the decode dialog for one message. Each Submit is independent:
// the only state carried across attempts is the target message.
type Session struct {
	target      model.Message
	decoder     Decoder
	attachments AttachmentReader
	logger      *logger.Logger

	mu         sync.Mutex
	attempt    uint64
	closed     bool
	processing bool
	plaintext  *string
	err        error
}

// New opens a session for target. Only messages tagged with a stego method
// can be decoded.
func New(target model.Message, decoder Decoder, attachments AttachmentReader, log *logger.Logger) (*Session, error) {
	if !target.Decodable() {
		return nil, fmt.Errorf("%w: message %s carries no hidden content", apperrors.ErrValidation, target.ID)
	}
	return &Session{
		target:      target,
		decoder:     decoder,
		attachments: attachments,
		logger: log.Named("decode").With(
			zap.String("conversation_id", target.ConversationID),
			zap.String("message_id", target.ID),
		),
	}, nil
}

// Target returns the message being decoded.
func (s *Session) Target() model.Message {
	return s.target
}

// Submit runs one decode attempt with key. On failure any plaintext from an
// earlier attempt is cleared.
func (s *Session) Submit(ctx context.Context, key string) (State, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return State{MessageID: s.target.ID}, ErrClosed
	}
	s.attempt++
	attempt := s.attempt
	s.plaintext = nil
	s.err = nil
	s.processing = true
	s.mu.Unlock()

	plaintext, err := s.run(ctx, key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || attempt != s.attempt {
		return s.stateLocked(), ErrSuperseded
	}

	s.processing = false
	if err != nil {
		s.err = err
		s.logger.Info("Decode failed", zap.String("kind", kindLabel(err)), zap.Error(err))
		return s.stateLocked(), err
	}

	s.plaintext = &plaintext
	s.logger.Info("Decode succeeded")
	return s.stateLocked(), nil
}

func (s *Session) run(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", apperrors.Reason(apperrors.ErrValidation, "Secret key is required")
	}

	text, err := s.resolve(ctx)
	if err != nil {
		return "", err
	}

	return s.decoder.Decode(ctx, text, key)
}

// resolve returns the encoded text: the inline payload when present, else the
// referenced attachment.
func (s *Session) resolve(ctx context.Context) (string, error) {
	var inline string
	var attachment *model.Attachment

	switch c := s.target.Content().(type) {
	case model.TextContent:
		inline = c.Hidden
	case model.FileContent:
		inline = c.Inline
		attachment = c.Attachment
	}

	if inline != "" {
		return inline, nil
	}
	if attachment == nil || attachment.Path == "" {
		return "", apperrors.Reason(apperrors.ErrMissingPayload, "Invalid stego message")
	}
	if s.attachments == nil {
		return "", fmt.Errorf("%w: attachment store not configured", apperrors.ErrTransport)
	}

	data, err := s.attachments.Download(ctx, attachment.Path)
	if errors.Is(err, apperrors.ErrNotFound) {
		return "", apperrors.Reason(apperrors.ErrMissingPayload, "Failed to load file")
	}
	if err != nil {
		return "", fmt.Errorf("%w: failed to load file: %v", apperrors.ErrTransport, err)
	}
	return string(data), nil
}

// State returns the current view.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	st := State{
		MessageID:  s.target.ID,
		Processing: s.processing,
	}
	if s.target.StegoMethod != nil {
		st.Method = string(*s.target.StegoMethod)
	}
	if s.plaintext != nil {
		p := *s.plaintext
		st.Plaintext = &p
	}
	if s.err != nil {
		st.Error = displayReason(s.err)
		st.ErrorKind = kindLabel(s.err)
	}
	return st
}

// Close ends the session. Results of attempts still in flight are dropped.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.plaintext = nil
	s.err = nil
	s.processing = false
}

func kindLabel(err error) string {
	switch apperrors.Kind(err) {
	case apperrors.ErrDecodeFailed:
		return "decode_failed"
	case apperrors.ErrMissingPayload:
		return "missing_payload"
	case apperrors.ErrTimeout:
		return "timeout"
	case apperrors.ErrTransport:
		return "transport"
	case apperrors.ErrValidation:
		return "validation"
	}
	return "unknown"
}

func displayReason(err error) string {
	switch apperrors.Kind(err) {
	case apperrors.ErrTimeout:
		return "The steganography service did not respond in time"
	case apperrors.ErrTransport:
		return "The steganography service is unreachable"
	case nil:
		return "Decryption failed"
	}
	return err.Error()
}
