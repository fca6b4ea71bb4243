package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxMessageLength  = 100000
	maxFileNameLength = 255
)

// ValidateMessageContent validates text message content.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("content cannot be empty")
	}
	if len(content) > maxMessageLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateMessageID validates a message ID.
func ValidateMessageID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid message ID format")
	}
	return nil
}

// ValidateUserID validates a user ID reference.
func ValidateUserID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("user ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("user ID exceeds maximum length")
	}
	return nil
}

// ValidateFileName validates an uploaded file name.
func ValidateFileName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("file name cannot be empty")
	}
	if len(name) > maxFileNameLength {
		return errors.New("file name exceeds maximum length")
	}
	if !utf8.ValidString(name) {
		return errors.New("file name must be valid UTF-8")
	}
	return nil
}
