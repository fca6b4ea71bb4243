// Package store provides persistence for conversations, messages, profiles
// and attachments.
package store

import (
	"context"

	"github.com/stegline/core/internal/model"
)

// ConversationStore persists conversations. Implementations guarantee at most
// one conversation per unordered participant pair.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)

	// FindConversation looks the pair up in either participant order and
	// returns apperrors.ErrNotFound when absent.
	FindConversation(ctx context.Context, a, b string) (*model.Conversation, error)

	// CreateConversation inserts a conversation for the pair, or returns the
	// existing one if another writer created it first.
	CreateConversation(ctx context.Context, a, b string, seed *model.Summary) (*model.Conversation, error)

	// ListConversations returns the user's conversations, newest update first.
	ListConversations(ctx context.Context, userID string) ([]model.Conversation, error)
}

// MessageStore persists messages.
type MessageStore interface {
	// ListMessages returns a conversation's messages ascending by creation time.
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)

	// GetMessage returns a single message of a conversation.
	GetMessage(ctx context.Context, conversationID, messageID string) (*model.Message, error)

	// CommitMessage inserts msg and applies summary to its conversation as a
	// single atomic operation.
	CommitMessage(ctx context.Context, msg *model.Message, summary model.Summary) error
}

// ProfileStore looks up user identities.
type ProfileStore interface {
	GetProfiles(ctx context.Context, ids []string) ([]model.Profile, error)
	SearchProfiles(ctx context.Context, query, excludeID string) ([]model.Profile, error)
	ListProfiles(ctx context.Context, excludeID string) ([]model.Profile, error)
	UpsertProfile(ctx context.Context, p model.Profile) error
}

// AttachmentStore holds binary attachments addressed by path.
type AttachmentStore interface {
	Upload(ctx context.Context, path string, data []byte) error
	Download(ctx context.Context, path string) ([]byte, error)
}

// Store is the relational side of the external store.
type Store interface {
	ConversationStore
	MessageStore
	ProfileStore

	Ping(ctx context.Context) error
	Close()
}
