// Package model defines data structures for the messaging core.
package model

import (
	"time"
)

// Summary labels cached on conversations.
const (
	SummaryEncryptedFile    = "🔐 Encrypted file"
	SummaryEncryptedMessage = "🔒 Encrypted message"
	SummaryFileSent         = "📎 File sent"
)

// Conversation is a direct conversation between two participants.
// The pair is unordered: (A, B) and (B, A) name the same conversation.
type Conversation struct {
	ID              string    `json:"id"`
	ParticipantA    string    `json:"user1"`
	ParticipantB    string    `json:"user2"`
	LastMessage     *string   `json:"last_message"`
	LastMessageKind *Kind     `json:"last_message_type"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.ParticipantA == userID || c.ParticipantB == userID)
}

// Counterpart returns the participant that is not userID.
func (c *Conversation) Counterpart(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// Summary is the denormalized preview written on every message commit.
type Summary struct {
	Text string
	Kind Kind
}

// Apply stores the summary on the conversation.
func (s Summary) Apply(c *Conversation, at time.Time) {
	text, kind := s.Text, s.Kind
	c.LastMessage = &text
	c.LastMessageKind = &kind
	c.UpdatedAt = at
}

// PairKey returns a key identical for both orderings of a participant pair.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// DirectoryEntry is a conversation enriched with the counterpart's identity.
type DirectoryEntry struct {
	Conversation
	CounterpartID   string `json:"other_user_id"`
	CounterpartName string `json:"other_user_name"`
}

// StartConversationRequest is the request to open a conversation with a user.
type StartConversationRequest struct {
	RecipientID string `json:"recipient_id"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []DirectoryEntry `json:"conversations"`
	Total         int              `json:"total"`
}
