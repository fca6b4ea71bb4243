package model

import (
	"time"
)

// Kind is the message discriminant.
type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
)

// Preview labels shown in place of message content.
const (
	PreviewEncryptedMessage = "🔒 Encrypted message"
	PreviewStegoMessage     = "🔐 Secure stego message"
)

// Attachment references a binary artifact in the attachment store.
type Attachment struct {
	Path string `json:"file_url"`
	Name string `json:"file_name"`
}

// Message is an immutable conversation message. The flat layout mirrors the
// store rows; use Content to dispatch on the kind.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	SenderID       string       `json:"sender_id"`
	Kind           Kind         `json:"type"`
	HiddenContent  string       `json:"hidden_content,omitempty"`
	Attachment     *Attachment  `json:"attachment,omitempty"`
	StegoMethod    *StegoMethod `json:"stego_method"`
	Preview        string       `json:"preview"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Content is the tagged message variant: TextContent or FileContent.
type Content interface {
	isContent()
}

// TextContent is an inline text message.
type TextContent struct {
	Hidden string
}

// FileContent is a file message. Inline is set for artifacts sent through the
// wizard; Attachment is set for uploaded files. Either may be empty.
type FileContent struct {
	Inline     string
	Attachment *Attachment
}

func (TextContent) isContent() {}
func (FileContent) isContent() {}

// Content returns the variant for the message kind.
func (m *Message) Content() Content {
	if m.Kind == KindFile {
		return FileContent{Inline: m.HiddenContent, Attachment: m.Attachment}
	}
	return TextContent{Hidden: m.HiddenContent}
}

// Decodable reports whether a decode may be offered for the message.
func (m *Message) Decodable() bool {
	return m.StegoMethod != nil
}

// Label returns the display label for the message body.
func (m *Message) Label() string {
	switch c := m.Content().(type) {
	case FileContent:
		if c.Attachment != nil && c.Attachment.Name != "" {
			return "📎 " + c.Attachment.Name
		}
		return PreviewStegoMessage
	case TextContent:
		if c.Hidden == "" {
			return PreviewEncryptedMessage
		}
		return c.Hidden
	}
	return m.Preview
}

// Before reports whether m sorts before o in a timeline.
// Messages with equal timestamps are ordered by id.
func (m *Message) Before(o *Message) bool {
	if m.CreatedAt.Equal(o.CreatedAt) {
		return m.ID < o.ID
	}
	return m.CreatedAt.Before(o.CreatedAt)
}

// SendMessageRequest is the request to send a plain message.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}
