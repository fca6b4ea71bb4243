package service

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stegline/core/internal/changefeed"
	apperrors "github.com/stegline/core/internal/errors"
	"github.com/stegline/core/internal/model"
	"github.com/stegline/core/internal/store"
	"github.com/stegline/core/pkg/logger"
	"github.com/stegline/core/pkg/metrics"
)

// MaxAttachmentSize bounds uploaded files.
const MaxAttachmentSize = 10 << 20

// DeliveryService commits messages and announces them on the change feed.
type DeliveryService struct {
	directory   *DirectoryService
	messages    store.MessageStore
	attachments store.AttachmentStore
	publisher   changefeed.Publisher
	logger      *logger.Logger
	now         func() time.Time
}

// NewDeliveryService creates a new delivery service.
func NewDeliveryService(
	directory *DirectoryService,
	messages store.MessageStore,
	attachments store.AttachmentStore,
	publisher changefeed.Publisher,
	log *logger.Logger,
) *DeliveryService {
	return &DeliveryService{
		directory:   directory,
		messages:    messages,
		attachments: attachments,
		publisher:   publisher,
		logger:      log.Named("delivery"),
		now:         time.Now,
	}
}

// SendSecure resolves the conversation with recipientID and commits the
// encoded artifact to it. Only the artifact and method are stored; the
// message preview is a fixed label.
func (s *DeliveryService) SendSecure(ctx context.Context, senderID, recipientID, artifact string, method model.StegoMethod) (*model.Message, error) {
	if artifact == "" {
		return nil, apperrors.ErrNoArtifact
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unknown method %q", apperrors.ErrValidation, method)
	}

	conv, err := s.directory.ResolveOrCreate(ctx, senderID, recipientID, &model.Summary{
		Text: model.SummaryEncryptedFile,
		Kind: model.KindFile,
	})
	if err != nil {
		return nil, err
	}

	msg := s.newMessage(conv.ID, senderID, model.KindFile, method)
	msg.HiddenContent = artifact
	msg.Preview = model.PreviewEncryptedMessage

	if err := s.commit(ctx, msg, model.Summary{Text: model.SummaryEncryptedMessage, Kind: model.KindFile}); err != nil {
		return nil, err
	}
	return msg, nil
}

// SendText commits a text message to a conversation the sender takes part in.
func (s *DeliveryService) SendText(ctx context.Context, senderID, conversationID, text string) (*model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message is empty", apperrors.ErrValidation)
	}
	if _, err := s.directory.Authorize(ctx, senderID, conversationID); err != nil {
		return nil, err
	}

	msg := s.newMessage(conversationID, senderID, model.KindText, model.MethodText)
	msg.HiddenContent = text
	msg.Preview = model.PreviewEncryptedMessage

	if err := s.commit(ctx, msg, model.Summary{Text: model.SummaryEncryptedMessage, Kind: model.KindText}); err != nil {
		return nil, err
	}
	return msg, nil
}

// SendFile stores data as an attachment and commits a file message for it.
func (s *DeliveryService) SendFile(ctx context.Context, senderID, conversationID, name string, data []byte) (*model.Message, error) {
	if s.attachments == nil {
		return nil, fmt.Errorf("%w: attachments are not configured", apperrors.ErrUnsupported)
	}
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return nil, fmt.Errorf("%w: file name is required", apperrors.ErrValidation)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", apperrors.ErrValidation)
	}
	if len(data) > MaxAttachmentSize {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", apperrors.ErrValidation, MaxAttachmentSize)
	}
	if _, err := s.directory.Authorize(ctx, senderID, conversationID); err != nil {
		return nil, err
	}

	msg := s.newMessage(conversationID, senderID, model.KindFile, model.MethodText)
	filePath := fmt.Sprintf("%s/%d_%s", conversationID, msg.CreatedAt.UnixMilli(), name)
	if err := s.attachments.Upload(ctx, filePath, data); err != nil {
		return nil, fmt.Errorf("failed to upload attachment: %w", err)
	}
	msg.Attachment = &model.Attachment{Path: filePath, Name: name}
	msg.Preview = "📎 " + name

	if err := s.commit(ctx, msg, model.Summary{Text: model.SummaryFileSent, Kind: model.KindFile}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *DeliveryService) newMessage(conversationID, senderID string, kind model.Kind, method model.StegoMethod) *model.Message {
	return &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Kind:           kind,
		StegoMethod:    &method,
		CreatedAt:      s.now().UTC(),
	}
}

// commit writes the message and summary atomically, then publishes. A publish
// failure leaves the commit in place; subscribers catch up on their next load.
func (s *DeliveryService) commit(ctx context.Context, msg *model.Message, summary model.Summary) error {
	if err := s.messages.CommitMessage(ctx, msg, summary); err != nil {
		metrics.RecordDelivery(string(msg.Kind), "error")
		return fmt.Errorf("failed to commit message: %w", err)
	}
	metrics.RecordDelivery(string(msg.Kind), "ok")

	log := s.logger.With(
		zap.String("conversation_id", msg.ConversationID),
		zap.String("message_id", msg.ID),
		zap.String("kind", string(msg.Kind)),
	)

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, msg); err != nil {
			log.Warn("Failed to publish message event", zap.Error(err))
			return nil
		}
	}

	log.Info("Message committed")
	return nil
}
