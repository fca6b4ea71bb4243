package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stegline/core/internal/middleware"
	"github.com/stegline/core/internal/model"
	"github.com/stegline/core/internal/service"
	"github.com/stegline/core/internal/store"
	"github.com/stegline/core/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	directory *service.DirectoryService
	messages  store.MessageStore
	delivery  *service.DeliveryService
	logger    *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(
	directory *service.DirectoryService,
	messages store.MessageStore,
	delivery *service.DeliveryService,
	log *logger.Logger,
) *MessageHandler {
	return &MessageHandler{
		directory: directory,
		messages:  messages,
		delivery:  delivery,
		logger:    log.Named("messages"),
	}
}

// List handles GET /api/v1/conversations/:id/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.directory.Authorize(ctx, userID, conversationID); err != nil {
		writeServiceError(w, h.logger, err, "failed to open conversation")
		return
	}

	msgs, err := h.messages.ListMessages(ctx, conversationID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	writeJSON(w, http.StatusOK, &model.ListMessagesResponse{Messages: msgs})
}

// Send handles POST /api/v1/conversations/:id/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.delivery.SendText(ctx, userID, conversationID, req.Content)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to send message")
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// Upload handles POST /api/v1/conversations/:id/attachments
// The file is sent as the multipart field "file".
func (h *MessageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	name, data, ok := readUpload(w, r, service.MaxAttachmentSize)
	if !ok {
		return
	}

	msg, err := h.delivery.SendFile(ctx, userID, conversationID, name, data)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to upload file")
		return
	}

	h.logger.Info("Attachment sent",
		zap.String("conversation_id", conversationID),
		zap.Int("size", len(data)),
	)
	writeJSON(w, http.StatusCreated, msg)
}

// readUpload reads the multipart field "file". On failure it writes the
// response and returns false.
func readUpload(w http.ResponseWriter, r *http.Request, limit int64) (string, []byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return "", nil, false
		}
		writeError(w, http.StatusBadRequest, "file is required")
		return "", nil, false
	}
	defer file.Close()

	if err := middleware.ValidateFileName(header.Filename); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", nil, false
	}

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return "", nil, false
	}
	if int64(len(data)) > limit {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return "", nil, false
	}
	return header.Filename, data, true
}
