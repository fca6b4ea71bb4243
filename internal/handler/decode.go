package handler

import (
	"net/http"

	"github.com/stegline/core/internal/decode"
	"github.com/stegline/core/internal/middleware"
	"github.com/stegline/core/internal/service"
	"github.com/stegline/core/internal/store"
	"github.com/stegline/core/pkg/logger"
)

// DecodeHandler exposes the caller's decode session.
type DecodeHandler struct {
	sessions    *Sessions
	directory   *service.DirectoryService
	messages    store.MessageStore
	decoder     decode.Decoder
	attachments decode.AttachmentReader
	logger      *logger.Logger
}

// NewDecodeHandler creates a new decode handler.
func NewDecodeHandler(
	sessions *Sessions,
	directory *service.DirectoryService,
	messages store.MessageStore,
	decoder decode.Decoder,
	attachments decode.AttachmentReader,
	log *logger.Logger,
) *DecodeHandler {
	return &DecodeHandler{
		sessions:    sessions,
		directory:   directory,
		messages:    messages,
		decoder:     decoder,
		attachments: attachments,
		logger:      log.Named("decode"),
	}
}

// OpenDecodeRequest selects the message to decode.
type OpenDecodeRequest struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// SubmitKeyRequest carries a decode key.
type SubmitKeyRequest struct {
	Key string `json:"key"`
}

// Open handles POST /api/v1/decode
func (h *DecodeHandler) Open(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req OpenDecodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageID(req.MessageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.directory.Authorize(ctx, userID, req.ConversationID); err != nil {
		writeServiceError(w, h.logger, err, "failed to open conversation")
		return
	}

	msg, err := h.messages.GetMessage(ctx, req.ConversationID, req.MessageID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get message")
		return
	}

	session, err := decode.New(*msg, h.decoder, h.attachments, h.logger)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to open decode session")
		return
	}
	h.sessions.OpenDecode(userID, session)

	writeJSON(w, http.StatusOK, session.State())
}

// Get handles GET /api/v1/decode
func (h *DecodeHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessions.Decode(middleware.GetUserID(r.Context()))
	if !ok {
		writeError(w, http.StatusNotFound, "no decode session")
		return
	}
	writeJSON(w, http.StatusOK, session.State())
}

// Submit handles POST /api/v1/decode/submit
func (h *DecodeHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, ok := h.sessions.Decode(middleware.GetUserID(ctx))
	if !ok {
		writeError(w, http.StatusNotFound, "no decode session")
		return
	}

	var req SubmitKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	state, err := session.Submit(ctx, req.Key)
	if err != nil {
		writeStateError(w, h.logger, err, "failed to decode message", state)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Close handles DELETE /api/v1/decode
func (h *DecodeHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.sessions.CloseDecode(middleware.GetUserID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}
