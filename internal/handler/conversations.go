package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stegline/core/internal/middleware"
	"github.com/stegline/core/internal/model"
	"github.com/stegline/core/internal/service"
	"github.com/stegline/core/pkg/logger"
)

// ConversationHandler handles conversation directory endpoints.
type ConversationHandler struct {
	directory *service.DirectoryService
	logger    *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(directory *service.DirectoryService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		directory: directory,
		logger:    log.Named("conversations"),
	}
}

// ProfilesResponse is the response for profile lookups.
type ProfilesResponse struct {
	Profiles []model.Profile `json:"profiles"`
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	resp, err := h.directory.List(ctx, userID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Start handles POST /api/v1/conversations
func (h *ConversationHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.StartConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateUserID(req.RecipientID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.directory.Start(ctx, userID, req.RecipientID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to start conversation")
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// Get handles GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.directory.Open(ctx, userID, conversationID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get conversation")
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// SearchProfiles handles GET /api/v1/profiles?q=
func (h *ConversationHandler) SearchProfiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	profiles, err := h.directory.SearchProfiles(ctx, userID, r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to search profiles")
		return
	}

	writeJSON(w, http.StatusOK, &ProfilesResponse{Profiles: profiles})
}

// Recipients handles GET /api/v1/recipients
func (h *ConversationHandler) Recipients(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	profiles, err := h.directory.Recipients(ctx, userID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list recipients")
		return
	}

	writeJSON(w, http.StatusOK, &ProfilesResponse{Profiles: profiles})
}

// UpdateProfileRequest sets the caller's display name.
type UpdateProfileRequest struct {
	FullName string `json:"full_name"`
}

// UpdateProfile handles PUT /api/v1/profile
func (h *ConversationHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req UpdateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile, err := h.directory.UpdateProfile(ctx, userID, req.FullName)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to update profile")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}
