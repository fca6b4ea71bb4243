package handler

import (
	"net/http"
	"strconv"

	"github.com/stegline/core/internal/middleware"
	"github.com/stegline/core/internal/model"
	"github.com/stegline/core/internal/wizard"
	"github.com/stegline/core/pkg/logger"
)

// maxCoverFileSize bounds uploaded cover documents.
const maxCoverFileSize = 1 << 20

// WizardHandler exposes the caller's encoding wizard.
type WizardHandler struct {
	sessions *Sessions
	logger   *logger.Logger
}

// NewWizardHandler creates a new wizard handler.
func NewWizardHandler(sessions *Sessions, log *logger.Logger) *WizardHandler {
	return &WizardHandler{
		sessions: sessions,
		logger:   log.Named("wizard"),
	}
}

// SelectMethodRequest starts a session with a method.
type SelectMethodRequest struct {
	Method model.StegoMethod `json:"method"`
}

// SuggestCoverRequest asks for generated cover text.
type SuggestCoverRequest struct {
	Topic string `json:"topic"`
}

// SendRequest names the recipient of the encoded artifact.
type SendRequest struct {
	RecipientID string `json:"recipient_id"`
}

func (h *WizardHandler) wizard(r *http.Request) *wizard.Wizard {
	return h.sessions.Wizard(middleware.GetUserID(r.Context()))
}

func (h *WizardHandler) respond(w http.ResponseWriter, snap wizard.Snapshot, err error, fallback string) {
	if err != nil {
		writeStateError(w, h.logger, err, fallback, snap)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Get handles GET /api/v1/wizard
func (h *WizardHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.wizard(r).Snapshot())
}

// Reset handles DELETE /api/v1/wizard
func (h *WizardHandler) Reset(w http.ResponseWriter, r *http.Request) {
	snap := h.wizard(r).Reset()
	h.sessions.EndWizard(middleware.GetUserID(r.Context()))
	writeJSON(w, http.StatusOK, snap)
}

// SelectMethod handles POST /api/v1/wizard/method
func (h *WizardHandler) SelectMethod(w http.ResponseWriter, r *http.Request) {
	var req SelectMethodRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := h.wizard(r).SelectMethod(req.Method)
	h.respond(w, snap, err, "failed to select method")
}

// Update handles PATCH /api/v1/wizard
func (h *WizardHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch wizard.Patch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := h.wizard(r).Update(patch)
	h.respond(w, snap, err, "failed to update wizard")
}

// AttachCover handles POST /api/v1/wizard/cover-file
func (h *WizardHandler) AttachCover(w http.ResponseWriter, r *http.Request) {
	name, data, ok := readUpload(w, r, maxCoverFileSize)
	if !ok {
		return
	}

	snap, err := h.wizard(r).AttachCoverFile(name, data)
	h.respond(w, snap, err, "failed to attach cover")
}

// Continue handles POST /api/v1/wizard/continue
// Leaving the key step runs the encoder and blocks until it resolves.
func (h *WizardHandler) Continue(w http.ResponseWriter, r *http.Request) {
	snap, err := h.wizard(r).Continue(r.Context())
	h.respond(w, snap, err, "failed to continue")
}

// Back handles POST /api/v1/wizard/back
func (h *WizardHandler) Back(w http.ResponseWriter, r *http.Request) {
	snap, err := h.wizard(r).Back()
	h.respond(w, snap, err, "failed to go back")
}

// GenerateKey handles POST /api/v1/wizard/key
func (h *WizardHandler) GenerateKey(w http.ResponseWriter, r *http.Request) {
	snap, err := h.wizard(r).AutoGenerateKey()
	h.respond(w, snap, err, "failed to generate key")
}

// SuggestCover handles POST /api/v1/wizard/cover-suggestion
func (h *WizardHandler) SuggestCover(w http.ResponseWriter, r *http.Request) {
	var req SuggestCoverRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := h.wizard(r).SuggestCover(r.Context(), req.Topic)
	h.respond(w, snap, err, "failed to suggest cover")
}

// Download handles GET /api/v1/wizard/artifact
func (h *WizardHandler) Download(w http.ResponseWriter, r *http.Request) {
	artifact, err := h.wizard(r).Download()
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to download artifact")
		return
	}

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+artifact.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(artifact.Data)
}

// Send handles POST /api/v1/wizard/send
func (h *WizardHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateUserID(req.RecipientID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wz := h.wizard(r)
	msg, err := wz.Send(r.Context(), req.RecipientID)
	if err != nil {
		writeStateError(w, h.logger, err, "failed to send artifact", wz.Snapshot())
		return
	}
	h.sessions.EndWizard(middleware.GetUserID(r.Context()))

	writeJSON(w, http.StatusCreated, msg)
}
