package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/stegline/core/internal/decode"
	apperrors "github.com/stegline/core/internal/errors"
	"github.com/stegline/core/internal/wizard"
	"github.com/stegline/core/pkg/logger"
)

const maxJSONBody = 1 << 20

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// stateError is an error response that also carries the session state.
type stateError struct {
	Error string `json:"error"`
	State any    `json:"state"`
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v)
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	if errors.Is(err, wizard.ErrSuperseded) || errors.Is(err, decode.ErrSuperseded) || errors.Is(err, decode.ErrClosed) {
		return http.StatusConflict
	}
	switch apperrors.Kind(err) {
	case apperrors.ErrValidation:
		return http.StatusBadRequest
	case apperrors.ErrNoArtifact:
		return http.StatusConflict
	case apperrors.ErrUnsupported:
		return http.StatusNotImplemented
	case apperrors.ErrUnauthorized:
		return http.StatusForbidden
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrMissingPayload, apperrors.ErrEncodeFailed, apperrors.ErrDecodeFailed:
		return http.StatusUnprocessableEntity
	case apperrors.ErrTransport:
		return http.StatusBadGateway
	case apperrors.ErrTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// errorMessage returns the client facing message for err. Internal errors
// are logged and replaced by fallback.
func errorMessage(log *logger.Logger, err error, fallback string) (int, string) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		log.Error(fallback, zap.Error(err))
		return status, fallback
	case http.StatusBadGateway:
		log.Warn(fallback, zap.Error(err))
		return status, "upstream service unavailable"
	case http.StatusGatewayTimeout:
		return status, "upstream service timed out"
	}
	return status, err.Error()
}

// writeServiceError writes err with its mapped status.
func writeServiceError(w http.ResponseWriter, log *logger.Logger, err error, fallback string) {
	status, msg := errorMessage(log, err, fallback)
	writeError(w, status, msg)
}

// writeStateError writes err together with the current session state.
func writeStateError(w http.ResponseWriter, log *logger.Logger, err error, fallback string, state any) {
	status, msg := errorMessage(log, err, fallback)
	writeJSON(w, status, stateError{Error: msg, State: state})
}
