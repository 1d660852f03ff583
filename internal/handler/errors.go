package handler

import (
	"log/slog"
	"net/http"

	"github.com/pavelanni/assessor/internal/model"
)

var kindStatus = map[model.ErrorKind]int{
	model.KindCourseNotFound:       http.StatusNotFound,
	model.KindMappingNotFound:      http.StatusNotFound,
	model.KindHandlerNotFound:      http.StatusNotFound,
	model.KindAttemptLimitExceeded: http.StatusConflict,
	model.KindValidation:           http.StatusBadRequest,
	model.KindGenerationService:    http.StatusBadGateway,
	model.KindPersistence:          http.StatusServiceUnavailable,
}

var kindMessage = map[model.ErrorKind]string{
	model.KindCourseNotFound:       "ErrCourseNotFound",
	model.KindMappingNotFound:      "ErrMappingNotFound",
	model.KindHandlerNotFound:      "ErrHandlerNotFound",
	model.KindAttemptLimitExceeded: "ErrAttemptLimitExceeded",
	model.KindValidation:           "ErrValidation",
	model.KindGenerationService:    "ErrGenerationService",
	model.KindPersistence:          "ErrPersistence",
}

// StatusFor maps an error to its HTTP status. Unclassified errors are 500.
func StatusFor(err error) int {
	if status, ok := kindStatus[model.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeError logs err and sends a localized message with the error kind.
// Only validation errors echo their detail back to the student.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := model.KindOf(err)
	status := StatusFor(err)

	msgID, ok := kindMessage[kind]
	if !ok {
		msgID = "ErrInternal"
	}
	var msg string
	if kind == model.KindValidation {
		msg = h.tr.Td(r.Context(), msgID, map[string]any{"Detail": err.Error()})
	} else {
		msg = h.tr.T(r.Context(), msgID)
	}

	log := slog.With("method", r.Method, "path", r.URL.Path, "status", status, "kind", kind, "error", err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed")
	} else {
		log.Info("request rejected")
	}
	writeJSON(w, status, dispatchResponse{Success: false, Error: msg, Kind: kind})
}
