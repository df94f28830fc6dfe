package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/graystone-av/dsp-core/internal/atlas"
	"github.com/graystone-av/dsp-core/internal/processor"
	"github.com/graystone-av/dsp-core/internal/scene"
)

// errorResponse is the JSON body for all API errors.
type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// writeDomainError maps domain sentinel errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, processor.ErrNotFound),
		errors.Is(err, processor.ErrGroupNotFound),
		errors.Is(err, scene.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())

	case errors.Is(err, processor.ErrInvalidParam),
		errors.Is(err, processor.ErrValueOutOfRange),
		errors.Is(err, processor.ErrUnknownChannel),
		errors.Is(err, scene.ErrEmptyScene):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())

	case errors.Is(err, processor.ErrDuplicate),
		errors.Is(err, processor.ErrChannelLinked),
		errors.Is(err, processor.ErrChannelNotLinked),
		errors.Is(err, processor.ErrAlreadyGrouped),
		errors.Is(err, processor.ErrNotGrouped),
		errors.Is(err, processor.ErrGroupSpansLink),
		errors.Is(err, scene.ErrDuplicateName):
		writeError(w, http.StatusConflict, "conflict", err.Error())

	case errors.Is(err, scene.ErrUnconfirmedCapture),
		errors.Is(err, processor.ErrNotConfirmed):
		writeError(w, http.StatusConflict, "unconfirmed", err.Error())

	case errors.Is(err, atlas.ErrNotConnected),
		errors.Is(err, atlas.ErrTimeout),
		errors.Is(err, atlas.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "device_unavailable", err.Error())

	case errors.Is(err, atlas.ErrDeviceRejected):
		writeError(w, http.StatusBadGateway, "device_rejected", err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

// decodeBody parses a JSON request body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed request body: "+err.Error())
		return false
	}
	return true
}
