package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-knxproj/internal/commissioning/etsimport"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeInternal       = "internal_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
	ErrCodeFileTooLarge   = "file_too_large"
	ErrCodeInvalidFile    = "invalid_file"

	ErrCodePasswordRequired   = "password_required"
	ErrCodeWrongPassword      = "wrong_password"
	ErrCodeUnsupportedArchive = "unsupported_archive"
	ErrCodeUnsupportedVersion = "unsupported_version"
	ErrCodeMalformedDocument  = "malformed_document"
	ErrCodeInconsistent       = "inconsistent_project"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeParseError maps a parse failure to a response. Problems with the
// uploaded project are 422; anything else is reported as internal.
func writeParseError(w http.ResponseWriter, err error) {
	var docErr *etsimport.DocumentError
	var consErr *etsimport.ConsistencyError

	switch {
	case errors.Is(err, etsimport.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeFileTooLarge, "file exceeds maximum size of 50MB")
	case errors.Is(err, etsimport.ErrPasswordRequired):
		writeError(w, http.StatusUnprocessableEntity, ErrCodePasswordRequired, "project is password protected")
	case errors.Is(err, etsimport.ErrWrongPassword):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeWrongPassword, "wrong project password")
	case errors.Is(err, etsimport.ErrUnsupportedArchive):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeUnsupportedArchive, "not a readable .knxproj archive")
	case errors.Is(err, etsimport.ErrUnsupportedVersion):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeUnsupportedVersion, "unsupported ETS version")
	case errors.As(err, &docErr):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeMalformedDocument, "malformed document "+docErr.Document)
	case errors.As(err, &consErr):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeInconsistent, err.Error())
	default:
		writeInternalError(w, "failed to parse project")
	}
}
