package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/nerrad567/gray-logic-knxproj/internal/commissioning/etsimport"
	"github.com/nerrad567/gray-logic-knxproj/internal/inventory"
)

// multipartMemory is the part of a multipart form kept in memory; larger
// files spill to temporary files.
const multipartMemory = 32 << 20

// allowedExtension is the only accepted upload extension (case-insensitive).
const allowedExtension = ".knxproj"

// upload is a validated project upload.
type upload struct {
	filename string
	data     []byte
	options  etsimport.Options
}

// LogicalDevicesResponse is the body of POST /api/v1/projects/logical-devices.
type LogicalDevicesResponse struct {
	inventory.Payload
	Warnings    []etsimport.ParseWarning `json:"warnings"`
	ContentHash string                   `json:"content_hash"`
}

// handleParseProject parses an uploaded .knxproj archive and returns the
// full model.
//
// Request: multipart/form-data with "file", optional "password" and "language".
// Response: ParseResult with project, warnings and content hash.
func (s *Server) handleParseProject(w http.ResponseWriter, r *http.Request) {
	result, ok := s.parseUpload(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleLogicalDevices parses an uploaded archive and returns every device
// with the group addresses its objects link to.
func (s *Server) handleLogicalDevices(w http.ResponseWriter, r *http.Request) {
	result, ok := s.parseUpload(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, LogicalDevicesResponse{
		Payload:     inventory.BuildPayload(result.Project),
		Warnings:    nonNil(result.Warnings),
		ContentHash: result.ContentHash,
	})
}

// parseUpload reads the upload and parses it. On failure the error response
// has been written and ok is false.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) (*etsimport.ParseResult, bool) {
	up, err := s.readUpload(r)
	if err != nil {
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			writeError(w, reqErr.status, reqErr.code, reqErr.message)
		} else {
			s.logger.Error("reading project upload", "error", err, "request_id", requestID(r.Context()))
			writeBadRequest(w, "failed to read uploaded file")
		}
		return nil, false
	}

	result, err := s.parser.ParseBytes(r.Context(), up.data, up.options)
	if err != nil {
		s.logger.Warn("project parse failed",
			"error", err,
			"filename", up.filename,
			"request_id", requestID(r.Context()),
		)
		writeParseError(w, err)
		return nil, false
	}

	info := result.Project.Info()
	s.logger.Info("project parsed",
		"filename", up.filename,
		"project_id", info.ProjectID,
		"content_hash", result.ContentHash,
		"warnings", len(result.Warnings),
		"request_id", requestID(r.Context()),
	)
	return result, true
}

// requestError is a client error detected before parsing.
type requestError struct {
	status  int
	code    string
	message string
}

func (e *requestError) Error() string { return e.message }

func badUpload(code, message string) *requestError {
	return &requestError{status: http.StatusBadRequest, code: code, message: message}
}

func tooLarge(limit int64) *requestError {
	return &requestError{
		status:  http.StatusRequestEntityTooLarge,
		code:    ErrCodeFileTooLarge,
		message: fmt.Sprintf("file exceeds maximum size of %dMB", limit>>20),
	}
}

func (s *Server) readUpload(r *http.Request) (upload, error) {
	limit := s.maxUploadSize()

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return upload{}, tooLarge(limit)
		}
		return upload{}, badUpload(ErrCodeBadRequest, "failed to parse multipart form")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return upload{}, badUpload(ErrCodeBadRequest, "missing required 'file' field in form data")
	}
	defer file.Close()

	if header.Filename == "" {
		return upload{}, badUpload(ErrCodeBadRequest, "no file selected")
	}
	if !strings.EqualFold(path.Ext(header.Filename), allowedExtension) {
		return upload{}, badUpload(ErrCodeInvalidFile, "invalid file type: expected a .knxproj file")
	}
	if header.Size > limit {
		return upload{}, tooLarge(limit)
	}

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return upload{}, fmt.Errorf("reading %s: %w", header.Filename, err)
	}
	if int64(len(data)) > limit {
		return upload{}, tooLarge(limit)
	}

	language := strings.TrimSpace(r.FormValue("language"))
	if language == "" {
		language = s.defaultLanguage
	}

	return upload{
		filename: header.Filename,
		data:     data,
		options: etsimport.Options{
			Password: strings.TrimSpace(r.FormValue("password")),
			Language: language,
		},
	}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
