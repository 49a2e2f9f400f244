package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"savesync/internal/api"
	"savesync/internal/auth"
	"savesync/internal/models"
	"savesync/internal/saves"
)

func (s *Server) writeErrorReq(w http.ResponseWriter, r *http.Request, status int, err error) {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}

	code := errorCode(status, err)
	numericCode := errorNumericCode(status, err)
	message := err.Error()

	fields := []any{"status", status, "code", code, "error_code", numericCode, "error", err}
	if r != nil {
		fields = append(fields, "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
	}

	switch {
	case status >= 500:
		s.log().Error("request error", fields...)
		message = "internal error"
	case status >= 400 && shouldWarnClientError(status):
		s.log().Warn("request rejected", fields...)
	case status >= 400:
		s.log().Debug("request rejected", fields...)
	}

	s.writeJSON(w, status, api.ErrorResponse{Error: message, Code: code, ErrorCode: numericCode})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("write json response", "status", status, "error", err)
	}
}

type apiError struct {
	status  int
	code    string
	errCode int
	err     error
}

func (e apiError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e apiError) Unwrap() error {
	return e.err
}

func makeAPIError(status int, code string, errCode int, err error) error {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}

	var existing apiError
	if errors.As(err, &existing) {
		if existing.status != 0 {
			return existing
		}
	}

	return apiError{status: status, code: code, errCode: errCode, err: err}
}

func badRequestCode(err error, code int) error {
	return makeAPIError(http.StatusBadRequest, "invalid_argument", code, err)
}

func storeFailure(err error) error {
	return makeAPIError(http.StatusInternalServerError, "internal", ErrCodeStoreFailure, err)
}

func httpStatusFromError(err error) int {
	var apiErr apiError
	if errors.As(err, &apiErr) {
		return apiErr.status
	}
	return http.StatusInternalServerError
}

func errorCode(status int, err error) string {
	var apiErr apiError
	if errors.As(err, &apiErr) && apiErr.code != "" {
		return apiErr.code
	}
	switch status {
	case http.StatusBadRequest:
		return "invalid_argument"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "resource_exhausted"
	case http.StatusInternalServerError:
		return "internal"
	default:
		return ""
	}
}

func errorNumericCode(status int, err error) int {
	var apiErr apiError
	if errors.As(err, &apiErr) && apiErr.errCode > 0 {
		return apiErr.errCode
	}
	return defaultErrorCodeByStatus(status)
}

func shouldWarnClientError(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// bodyReadError marks a failure reading the request body, as opposed to a
// failure writing to storage.
type bodyReadError struct {
	err error
}

func (e bodyReadError) Error() string { return "read request body: " + e.err.Error() }
func (e bodyReadError) Unwrap() error { return e.err }

type bodyReader struct {
	r io.Reader
}

func (b bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && err != io.EOF {
		return n, bodyReadError{err: err}
	}
	return n, err
}

// saveError maps a service error onto the HTTP error taxonomy.
func saveError(err error) error {
	var tooLarge *http.MaxBytesError
	var readErr bodyReadError
	switch {
	case errors.As(err, &tooLarge):
		return makeAPIError(http.StatusBadRequest, "request_too_large", ErrCodeRequestTooLarge,
			fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit))
	case errors.Is(err, saves.ErrUnauthenticated) && errors.Is(err, auth.ErrMalformed):
		return makeAPIError(http.StatusBadRequest, "invalid_token", ErrCodeInvalidToken,
			errors.New("authorization header must be 'Bearer <token>'"))
	case errors.Is(err, saves.ErrUnauthenticated):
		return makeAPIError(http.StatusForbidden, "forbidden", ErrCodeForbidden, errors.New("invalid token"))
	case errors.Is(err, saves.ErrMissingFile):
		return makeAPIError(http.StatusBadRequest, "missing_required", ErrCodeMissingRequired, errors.New("file is required"))
	case errors.Is(err, saves.ErrInvalidInput) && errors.Is(err, models.ErrInvalidFilename):
		return badRequestCode(errors.New(saves.CauseMessage(err)), ErrCodeInvalidFilename)
	case errors.Is(err, saves.ErrInvalidInput):
		return badRequestCode(errors.New(saves.CauseMessage(err)), ErrCodeInvalidGameID)
	case errors.As(err, &readErr):
		return badRequestCode(errors.New("upload interrupted before completion"), ErrCodeUploadAborted)
	case errors.Is(err, saves.ErrNotFound):
		return makeAPIError(http.StatusNotFound, "not_found", ErrCodeSaveNotFound, errors.New("save not found"))
	case errors.Is(err, saves.ErrCorruptState):
		return makeAPIError(http.StatusConflict, "corrupt_state", ErrCodeCorruptState,
			errors.New("save metadata exists but its file is missing or unreadable"))
	default:
		return storeFailure(err)
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorReq(w, r, httpStatusFromError(err), err)
}

func (s *Server) writeSaveError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeServiceError(w, r, saveError(err))
}
