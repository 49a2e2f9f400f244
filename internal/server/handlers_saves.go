package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"savesync/internal/models"
	"savesync/internal/saves"
)

const (
	filenameHeader       = "X-Filename"
	maxFilenameFieldSize = 1 << 10
	octetStream          = "application/octet-stream"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, true)
}

func (s *Server) handleGetMeta(w http.ResponseWriter, r *http.Request) {
	record, err := s.saves.GetMetadata(r.Context(), r.Header.Get("Authorization"), r.PathValue("game_id"))
	if err != nil {
		s.writeSaveError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	dl, err := s.saves.DownloadFile(r.Context(), r.Header.Get("Authorization"), r.PathValue("game_id"))
	if err != nil {
		s.writeSaveError(w, r, err)
		return
	}
	defer dl.Body.Close()

	h := w.Header()
	if dl.Record.SHA256 != "" {
		etag := `"` + dl.Record.SHA256 + `"`
		h.Set("ETag", etag)
		if etagMatches(r.Header.Get("If-None-Match"), etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	h.Set("Content-Type", octetStream)
	h.Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	h.Set("Content-Disposition", contentDisposition(dl.Record.Filename))
	if dl.Record.UpdatedAt > 0 {
		h.Set("Last-Modified", dl.Record.UpdatedTime().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}

	if n, err := io.Copy(w, dl.Body); err != nil {
		s.log().Warn("download interrupted", "path", r.URL.Path, "bytes", n, "size", dl.Size, "error", err)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.acquireLimiter(s.uploadLimiter, w, r, "upload") {
		return
	}
	defer s.releaseLimiter(s.uploadLimiter)

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	authorization := r.Header.Get("Authorization")
	gameID := r.PathValue("game_id")

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var record models.SaveRecord
	var err error
	if mediaType == "multipart/form-data" {
		record, err = s.uploadMultipart(r, authorization, gameID)
	} else {
		upload := saves.Upload{
			Filename:     firstNonEmpty(r.URL.Query().Get("filename"), r.Header.Get(filenameHeader)),
			Body:         bodyReader{r: r.Body},
			DeclaredSize: r.ContentLength,
		}
		if r.ContentLength == 0 && mediaType == "" {
			upload.Body = nil
		}
		record, err = s.saves.UploadFile(r.Context(), authorization, gameID, upload)
	}
	if err != nil {
		s.writeSaveError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, record)
}

// uploadMultipart streams the "file" part straight into the service. A
// "filename" field sent before the file part overrides the part's own
// filename parameter. Parts after the file are ignored.
func (s *Server) uploadMultipart(r *http.Request, authorization, gameID string) (models.SaveRecord, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return models.SaveRecord{}, classifyMultipartError(err)
	}

	var override string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return models.SaveRecord{}, bodyReadError{err: err}
		}

		switch part.FormName() {
		case "filename":
			// Longer values are cut here and rejected as too long by the
			// service once the caller is authenticated.
			value, err := io.ReadAll(io.LimitReader(part, maxFilenameFieldSize))
			_ = part.Close()
			if err != nil {
				return models.SaveRecord{}, bodyReadError{err: err}
			}
			override = string(value)
		case "file":
			defer part.Close()
			return s.saves.UploadFile(r.Context(), authorization, gameID, saves.Upload{
				Filename:     firstNonEmpty(override, rawPartFilename(part.Header.Get("Content-Disposition"))),
				Body:         bodyReader{r: part},
				DeclaredSize: -1,
			})
		default:
			_ = part.Close()
		}
	}

	return s.saves.UploadFile(r.Context(), authorization, gameID, saves.Upload{Filename: override})
}

// rawPartFilename returns the filename parameter exactly as sent. The
// multipart package's FileName strips directories, which would hide names
// that must be rejected.
func rawPartFilename(disposition string) string {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func contentDisposition(filename string) string {
	if value := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); value != "" {
		return value
	}
	return "attachment"
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

func classifyMultipartError(err error) error {
	if err == nil {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return saveError(err)
	}
	return badRequestCode(fmt.Errorf("invalid multipart body: %w", err), ErrCodeInvalidArgument)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

