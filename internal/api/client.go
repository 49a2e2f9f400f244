package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"savesync/internal/models"
)

const (
	// Whole save files travel through one request, so the default is far
	// above a typical JSON API timeout.
	defaultHTTPTimeout = 5 * time.Minute
	httpTimeoutEnvKey  = "SAVESYNC_HTTP_TIMEOUT"
	tokenEnvKey        = "SAVESYNC_TOKEN"
)

// Client is a small HTTP client for the save sync API.
type Client struct {
	baseURL   string
	http      *http.Client
	authToken string
}

// NewClient creates a new API client. An empty token falls back to
// SAVESYNC_TOKEN.
func NewClient(baseURL, token string) *Client {
	token = strings.TrimSpace(token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv(tokenEnvKey))
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: httpTimeoutFromEnv()},
		authToken: token,
	}
}

// Ping checks whether the API server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/", nil, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	return nil
}

// GetMeta fetches the metadata of the caller's save for gameID.
func (c *Client) GetMeta(ctx context.Context, gameID string) (models.SaveRecord, error) {
	var record models.SaveRecord
	req, err := c.newRequest(ctx, http.MethodGet, savePath(gameID, "meta"), nil, nil)
	if err != nil {
		return record, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return record, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return record, decodeError(resp)
	}
	err = json.NewDecoder(resp.Body).Decode(&record)
	return record, err
}

// Download streams the caller's save for gameID into w. The returned digest
// is computed from the received bytes.
func (c *Client) Download(ctx context.Context, gameID string, w io.Writer) (DownloadInfo, error) {
	var info DownloadInfo
	req, err := c.newRequest(ctx, http.MethodGet, savePath(gameID, "file"), nil, nil)
	if err != nil {
		return info, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return info, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return info, decodeError(resp)
	}

	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		info.Filename = params["filename"]
	}

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, hash), resp.Body)
	if err != nil {
		return info, fmt.Errorf("download %s: %w", gameID, err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return info, fmt.Errorf("download %s: got %d bytes, expected %d", gameID, n, resp.ContentLength)
	}
	info.Size = n
	info.SHA256 = hex.EncodeToString(hash.Sum(nil))
	return info, nil
}

// Upload sends body as the save for gameID under filename. The body is
// streamed as multipart/form-data without buffering it in memory.
func (c *Client) Upload(ctx context.Context, gameID, filename string, body io.Reader) (models.SaveRecord, error) {
	var record models.SaveRecord

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, filename, body))
	}()

	req, err := c.newRequest(ctx, http.MethodPut, savePath(gameID, ""), nil, pr)
	if err != nil {
		pr.Close()
		return record, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		pr.Close()
		return record, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return record, decodeError(resp)
	}
	err = json.NewDecoder(resp.Body).Decode(&record)
	return record, err
}

func writeUploadForm(mw *multipart.Writer, filename string, body io.Reader) error {
	if err := mw.WriteField("filename", filename); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, body); err != nil {
		return err
	}
	return mw.Close()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	c.setAuthHeader(req)
	return req, nil
}

func savePath(gameID, suffix string) string {
	path := "/saves/" + url.PathEscape(gameID)
	if suffix != "" {
		path += "/" + suffix
	}
	return path
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
		apiErr.Code = errResp.Code
		apiErr.ErrorCode = errResp.ErrorCode
		apiErr.Message = errResp.Error
		return apiErr
	}
	apiErr.Message = "api error: " + resp.Status
	return apiErr
}

func (c *Client) setAuthHeader(req *http.Request) {
	if c.authToken == "" || req == nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
}

func httpTimeoutFromEnv() time.Duration {
	value := strings.TrimSpace(os.Getenv(httpTimeoutEnvKey))
	if value == "" {
		return defaultHTTPTimeout
	}

	if duration, err := time.ParseDuration(value); err == nil && duration > 0 {
		return duration
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return defaultHTTPTimeout
}
