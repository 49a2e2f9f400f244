package api

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// DownloadInfo describes a save fetched with Client.Download.
type DownloadInfo struct {
	Filename string
	Size     int64
	SHA256   string
}
