package server

const (
	// Validation (1xxx)
	ErrCodeInvalidArgument = 1000
	ErrCodeRequestTooLarge = 1002
	ErrCodeInvalidGameID   = 1004
	ErrCodeMissingRequired = 1009
	ErrCodeInvalidToken    = 1015
	ErrCodeInvalidFilename = 1016
	ErrCodeUploadAborted   = 1017

	// Domain state (2xxx)
	ErrCodeSaveNotFound = 2001
	ErrCodeConflict     = 2102
	ErrCodeCorruptState = 2103

	// Auth & limits (3xxx)
	ErrCodeUnauthorized      = 3001
	ErrCodeForbidden         = 3002
	ErrCodeResourceExhausted = 3003

	// Internal/system (4xxx)
	ErrCodeInternal     = 4001
	ErrCodeStoreFailure = 4002
)

func defaultErrorCodeByStatus(status int) int {
	switch status {
	case 400:
		return ErrCodeInvalidArgument
	case 401:
		return ErrCodeUnauthorized
	case 403:
		return ErrCodeForbidden
	case 404:
		return ErrCodeSaveNotFound
	case 409:
		return ErrCodeConflict
	case 429:
		return ErrCodeResourceExhausted
	case 500:
		return ErrCodeInternal
	default:
		return 0
	}
}
