package auth

import (
	"errors"
	"strings"
)

const bearerScheme = "Bearer"

var (
	// ErrMalformed means the credentials could not be parsed: missing header,
	// wrong scheme or empty token.
	ErrMalformed = errors.New("malformed credentials")
	// ErrUnauthorized means the credentials parsed but do not map to a user.
	ErrUnauthorized = errors.New("unauthorized")
)

// ParseBearer extracts the token from an Authorization header value. The
// header must be exactly two space-separated parts, the first literally
// "Bearer" and the second non-empty.
func ParseBearer(header string) (string, error) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != bearerScheme || parts[1] == "" {
		return "", ErrMalformed
	}
	return parts[1], nil
}
