package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const (
	maxGameIDLength   = 128
	maxUserIDLength   = 128
	maxFilenameLength = 255
)

var (
	// ErrInvalidKey marks validation failures for game ids and user ids.
	ErrInvalidKey = errors.New("invalid key")
	// ErrInvalidFilename marks an unusable uploader filename.
	ErrInvalidFilename = errors.New("invalid filename")
)

var gameIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ParseGameID validates a game identifier for use as a storage key component.
// Path separators, traversal sequences and leading dots are rejected.
func ParseGameID(raw string) (string, error) {
	gameID := strings.TrimSpace(raw)
	if gameID == "" {
		return "", fmt.Errorf("%w: game_id is required", ErrInvalidKey)
	}
	if len(gameID) > maxGameIDLength {
		return "", fmt.Errorf("%w: game_id too long", ErrInvalidKey)
	}
	if strings.Contains(gameID, "..") || !gameIDPattern.MatchString(gameID) {
		return "", fmt.Errorf("%w: invalid game_id", ErrInvalidKey)
	}
	return gameID, nil
}

// NormalizeUserID checks a user identity returned by an authenticator.
func NormalizeUserID(raw string) (string, error) {
	userID := strings.TrimSpace(raw)
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidKey)
	}
	if len(userID) > maxUserIDLength {
		return "", fmt.Errorf("%w: user id too long", ErrInvalidKey)
	}
	for _, r := range userID {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: user id contains control characters", ErrInvalidKey)
		}
	}
	return userID, nil
}

// ValidateFilename checks an uploader-supplied display name. The name is
// stored in metadata only and never becomes part of a filesystem path.
func ValidateFilename(raw string) (string, error) {
	filename := strings.TrimSpace(raw)
	if filename == "" {
		return "", fmt.Errorf("%w: filename is required", ErrInvalidFilename)
	}
	if len(filename) > maxFilenameLength {
		return "", fmt.Errorf("%w: filename too long", ErrInvalidFilename)
	}
	if filename == "." || filename == ".." {
		return "", fmt.Errorf("%w: invalid filename", ErrInvalidFilename)
	}
	for _, r := range filename {
		if r == '/' || r == '\\' {
			return "", fmt.Errorf("%w: filename must not contain path separators", ErrInvalidFilename)
		}
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: filename contains control characters", ErrInvalidFilename)
		}
	}
	return filename, nil
}

// UserComponent is the canonical storage component for the key's user. User
// ids come from the token directory and may hold any printable character, so
// they are hashed rather than used verbatim.
func (k SaveKey) UserComponent() string {
	sum := sha256.Sum256([]byte(k.UserID))
	return hex.EncodeToString(sum[:16])
}

// GameComponent is the canonical storage component for the key's game.
func (k SaveKey) GameComponent() string {
	return k.GameID
}

// StoragePrefix is the slash-separated namespace holding the key's blob and
// metadata, e.g. "saves/<user-component>/<game_id>". It is built from
// validated components only.
func (k SaveKey) StoragePrefix() string {
	return "saves/" + k.UserComponent() + "/" + k.GameComponent()
}

// Valid reports whether the key passed validation.
func (k SaveKey) Valid() bool {
	if _, err := NormalizeUserID(k.UserID); err != nil {
		return false
	}
	if _, err := ParseGameID(k.GameID); err != nil {
		return false
	}
	return true
}
