package auth

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TokenFile is the on-disk shape of a YAML token directory:
//
//	tokens:
//	  - user: ichi
//	    token: token1
//	  - user: steffo
//	    token_hash: $2a$10$...
type TokenFile struct {
	Tokens []TokenEntry `yaml:"tokens"`
}

// TokenEntry maps one token to one user. Exactly one of Token or TokenHash is set.
type TokenEntry struct {
	User      string `yaml:"user"`
	Token     string `yaml:"token,omitempty"`
	TokenHash string `yaml:"token_hash,omitempty"`
}

type hashedEntry struct {
	user string
	hash string
}

// FileDirectory resolves tokens listed in a YAML token file. Plaintext entries
// are matched by map lookup, bcrypt entries by comparison.
type FileDirectory struct {
	plain  map[string]string
	hashed []hashedEntry
}

// LoadFileDirectory reads and validates a YAML token file.
func LoadFileDirectory(path string) (*FileDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	return ParseFileDirectory(data)
}

// ParseFileDirectory builds a directory from YAML token file contents.
func ParseFileDirectory(data []byte) (*FileDirectory, error) {
	var file TokenFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}

	dir := &FileDirectory{plain: map[string]string{}}
	for i, entry := range file.Tokens {
		user := strings.TrimSpace(entry.User)
		if user == "" {
			return nil, fmt.Errorf("token entry %d: user is required", i)
		}
		hasToken := entry.Token != ""
		hasHash := strings.TrimSpace(entry.TokenHash) != ""
		switch {
		case hasToken && hasHash:
			return nil, fmt.Errorf("token entry %d: set token or token_hash, not both", i)
		case hasToken:
			if prev, ok := dir.plain[entry.Token]; ok && prev != user {
				return nil, fmt.Errorf("token entry %d: token already assigned to another user", i)
			}
			dir.plain[entry.Token] = user
		case hasHash:
			dir.hashed = append(dir.hashed, hashedEntry{user: user, hash: strings.TrimSpace(entry.TokenHash)})
		default:
			return nil, fmt.Errorf("token entry %d: token or token_hash is required", i)
		}
	}
	return dir, nil
}

// Len returns the number of configured tokens.
func (d *FileDirectory) Len() int {
	return len(d.plain) + len(d.hashed)
}

func (d *FileDirectory) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrMalformed
	}
	if user, ok := d.plain[token]; ok {
		return user, nil
	}
	for _, entry := range d.hashed {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if VerifyToken(entry.hash, token) {
			return entry.user, nil
		}
	}
	return "", ErrUnauthorized
}
