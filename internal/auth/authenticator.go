package auth

import (
	"context"
	"fmt"
	"strings"
)

// Authenticator resolves an opaque bearer token to a user id. Implementations
// return ErrMalformed for an empty token and ErrUnauthorized for a token they
// do not know. Resolve has no side effects.
type Authenticator interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// StaticDirectory is an in-memory token → user map. It is read-only after
// construction and safe for concurrent use.
type StaticDirectory struct {
	users map[string]string
}

// NewStaticDirectory copies tokens into a new directory. Blank tokens or users
// are rejected.
func NewStaticDirectory(tokens map[string]string) (*StaticDirectory, error) {
	users := make(map[string]string, len(tokens))
	for token, user := range tokens {
		if strings.TrimSpace(token) == "" {
			return nil, fmt.Errorf("token for user %q is empty", user)
		}
		user = strings.TrimSpace(user)
		if user == "" {
			return nil, fmt.Errorf("user for token is empty")
		}
		users[token] = user
	}
	return &StaticDirectory{users: users}, nil
}

func (d *StaticDirectory) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrMalformed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	user, ok := d.users[token]
	if !ok {
		return "", ErrUnauthorized
	}
	return user, nil
}

// ResolveHeader parses an Authorization header and resolves its token.
func ResolveHeader(ctx context.Context, a Authenticator, header string) (string, error) {
	token, err := ParseBearer(header)
	if err != nil {
		return "", err
	}
	return a.Resolve(ctx, token)
}
