package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"savesync/internal/auth"
)

var _ auth.Authenticator = (*Store)(nil)

// Token is one issued bearer token. The plaintext is never stored.
type Token struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Label     string     `json:"label,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the token can still authenticate at now.
func (t Token) Active(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	return t.ExpiresAt == nil || t.ExpiresAt.After(now)
}

// IssuedToken pairs the stored row with the plaintext shown once to the admin.
type IssuedToken struct {
	Token
	Plaintext string `json:"token"`
}

// IssueToken creates a random token for userID. A non-positive ttl means the
// token does not expire.
func (s *Store) IssueToken(ctx context.Context, userID, label string, ttl time.Duration, now time.Time) (*IssuedToken, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	plaintext, err := auth.GenerateToken()
	if err != nil {
		return nil, err
	}
	id, err := GenerateID(tokenIDPrefix, func(candidate string) (bool, error) {
		return s.tokenIDExists(ctx, candidate)
	})
	if err != nil {
		return nil, err
	}

	var expiresAt *time.Time
	var expiresRaw any
	if ttl > 0 {
		exp := now.Add(ttl).UTC()
		expiresAt = &exp
		expiresRaw = dbFormatTime(exp)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tokens (id, user_id, token_hash, label, created_at, revoked_at, expires_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?)
	`, id, userID, auth.DigestToken(plaintext), strings.TrimSpace(label), dbFormatTime(now), expiresRaw)
	if err != nil {
		return nil, err
	}

	return &IssuedToken{
		Token: Token{
			ID:        id,
			UserID:    userID,
			Label:     strings.TrimSpace(label),
			CreatedAt: now.UTC(),
			ExpiresAt: expiresAt,
		},
		Plaintext: plaintext,
	}, nil
}

// Resolve implements auth.Authenticator over the tokens table. It performs a
// single read and never writes.
func (s *Store) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", auth.ErrMalformed
	}
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id
		FROM tokens
		WHERE token_hash = ?
		  AND revoked_at IS NULL
		  AND (expires_at IS NULL OR expires_at > ?)
		LIMIT 1
	`, auth.DigestToken(token), dbFormatTime(s.now())).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", auth.ErrUnauthorized
	}
	if err != nil {
		return "", fmt.Errorf("lookup token: %w", err)
	}
	return userID, nil
}

// ListTokens returns all tokens, newest first. An empty userID lists every user.
func (s *Store) ListTokens(ctx context.Context, userID string) ([]Token, error) {
	query := `
		SELECT id, user_id, COALESCE(label, ''), created_at, expires_at, revoked_at
		FROM tokens`
	var args []any
	if userID = strings.TrimSpace(userID); userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make([]Token, 0)
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tokens, nil
}

// RevokeToken marks one token revoked. It reports false when no active token
// has that id.
func (s *Store) RevokeToken(ctx context.Context, id string, now time.Time) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("token id is required")
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE tokens
		SET revoked_at = ?
		WHERE id = ?
		  AND revoked_at IS NULL
	`, dbFormatTime(now), id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CountActiveTokens returns the number of tokens that can authenticate now.
func (s *Store) CountActiveTokens(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM tokens
		WHERE revoked_at IS NULL
		  AND (expires_at IS NULL OR expires_at > ?)
	`, dbFormatTime(s.now())).Scan(&count)
	return count, err
}

func (s *Store) tokenIDExists(ctx context.Context, id string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM tokens WHERE id = ? LIMIT 1", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func scanToken(scanner interface {
	Scan(dest ...any) error
}) (Token, error) {
	var token Token
	var createdAt string
	var expiresAt, revokedAt sql.NullString
	if err := scanner.Scan(&token.ID, &token.UserID, &token.Label, &createdAt, &expiresAt, &revokedAt); err != nil {
		return Token{}, err
	}
	parsed, err := dbParseTime(createdAt)
	if err != nil {
		return Token{}, err
	}
	token.CreatedAt = parsed
	if token.ExpiresAt, err = parseNullableTime(expiresAt); err != nil {
		return Token{}, err
	}
	if token.RevokedAt, err = parseNullableTime(revokedAt); err != nil {
		return Token{}, err
	}
	return token, nil
}

func parseNullableTime(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := dbParseTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
