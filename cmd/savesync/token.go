package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"savesync/internal/auth"
	"savesync/internal/config"
	"savesync/internal/store"
)

func newTokenCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage bearer tokens",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "token database path (defaults to the sqlite token_source)")

	cmd.AddCommand(newTokenIssueCmd(cfg, &dbPath, jsonOutput))
	cmd.AddCommand(newTokenListCmd(cfg, &dbPath, jsonOutput))
	cmd.AddCommand(newTokenRevokeCmd(cfg, &dbPath, jsonOutput))
	cmd.AddCommand(newTokenStatusCmd(cfg, &dbPath, jsonOutput))
	cmd.AddCommand(newTokenHashCmd(jsonOutput))
	cmd.AddCommand(newTokenSignCmd(cfg, jsonOutput))
	return cmd
}

// tokenDBPath picks --db, else the path of a sqlite token_source.
func tokenDBPath(cfg *config.Config, flagPath string) (string, error) {
	if path := strings.TrimSpace(flagPath); path != "" {
		return path, nil
	}
	kind, path, err := config.ParseTokenSource(cfg.TokenSource)
	if err != nil {
		return "", err
	}
	if kind != config.TokenSourceSQLite {
		return "", fmt.Errorf("token_source is %q; pass --db or use a sqlite: token source", cfg.TokenSource)
	}
	return path, nil
}

func withTokenStore(cfg *config.Config, flagPath string, fn func(*store.Store) error) error {
	path, err := tokenDBPath(cfg, flagPath)
	if err != nil {
		return err
	}
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func newTokenIssueCmd(cfg *config.Config, dbPath *string, jsonOutput *bool) *cobra.Command {
	var label string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "issue <user>",
		Short: "Issue a new token for a user",
		Args:  requireExactlyArgs(1, "user is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTokenStore(cfg, *dbPath, func(st *store.Store) error {
				issued, err := st.IssueToken(cmd.Context(), args[0], label, ttl, time.Now())
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(issued)
				}
				if err := writePlain("issued %s for %s\n", issued.ID, issued.UserID); err != nil {
					return err
				}
				return writePlain("%s\n", issued.Plaintext)
			})
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "free-form label, e.g. the device name")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (0 means no expiry)")
	return cmd
}

func newTokenListCmd(cfg *config.Config, dbPath *string, jsonOutput *bool) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issued tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTokenStore(cfg, *dbPath, func(st *store.Store) error {
				tokens, err := st.ListTokens(cmd.Context(), user)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(map[string]any{"count": len(tokens), "tokens": tokens})
				}
				if len(tokens) == 0 {
					return writePlain("no tokens issued\n")
				}
				if err := writePlain("ID\tUSER\tSTATUS\tCREATED\tEXPIRES\tLABEL\n"); err != nil {
					return err
				}
				now := time.Now()
				for _, token := range tokens {
					if err := writePlain("%s\n", formatTokenLine(token, now)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "only list tokens of this user")
	return cmd
}

func newTokenRevokeCmd(cfg *config.Config, dbPath *string, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <token-id>",
		Short: "Revoke one token",
		Args:  requireExactlyArgs(1, "token id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTokenStore(cfg, *dbPath, func(st *store.Store) error {
				revoked, err := st.RevokeToken(cmd.Context(), args[0], time.Now())
				if err != nil {
					return err
				}
				if !revoked {
					return fmt.Errorf("no active token with id %s", args[0])
				}
				if *jsonOutput {
					return writeJSON(map[string]any{"id": args[0], "revoked": true})
				}
				return writePlain("revoked %s\n", args[0])
			})
		},
	}
}

func newTokenStatusCmd(cfg *config.Config, dbPath *string, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show token database schema and token counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTokenStore(cfg, *dbPath, func(st *store.Store) error {
				status, err := st.MigrationStatus()
				if err != nil {
					return fmt.Errorf("inspect migrations: %w", err)
				}
				active, err := st.CountActiveTokens(cmd.Context())
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(map[string]any{"migrations": status, "active_tokens": active})
				}
				if err := writePlain("Schema version: %d/%d\n", status.CurrentVersion, status.AvailableVersion); err != nil {
					return err
				}
				return writePlain("Active tokens: %d\n", active)
			})
		},
	}
}

// newTokenHashCmd prints a token file entry. The token is read from stdin, or
// generated with --generate.
func newTokenHashCmd(jsonOutput *bool) *cobra.Command {
	var user string
	var generate bool

	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Hash a token for the YAML token file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if generate {
				generated, err := auth.GenerateToken()
				if err != nil {
					return err
				}
				token = generated
			} else {
				read, err := readTokenLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
				token = read
			}

			hashed, err := auth.HashToken(token)
			if err != nil {
				return err
			}

			entry := auth.TokenEntry{User: strings.TrimSpace(user), TokenHash: hashed}
			if *jsonOutput {
				payload := map[string]any{"user": entry.User, "token_hash": entry.TokenHash}
				if generate {
					payload["token"] = token
				}
				return writeJSON(payload)
			}
			if generate {
				fmt.Fprintf(os.Stderr, "token: %s\n", token)
			}
			if entry.User == "" {
				return writePlain("%s\n", hashed)
			}
			out, err := yaml.Marshal(auth.TokenFile{Tokens: []auth.TokenEntry{entry}})
			if err != nil {
				return err
			}
			return writePlain("%s", out)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "print a complete token file entry for this user")
	cmd.Flags().BoolVar(&generate, "generate", false, "generate a random token instead of reading stdin")
	return cmd
}

func newTokenSignCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "sign <user>",
		Short: "Sign a token for the jwt token source",
		Args:  requireExactlyArgs(1, "user is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
			if err != nil {
				return err
			}
			now := time.Now()
			token, err := signer.Sign(args[0], ttl, now)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return writeJSON(map[string]any{
					"user":       strings.TrimSpace(args[0]),
					"token":      token,
					"expires_at": now.Add(ttl).UTC(),
				})
			}
			return writePlain("%s\n", token)
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}

func readTokenLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return "", fmt.Errorf("no token on stdin")
	}
	return token, nil
}
