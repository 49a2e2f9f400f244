package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"savesync/internal/auth"
	"savesync/internal/blobstore"
	"savesync/internal/config"
	"savesync/internal/metastore"
	"savesync/internal/saves"
	"savesync/internal/server"
	"savesync/internal/store"
)

const stagingMaxAge = time.Hour

func newSrvCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "srv",
		Short: "Run the save sync API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg == nil {
				return fmt.Errorf("config not initialized")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := slog.Default().With("component", "server")

			addr, err := server.ListenAddr(cfg.ListenAddress)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			authenticator, closeAuth, err := openAuthenticator(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeAuth()

			logger.Info("opening storage", "root", cfg.StorageRoot, "backend", cfg.Storage.Backend)
			meta, err := metastore.NewFileStore(cfg.StorageRoot)
			if err != nil {
				return err
			}
			blobs, err := openBlobStore(ctx, cfg, logger)
			if err != nil {
				return err
			}

			svc := saves.New(authenticator, meta, blobs, saves.WithLogger(logger))
			srv := server.New(addr, svc, logger, server.Options{
				MaxUploadBytes:       cfg.Uploads.MaxUploadBytes,
				MaxConcurrentUploads: cfg.Uploads.MaxConcurrent,
			})
			return srv.ListenAndServe(ctx)
		},
	}
}

// openAuthenticator builds the token directory named by token_source. The
// returned close func is always safe to call.
func openAuthenticator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.Authenticator, func(), error) {
	noop := func() {}

	kind, path, err := config.ParseTokenSource(cfg.TokenSource)
	if err != nil {
		return nil, noop, err
	}

	switch kind {
	case config.TokenSourceFile:
		dir, err := auth.LoadFileDirectory(path)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("loaded token file", "path", path, "tokens", dir.Len())
		return dir, noop, nil
	case config.TokenSourceSQLite:
		st, err := store.Open(path)
		if err != nil {
			return nil, noop, err
		}
		active, err := st.CountActiveTokens(ctx)
		if err != nil {
			_ = st.Close()
			return nil, noop, fmt.Errorf("count tokens: %w", err)
		}
		logger.Info("opened token database", "path", path, "active_tokens", active)
		return st, func() { _ = st.Close() }, nil
	case config.TokenSourceJWT:
		a, err := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("using signed tokens", "issuer", cfg.Auth.JWTIssuer)
		return a, noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported token_source %q", cfg.TokenSource)
	}
}

func openBlobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blobstore.BlobStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendMinio:
		mc := cfg.Storage.Minio
		ms, err := blobstore.NewMinioStore(ctx, blobstore.MinioConfig{
			Endpoint:  mc.Endpoint,
			AccessKey: mc.AccessKey,
			SecretKey: mc.SecretKey,
			Bucket:    mc.Bucket,
			UseSSL:    mc.UseSSL,
			Region:    mc.Region,
		}, logger)
		if err != nil {
			return nil, err
		}
		removed, err := ms.SweepStaging(ctx, stagingMaxAge, time.Now())
		if err != nil {
			logger.Warn("sweep staging objects", "error", err)
		} else if removed > 0 {
			logger.Info("removed stale staging objects", "count", removed)
		}
		return ms, nil
	default:
		return blobstore.NewLocalStore(cfg.StorageRoot, logger)
	}
}
